package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout bounds read endpoints. Manual job runs detach from it.
const defaultRequestTimeout = 30 * time.Second

var defaultRedactedHeaders = []string{
	"Authorization",
	"X-Api-Key",
}

// MountRoutes registers the middleware chain, the /v1 group and /health.
//
// Ordering:
//  1. Recoverer       outermost so every panic becomes a 500 envelope.
//  2. ContextTimeout
//  3. RequestID       before logging so every log line carries it.
//  4. RequestLogger
//  5. APIKey          /health stays public.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(s.APIKeyMiddleware)

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})
	s.router.Get("/health", s.HandleHealth)
}
