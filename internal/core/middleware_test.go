package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"escalator/internal/config"
	"escalator/internal/types"
)

func newTestServer(t *testing.T, logs *bytes.Buffer) *Server {
	t.Helper()
	cfg := &config.Config{Environment: "local"}
	cfg.Admin.APIKey = "admin-secret"
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	srv, err := NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			JSON(w, r, http.StatusOK, APIResponse{Data: types.GetRequestID(r.Context())})
		})
		r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})
	srv.MountRoutes()
	return srv
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	if _, err := NewServer(nil, slog.Default()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})

	tests := []struct {
		name   string
		header string
		value  string
		status int
		code   string
	}{
		{"missing", "", "", http.StatusUnauthorized, "auth_token_missing"},
		{"wrong bearer", "Authorization", "Bearer nope", http.StatusUnauthorized, "auth_token_invalid"},
		{"bearer", "Authorization", "Bearer admin-secret", http.StatusOK, ""},
		{"lowercase scheme", "Authorization", "bearer admin-secret", http.StatusOK, ""},
		{"x-api-key", "X-Api-Key", "admin-secret", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			if tt.code != "" {
				var body APIErrorResponse
				_ = json.Unmarshal(w.Body.Bytes(), &body)
				if body.Error.Code != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, body.Error.Code)
				}
			}
		})
	}
}

func TestAPIKeyMiddleware_NoKeyConfiguredRejects(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})
	srv.Config.Admin.APIKey = ""

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-Api-Key", "anything")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestHealth_IsPublic(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequestID_PropagatedAndGenerated(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-Api-Key", "admin-secret")
	req.Header.Set("X-Request-Id", "caller-id")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Errorf("expected propagated id, got %q", got)
	}
	if !strings.Contains(w.Body.String(), "caller-id") {
		t.Errorf("request id not in context: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-Api-Key", "admin-secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("expected a generated request id")
	}
}

func TestRecoverer(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	req := httptest.NewRequest(http.MethodGet, "/v1/panic", nil)
	req.Header.Set("X-Api-Key", "admin-secret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body APIErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("recovered body is not JSON: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("unexpected code %s", body.Error.Code)
	}
	if !strings.Contains(logs.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestRequestLogger_RedactsHeaders(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("X-Api-Key", "admin-secret")
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(logs.String(), "admin-secret") {
		t.Errorf("API key leaked into logs: %s", logs.String())
	}
	if !strings.Contains(logs.String(), "[REDACTED]") {
		t.Errorf("expected redaction marker in logs: %s", logs.String())
	}
}

func TestEscapeJSON(t *testing.T) {
	got := escapeJSON("a\"b\\c\n")
	if got != `a\"b\\c\n` {
		t.Errorf("unexpected escape %q", got)
	}
}
