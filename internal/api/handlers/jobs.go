// Package handlers contains the operator HTTP handlers: job listing, manual
// triggers and run history, and per-tenant dunning and policy views.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"escalator/internal/core"
	"escalator/internal/scheduler"
	"escalator/internal/types"
)

// JobCatalog lists registered jobs. Satisfied by *scheduler.Registry.
type JobCatalog interface {
	Status() []scheduler.JobStatus
}

// JobTrigger runs a job out of schedule. Satisfied by *scheduler.TickDriver.
type JobTrigger interface {
	RunNow(ctx context.Context, name string, now time.Time) (types.RunResult, error)
}

// RunHistory reads persisted runs.
type RunHistory interface {
	Recent(ctx context.Context, job string, limit int) ([]types.RunRecord, error)
}

// RunJobRequest is the optional body of POST /v1/jobs/{name}/run.
type RunJobRequest struct {
	// ReferenceTime replaces "now" for the job body, e.g. to replay a missed
	// dunning day.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// RunJobResponse carries the run summary. Error is set when the job body
// failed after it started.
type RunJobResponse struct {
	Result types.RunResult `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// JobHandler serves /v1/jobs.
type JobHandler struct {
	catalog JobCatalog
	trigger JobTrigger
	history RunHistory
	clock   types.Clock
	logger  *slog.Logger
}

// NewJobHandler creates a JobHandler. history may be nil when runs are not
// persisted; the history endpoint then answers with an empty list.
func NewJobHandler(catalog JobCatalog, trigger JobTrigger, history RunHistory, clock types.Clock, l *slog.Logger) *JobHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &JobHandler{
		catalog: catalog,
		trigger: trigger,
		history: history,
		clock:   clock,
		logger:  l,
	}
}

// RegisterRoutes mounts the job routes on r, which is expected to be the
// /v1/jobs sub-router.
func (h *JobHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/{name}/run", h.Run)
	r.Get("/{name}/history", h.History)
}

// List returns every registered job with its schedule, marker and last result.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.catalog.Status()})
}

// Run triggers a job synchronously and returns its RunResult. The run is
// detached from the request deadline so that a slow client cannot cut a
// half-dispatched tenant short.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req RunJobRequest
	if r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
	}
	now := h.clock.Now()
	if req.ReferenceTime != nil {
		now = *req.ReferenceTime
	}

	h.logger.InfoContext(r.Context(), "manual job trigger",
		"job", name,
		"reference_time", now.Format(time.RFC3339),
		"request_id", types.GetRequestID(r.Context()),
	)

	result, err := h.trigger.RunNow(context.WithoutCancel(r.Context()), name, now)
	if err != nil && result.RunID == "" {
		core.Error(w, r, err)
		return
	}

	resp := RunJobResponse{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// History returns the newest persisted runs of a job. ?limit= caps the count
// (default 20, max 100).
func (h *JobHandler) History(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.known(name) {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundJob, "job "+strconv.Quote(name)+" is not registered", nil))
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue,
				"limit must be an integer between 1 and 100", nil, map[string]any{"limit": raw}))
			return
		}
		limit = n
	}

	runs := []types.RunRecord{}
	if h.history != nil {
		var err error
		runs, err = h.history.Recent(r.Context(), name, limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to read job history", "job", name, "error", err)
			core.Error(w, r, err)
			return
		}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: runs})
}

func (h *JobHandler) known(name string) bool {
	for _, s := range h.catalog.Status() {
		if s.Name == name {
			return true
		}
	}
	return false
}
