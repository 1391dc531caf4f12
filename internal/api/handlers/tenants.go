package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"escalator/internal/core"
	"escalator/internal/escalation"
	"escalator/internal/types"
)

// SummaryReader builds a tenant's dunning summary.
type SummaryReader interface {
	Summary(ctx context.Context, tenantID string) (types.DunningSummary, error)
}

// PolicyAdmin reads and updates effective tenant policies. Satisfied by
// *escalation.PolicyCache.
type PolicyAdmin interface {
	For(ctx context.Context, tenantID string, kind types.EntityKind) (*escalation.Policy, error)
	SetOverrides(ctx context.Context, tenantID string, kind types.EntityKind, offsets map[int]int) (*escalation.Policy, error)
}

// AttemptReader lists the dispatch audit trail of one entity.
type AttemptReader interface {
	ListByEntity(ctx context.Context, tenantID string, kind types.EntityKind, entityID string) ([]types.DispatchAttempt, error)
}

// PutOverridesRequest replaces a tenant's level offsets. Keys are level
// numbers; an empty map restores the base ladder.
type PutOverridesRequest struct {
	Offsets map[string]int `json:"offsets" validate:"required,max=16,dive,keys,numeric,endkeys,min=-365,max=365"`
}

// PolicyResponse is the effective ladder of one tenant and entity kind.
type PolicyResponse struct {
	TenantID string             `json:"tenant_id"`
	Kind     types.EntityKind   `json:"kind"`
	Levels   []escalation.Level `json:"levels"`
}

// TenantHandler serves /v1/tenants/{tenantID}.
type TenantHandler struct {
	summaries SummaryReader
	policies  PolicyAdmin
	attempts  AttemptReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewTenantHandler creates a TenantHandler. attempts may be nil, in which case
// the attempts route is not mounted.
func NewTenantHandler(summaries SummaryReader, policies PolicyAdmin, attempts AttemptReader, v *core.Validator, l *slog.Logger) *TenantHandler {
	if v == nil {
		v = core.NewValidator()
	}
	if l == nil {
		l = slog.Default()
	}
	return &TenantHandler{
		summaries: summaries,
		policies:  policies,
		attempts:  attempts,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the tenant routes on the /v1/tenants/{tenantID}
// sub-router.
func (h *TenantHandler) RegisterRoutes(r chi.Router) {
	r.Get("/dunning-summary", h.DunningSummary)
	r.Get("/policies/{kind}", h.GetPolicy)
	r.Put("/policies/{kind}", h.PutPolicy)
	if h.attempts != nil {
		r.Get("/entities/{kind}/{entityID}/attempts", h.ListAttempts)
	}
}

// DunningSummary returns open invoice counts per level.
func (h *TenantHandler) DunningSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summaries.Summary(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: summary})
}

// GetPolicy returns the tenant's effective ladder for a kind.
func (h *TenantHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	p, err := h.policies.For(r.Context(), tenantID, kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PolicyResponse{TenantID: tenantID, Kind: kind, Levels: p.Levels()}})
}

// PutPolicy replaces the tenant's invoice offset overrides. An override set
// that breaks the ladder ordering, or moves level 1 before the lookahead, is
// rejected with 400 and nothing is stored. Appointment reminders are picked
// by time window rather than offset, so their ladder is read-only.
func (h *TenantHandler) PutPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if kind != types.EntityInvoice {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue,
			"only invoice policies accept offset overrides", nil, map[string]any{"kind": string(kind)}))
		return
	}

	var req PutOverridesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	offsets := make(map[int]int, len(req.Offsets))
	for k, v := range req.Offsets {
		lv, err := strconv.Atoi(k)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidOffset,
				"override keys must be level numbers", err, map[string]any{"key": k}))
			return
		}
		offsets[lv] = v
	}

	p, err := h.policies.SetOverrides(r.Context(), tenantID, kind, offsets)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConfigPolicyInvalid {
			err = types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidOffset, appErr.Message, err, appErr.Details)
		}
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "policy overrides updated",
		"tenant_id", tenantID,
		"kind", kind,
		"policy", p.String(),
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PolicyResponse{TenantID: tenantID, Kind: kind, Levels: p.Levels()}})
}

// ListAttempts returns the dispatch audit trail for one entity.
func (h *TenantHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	kind, err := parseKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	attempts, err := h.attempts.ListByEntity(r.Context(), chi.URLParam(r, "tenantID"), kind, chi.URLParam(r, "entityID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: attempts})
}

func parseKind(s string) (types.EntityKind, error) {
	switch k := types.EntityKind(s); k {
	case types.EntityInvoice, types.EntityAppointment:
		return k, nil
	}
	return "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue,
		"unknown entity kind", nil, map[string]any{"kind": s})
}
