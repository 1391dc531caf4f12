package jobs

import (
	"context"
	"log/slog"

	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

type claimFunc func(ctx context.Context) (bool, error)

// escalate claims one step and, when the claim is won, dispatches it. Claim
// and dispatch share a context detached from cancellation so that shutdown
// never leaves an entity claimed but undispatched. The outcome is folded into
// tr: a lost claim is skipped, a claim error or a dispatch with no
// successful channel is failed.
func escalate(ctx context.Context, logger *slog.Logger, claim claimFunc, d Dispatcher, req core.DispatchRequest, tr *types.TenantResult) {
	tr.Attempted++
	dctx := context.WithoutCancel(ctx)

	claimed, err := claim(dctx)
	if err != nil {
		// Never claimed, so the entity stays eligible for the next tick.
		logger.ErrorContext(ctx, "failed to claim escalation step",
			"tenant_id", req.TenantID,
			"entity_id", req.EntityID,
			"step", req.Level.Level,
			"error", err,
		)
		tr.Failed++
		return
	}
	if !claimed {
		tr.Skipped++
		return
	}

	attempt, err := d.Dispatch(dctx, req)
	if err != nil {
		logger.ErrorContext(ctx, "dispatch attempt not recorded",
			"tenant_id", req.TenantID,
			"entity_id", req.EntityID,
			"step", req.Level.Level,
			"error", err,
		)
	}
	if attempt != nil && attempt.Success {
		tr.Sent++
		return
	}
	tr.Failed++
}
