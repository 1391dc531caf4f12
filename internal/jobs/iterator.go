// Package jobs holds the scheduled job bodies. Each job discovers the tenants
// with work in one cross-tenant query, then walks them through a
// TenantIterator: scan, resolve, claim, dispatch.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"escalator/internal/types"
)

// DefaultTenantWorkers bounds per-tenant concurrency when no value is
// configured.
const DefaultTenantWorkers = 4

// TenantFunc processes one tenant. A returned error is recorded on the
// tenant's result; it never stops the other tenants.
type TenantFunc func(ctx context.Context, tenantID string) (types.TenantResult, error)

// TenantIterator runs a TenantFunc over a tenant list with a bounded pool.
type TenantIterator struct {
	workers int
	logger  *slog.Logger
}

// NewTenantIterator creates a TenantIterator with at most workers tenants in
// flight.
func NewTenantIterator(workers int, logger *slog.Logger) *TenantIterator {
	if workers < 1 {
		workers = DefaultTenantWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantIterator{workers: workers, logger: logger}
}

// Run processes tenants and folds their results into a RunResult in input
// order. Cancellation is checked before each tenant starts; tenants that
// never started are left out of the result and the run is marked
// unsuccessful. The run is also unsuccessful when every tenant failed.
func (it *TenantIterator) Run(ctx context.Context, tenants []string, fn TenantFunc) types.RunResult {
	results := make([]*types.TenantResult, len(tenants))

	// A plain Group: one tenant's error must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(it.workers)

	for i, tenantID := range tenants {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res := it.runTenant(ctx, tenantID, fn)
			results[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	var run types.RunResult
	started, failed := 0, 0
	for _, r := range results {
		if r == nil {
			continue
		}
		started++
		if r.Error != "" {
			failed++
		}
		run.Add(*r)
	}

	cancelled := started < len(tenants)
	if cancelled {
		it.logger.WarnContext(ctx, "tenant iteration cancelled",
			"started", started,
			"total", len(tenants),
		)
	}
	run.Success = !cancelled && (started == 0 || failed < started)
	return run
}

func (it *TenantIterator) runTenant(ctx context.Context, tenantID string, fn TenantFunc) (res types.TenantResult) {
	ctx = types.WithTenantID(ctx, tenantID)
	defer func() {
		if r := recover(); r != nil {
			it.logger.ErrorContext(ctx, "tenant processing panicked",
				"tenant_id", tenantID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			res.TenantID = tenantID
			res.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	res, err := fn(ctx, tenantID)
	res.TenantID = tenantID
	if err != nil {
		it.logger.ErrorContext(ctx, "tenant processing failed",
			"tenant_id", tenantID,
			"error", err,
		)
		res.Error = err.Error()
	}
	return res
}
