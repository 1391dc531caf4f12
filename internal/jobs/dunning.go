package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"escalator/internal/escalation"
	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

// InvoiceDunningConfig holds the dependencies of an InvoiceDunningJob.
type InvoiceDunningConfig struct {
	Tenants    InvoiceTenantLister
	Policies   PolicySource
	Scanner    InvoiceScanner
	Claimer    Claimer
	Dispatcher Dispatcher
	Iterator   *TenantIterator
	// MaxLevel is the top level of the invoice ladder.
	MaxLevel int
	// LookaheadDays is how far ahead tenants are discovered. Policy overrides
	// cannot move level 1 earlier than this.
	LookaheadDays int
	Location      *time.Location
	Logger        *slog.Logger
}

// InvoiceDunningJob escalates overdue and soon-due invoices one level per
// run.
type InvoiceDunningJob struct {
	cfg    InvoiceDunningConfig
	logger *slog.Logger
}

// NewInvoiceDunningJob creates an InvoiceDunningJob.
func NewInvoiceDunningJob(cfg InvoiceDunningConfig) *InvoiceDunningJob {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Iterator == nil {
		cfg.Iterator = NewTenantIterator(DefaultTenantWorkers, cfg.Logger)
	}
	return &InvoiceDunningJob{cfg: cfg, logger: cfg.Logger.With("job", JobInvoiceDunning)}
}

// Run is the scheduler.JobFunc for the dunning job.
func (j *InvoiceDunningJob) Run(ctx context.Context, now time.Time) (types.RunResult, error) {
	local := now.In(j.cfg.Location)
	y, m, d := local.Date()
	horizon := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, j.cfg.LookaheadDays)

	tenants, err := j.cfg.Tenants.TenantsWithDunningCandidates(ctx, j.cfg.MaxLevel, horizon)
	if err != nil {
		return types.RunResult{}, fmt.Errorf("listing dunning tenants: %w", err)
	}
	j.logger.InfoContext(ctx, "dunning pass starting",
		"tenants", len(tenants),
		"due_on_or_before", horizon.Format(time.DateOnly),
	)

	return j.cfg.Iterator.Run(ctx, tenants, func(ctx context.Context, tenantID string) (types.TenantResult, error) {
		return j.processTenant(ctx, tenantID, now)
	}), nil
}

func (j *InvoiceDunningJob) processTenant(ctx context.Context, tenantID string, now time.Time) (types.TenantResult, error) {
	var tr types.TenantResult

	// A broken policy blocks the tenant rather than guessing a level.
	policy, err := j.cfg.Policies.For(ctx, tenantID, types.EntityInvoice)
	if err != nil {
		return tr, fmt.Errorf("loading invoice policy: %w", err)
	}

	invoices, err := j.cfg.Scanner.ScanInvoices(ctx, tenantID, policy, now)
	if err != nil {
		return tr, err
	}

	for _, inv := range invoices {
		if ctx.Err() != nil {
			break
		}
		offset := escalation.OffsetDays(inv.DueDate, now, j.cfg.Location)
		target, ok := policy.Decide(inv.DunningLevel, offset)
		if !ok {
			continue
		}
		level, _ := policy.Level(target)

		req := core.DispatchRequest{
			TenantID:   tenantID,
			Kind:       types.EntityInvoice,
			EntityID:   inv.ID,
			Level:      level,
			Recipients: inv.Recipients(),
			Context:    invoiceContext(inv, offset, target),
		}
		claim := func(ctx context.Context) (bool, error) {
			return j.cfg.Claimer.TryClaimLevel(ctx, tenantID, inv.ID, target)
		}
		escalate(ctx, j.logger, claim, j.cfg.Dispatcher, req, &tr)
	}

	j.logger.InfoContext(ctx, "dunning tenant processed",
		"tenant_id", tenantID,
		"candidates", len(invoices),
		"attempted", tr.Attempted,
		"sent", tr.Sent,
		"failed", tr.Failed,
		"skipped", tr.Skipped,
	)
	return tr, nil
}

func invoiceContext(inv types.Invoice, offsetDays, level int) map[string]any {
	return map[string]any{
		"invoice_number": inv.Number,
		"customer_name":  inv.CustomerName,
		"amount_due":     inv.AmountDue.StringFixed(2),
		"currency":       inv.Currency,
		"due_date":       inv.DueDate.Format(time.DateOnly),
		"days_overdue":   offsetDays,
		"level":          level,
	}
}
