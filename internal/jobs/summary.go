package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

// SummaryStore reads dunning level counts.
type SummaryStore interface {
	// CountOpenByLevel returns the number of open invoices of tenantID at
	// each dunning level, level 0 included.
	CountOpenByLevel(ctx context.Context, tenantID string) (map[int]int, error)
	// TenantsWithOpenInvoices returns every tenant owning an open invoice.
	TenantsWithOpenInvoices(ctx context.Context) ([]string, error)
}

// SummaryService builds DunningSummary values.
type SummaryService struct {
	store SummaryStore
	clock types.Clock
}

// NewSummaryService creates a SummaryService.
func NewSummaryService(store SummaryStore, clock types.Clock) *SummaryService {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &SummaryService{store: store, clock: clock}
}

// Summary returns the tenant's open invoice counts per level.
func (s *SummaryService) Summary(ctx context.Context, tenantID string) (types.DunningSummary, error) {
	if tenantID == "" {
		return types.DunningSummary{}, types.NewAppError(types.ErrCodeValidationMissingField, "tenant id is required", nil)
	}
	levels, err := s.store.CountOpenByLevel(ctx, tenantID)
	if err != nil {
		return types.DunningSummary{}, fmt.Errorf("counting invoices for tenant %s: %w", tenantID, err)
	}
	if levels == nil {
		levels = map[int]int{}
	}
	sum := types.DunningSummary{
		TenantID:    tenantID,
		Levels:      levels,
		GeneratedAt: s.clock.Now(),
	}
	for _, n := range levels {
		sum.Total += n
	}
	return sum, nil
}

// WeeklySummaryJob publishes every tenant's DunningSummary to the operator
// queue.
type WeeklySummaryJob struct {
	store    SummaryStore
	service  *SummaryService
	notifier core.OperatorNotifier
	iterator *TenantIterator
	logger   *slog.Logger
}

// NewWeeklySummaryJob creates a WeeklySummaryJob.
func NewWeeklySummaryJob(store SummaryStore, service *SummaryService, notifier core.OperatorNotifier, iterator *TenantIterator, logger *slog.Logger) *WeeklySummaryJob {
	if logger == nil {
		logger = slog.Default()
	}
	if iterator == nil {
		iterator = NewTenantIterator(DefaultTenantWorkers, logger)
	}
	return &WeeklySummaryJob{
		store:    store,
		service:  service,
		notifier: notifier,
		iterator: iterator,
		logger:   logger.With("job", JobWeeklySummary),
	}
}

// Run is the scheduler.JobFunc for the summary job. Each published summary
// counts as one sent.
func (j *WeeklySummaryJob) Run(ctx context.Context, now time.Time) (types.RunResult, error) {
	tenants, err := j.store.TenantsWithOpenInvoices(ctx)
	if err != nil {
		return types.RunResult{}, fmt.Errorf("listing summary tenants: %w", err)
	}

	return j.iterator.Run(ctx, tenants, func(ctx context.Context, tenantID string) (types.TenantResult, error) {
		tr := types.TenantResult{Attempted: 1}
		sum, err := j.service.Summary(ctx, tenantID)
		if err != nil {
			return tr, err
		}
		alert := types.OperatorAlert{
			Kind:     "dunning_summary",
			TenantID: tenantID,
			Summary:  &sum,
			RaisedAt: now,
		}
		if err := j.notifier.Publish(ctx, alert); err != nil {
			return tr, fmt.Errorf("publishing summary: %w", err)
		}
		tr.Sent++
		return tr, nil
	}), nil
}
