package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"escalator/internal/types"
)

// DefaultTickInterval is the reference polling interval.
const DefaultTickInterval = 60 * time.Second

// PeriodClaimer persists a "claim row per job per period" so that only one
// scheduler instance runs a job for a given period.
type PeriodClaimer interface {
	Claim(ctx context.Context, job, period, workerID string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, job, period string) error
}

// RunRecorder persists job run history.
type RunRecorder interface {
	Start(ctx context.Context, job, runID string) (int64, error)
	Finish(ctx context.Context, id int64, result types.RunResult, runErr error) error
}

// RunObserver receives every finished run, e.g. to emit metrics.
type RunObserver interface {
	ObserveRun(ctx context.Context, result types.RunResult)
}

// Options configures a TickDriver. Zero values fall back to defaults; Claims,
// History and Observer are optional.
type Options struct {
	Interval time.Duration
	Location *time.Location
	Clock    types.Clock
	WorkerID string
	Claims   PeriodClaimer
	ClaimTTL time.Duration
	History  RunRecorder
	Observer RunObserver
	Logger   *slog.Logger
}

// TickDriver evaluates every registered job on each tick and starts the due
// ones. It is the only writer of the registry's markers.
type TickDriver struct {
	registry *Registry
	interval time.Duration
	loc      *time.Location
	clock    types.Clock
	workerID string
	claims   PeriodClaimer
	claimTTL time.Duration
	history  RunRecorder
	observer RunObserver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loopWG sync.WaitGroup
	jobsWG sync.WaitGroup

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
}

// NewTickDriver creates a TickDriver over registry.
func NewTickDriver(registry *Registry, opts Options) *TickDriver {
	if opts.Interval <= 0 {
		opts.Interval = DefaultTickInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = types.RealClock{}
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TickDriver{
		registry: registry,
		interval: opts.Interval,
		loc:      opts.Location,
		clock:    opts.Clock,
		workerID: opts.WorkerID,
		claims:   opts.Claims,
		claimTTL: opts.ClaimTTL,
		history:  opts.History,
		observer: opts.Observer,
		logger:   opts.Logger,
	}
}

// Start begins the tick loop. The first tick fires immediately.
func (d *TickDriver) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.loopWG.Add(1)
	go d.run()
	d.logger.InfoContext(ctx, "tick driver started",
		"interval", d.interval.String(),
		"timezone", d.loc.String(),
		"worker_id", d.workerID,
		"jobs", d.registry.Names(),
	)
}

// Stop cancels the loop and in-flight job bodies, then waits for them. Job
// bodies observe the cancellation between tenants.
func (d *TickDriver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.loopWG.Wait()
	d.jobsWG.Wait()
	d.logger.Info("tick driver stopped", "ticks", d.Ticks())
}

// Wait blocks until every job started so far has returned.
func (d *TickDriver) Wait() {
	d.jobsWG.Wait()
}

// Ticks returns the number of ticks since Start.
func (d *TickDriver) Ticks() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticksSinceStart
}

// LastTickAt returns the time of the most recent loop tick.
func (d *TickDriver) LastTickAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTickAt
}

// Registry returns the registry this driver evaluates.
func (d *TickDriver) Registry() *Registry {
	return d.registry
}

func (d *TickDriver) run() {
	defer d.loopWG.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.onTick(d.clock.Now())
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.onTick(d.clock.Now())
		}
	}
}

func (d *TickDriver) onTick(now time.Time) {
	d.mu.Lock()
	d.lastTickAt = now
	d.ticksSinceStart++
	d.mu.Unlock()

	d.Tick(d.ctx, now)
}

// Tick evaluates every job against now and starts the due ones on their own
// goroutine. It returns the names of the jobs it started and never waits for
// a job body. Concurrent calls never start the same job twice: a job that is
// still running is skipped, and the marker is re-checked after the in-flight
// flag is taken.
func (d *TickDriver) Tick(ctx context.Context, now time.Time) []string {
	local := now.In(d.loc)
	var started []string

	for _, e := range d.registry.entries() {
		name := e.job.Name
		if !Due(e.job.Schedule, local, e.getMarker()) {
			continue
		}
		if !e.running.CompareAndSwap(false, true) {
			d.logger.DebugContext(ctx, "job still running, skipping tick", "job", name)
			continue
		}
		if !Due(e.job.Schedule, local, e.getMarker()) {
			e.running.Store(false)
			continue
		}

		period := PeriodKey(e.job.Schedule, local)
		if d.claims != nil {
			claimed, err := d.claims.Claim(ctx, name, period, d.workerID, d.claimTTL)
			if err != nil {
				d.logger.ErrorContext(ctx, "failed to claim job period",
					"job", name,
					"period", period,
					"error", err,
				)
				e.running.Store(false)
				continue
			}
			if !claimed {
				d.logger.InfoContext(ctx, "job period claimed by another instance",
					"job", name,
					"period", period,
				)
				e.setMarker(Marker{Period: period, FiredAt: local})
				e.running.Store(false)
				continue
			}
		}

		d.jobsWG.Add(1)
		go func(e *entry, period string) {
			defer d.jobsWG.Done()
			defer e.running.Store(false)

			d.execute(ctx, e, local, false)

			// The marker moves only after the body returns. A crash mid-body
			// means one extra run, which the progress guard absorbs.
			e.setMarker(Marker{Period: period, FiredAt: local})
			if d.claims != nil {
				if err := d.claims.Complete(context.WithoutCancel(ctx), e.job.Name, period); err != nil {
					d.logger.WarnContext(ctx, "failed to complete job period claim",
						"job", e.job.Name,
						"period", period,
						"error", err,
					)
				}
			}
		}(e, period)
		started = append(started, name)
	}

	return started
}

// RunNow executes a job body immediately, bypassing its schedule predicate.
// The marker is left untouched. It fails with a conflict error if the job is
// already running.
func (d *TickDriver) RunNow(ctx context.Context, name string, now time.Time) (types.RunResult, error) {
	e, ok := d.registry.lookup(name)
	if !ok {
		return types.RunResult{}, types.NewAppError(types.ErrCodeNotFoundJob,
			fmt.Sprintf("job %q is not registered", name), nil)
	}
	if !e.running.CompareAndSwap(false, true) {
		return types.RunResult{}, types.NewAppError(types.ErrCodeConflictJobRunning,
			fmt.Sprintf("job %q is already running", name), nil)
	}
	defer e.running.Store(false)

	d.jobsWG.Add(1)
	defer d.jobsWG.Done()

	return d.execute(ctx, e, now.In(d.loc), true)
}

func (d *TickDriver) execute(ctx context.Context, e *entry, now time.Time, manual bool) (types.RunResult, error) {
	name := e.job.Name
	runID := uuid.NewString()
	ctx = types.WithRunID(ctx, runID)
	logger := d.logger.With("job", name, "run_id", runID)

	var historyID int64
	if d.history != nil {
		id, err := d.history.Start(ctx, name, runID)
		if err != nil {
			// Non-fatal: the run proceeds without a history row.
			logger.WarnContext(ctx, "failed to start job history", "error", err)
		}
		historyID = id
	}

	logger.InfoContext(ctx, "job started",
		"reference_time", now.Format(time.RFC3339),
		"manual", manual,
	)

	startedAt := d.clock.Now()
	result, err := safeRun(ctx, e.job.Run, now)
	result.Job = name
	result.RunID = runID
	result.Manual = manual
	result.StartedAt = startedAt
	result.FinishedAt = d.clock.Now()
	if err != nil {
		result.Success = false
		logger.ErrorContext(ctx, "job failed",
			"error", err,
			"sent", result.Sent,
			"errors", result.Errors,
		)
	} else {
		logger.InfoContext(ctx, "job finished",
			"success", result.Success,
			"sent", result.Sent,
			"errors", result.Errors,
			"skipped", result.Skipped,
			"tenants", len(result.Tenants),
			"duration_ms", result.FinishedAt.Sub(startedAt).Milliseconds(),
		)
	}

	// History and metrics are written even when shutdown cancelled the body.
	detached := context.WithoutCancel(ctx)
	if historyID != 0 {
		if ferr := d.history.Finish(detached, historyID, result, err); ferr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"history_id", historyID,
				"error", ferr,
			)
		}
	}
	if d.observer != nil {
		d.observer.ObserveRun(detached, result)
	}

	e.setLast(result)
	return result, err
}

// safeRun converts a panicking job body into an error so that one bad job
// never takes down the tick loop.
func safeRun(ctx context.Context, fn JobFunc, now time.Time) (result types.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
				fmt.Sprintf("job panicked: %v", r), nil,
				map[string]any{"stack": string(debug.Stack())})
		}
	}()
	return fn(ctx, now)
}
