// Package main is the trigger Lambda. An EventBridge rule (or an operator
// invoking the function by hand) sends a Payload naming a job; the handler
// runs that job body once through the same engine the scheduler uses.
//
// Handler flow:
//  1. Parse Payload.
//  2. If the payload carries an idempotency key and job claims are enabled,
//     claim it so a redelivered event does not run the job twice.
//  3. Run the job via TickDriver.RunNow; history and metrics are recorded by
//     the driver.
//  4. Complete the claim once the run started, or release it when the run
//     never started so the retried event can run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"escalator/internal/app"
	"escalator/internal/config"
	"escalator/internal/db"
	"escalator/internal/types"
)

const claimTTL = 24 * time.Hour

// Payload is the invocation event.
type Payload struct {
	Job           string     `json:"job"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// IdempotencyKey deduplicates redelivered events, e.g. the EventBridge
	// event id.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Response is returned to the invoker. Error is set when the job body failed
// after it started; the run still has a result worth reporting.
type Response struct {
	Result  types.RunResult `json:"result"`
	Error   string          `json:"error,omitempty"`
	Skipped bool            `json:"skipped,omitempty"`
}

// JobTrigger runs a job out of schedule.
type JobTrigger interface {
	RunNow(ctx context.Context, name string, now time.Time) (types.RunResult, error)
}

// InvocationClaimer deduplicates invocations.
type InvocationClaimer interface {
	Claim(ctx context.Context, job, period, workerID string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, job, period string) error
	Release(ctx context.Context, job, period, workerID string) error
}

// Handler holds the dependencies of the trigger Lambda.
type Handler struct {
	Trigger  JobTrigger
	Claims   InvocationClaimer // optional
	Clock    types.Clock
	WorkerID string
	Logger   *slog.Logger
}

// Handle runs the job named in payload.
func (h *Handler) Handle(ctx context.Context, payload Payload) (Response, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	if payload.Job == "" {
		return Response{}, types.NewAppError(types.ErrCodeValidationMissingField, "job is required", nil)
	}

	now := clock.Now()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}
	logger.InfoContext(ctx, "trigger invoked",
		"job", payload.Job,
		"reference_time", now.Format(time.RFC3339),
		"idempotency_key", payload.IdempotencyKey,
		"worker_id", h.WorkerID,
	)

	period := ""
	if payload.IdempotencyKey != "" && h.Claims != nil {
		period = "invoke:" + payload.IdempotencyKey
		acquired, err := h.Claims.Claim(ctx, payload.Job, period, h.WorkerID, claimTTL)
		if err != nil {
			return Response{}, fmt.Errorf("claiming invocation %s: %w", payload.IdempotencyKey, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "invocation already handled, skipping",
				"job", payload.Job,
				"idempotency_key", payload.IdempotencyKey,
			)
			return Response{Skipped: true}, nil
		}
	}

	result, err := h.Trigger.RunNow(ctx, payload.Job, now)
	started := result.RunID != ""
	if period != "" {
		h.settleClaim(context.WithoutCancel(ctx), logger, payload.Job, period, started)
	}
	if err != nil && !started {
		return Response{}, err
	}
	resp := Response{Result: result}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

// settleClaim completes the invocation claim after a run that started and
// releases it after one that did not. Failures are logged: the run outcome
// is already decided.
func (h *Handler) settleClaim(ctx context.Context, logger *slog.Logger, job, period string, started bool) {
	if started {
		if err := h.Claims.Complete(ctx, job, period); err != nil {
			logger.WarnContext(ctx, "failed to complete invocation claim",
				"job", job, "period", period, "error", err)
		}
		return
	}
	if err := h.Claims.Release(ctx, job, period, h.WorkerID); err != nil {
		logger.WarnContext(ctx, "failed to release invocation claim",
			"job", job, "period", period, "error", err)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	// The Lambda never serves the admin API.
	cfg.Admin.Enabled = false

	logger := app.NewLogger(cfg.LogLevel)
	logger.Info("trigger Lambda initializing (cold start)",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	ctx := context.Background()
	deps, closeDeps, err := app.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	workerID := "lambda-" + uuid.NewString()
	deps.WorkerID = workerID
	a, err := app.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("assembling engine: %w", err)
	}

	h := &Handler{
		Trigger:  a.Driver,
		Claims:   db.NewJobClaimRepository(deps.DB),
		WorkerID: workerID,
		Logger:   logger,
	}
	lambda.Start(h.Handle)
	return nil
}
