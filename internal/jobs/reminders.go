package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"escalator/internal/escalation"
	"escalator/internal/notifications/core"
	"escalator/internal/scanner"
	"escalator/internal/types"
)

// AppointmentReminderConfig holds the dependencies of an
// AppointmentReminderJob.
type AppointmentReminderConfig struct {
	Tenants    AppointmentTenantLister
	Policy     *escalation.Policy
	Scanner    AppointmentScanner
	Claimer    Claimer
	Dispatcher Dispatcher
	Iterator   *TenantIterator
	// WindowStart and WindowEnd are offsets from the tick time.
	WindowStart time.Duration
	WindowEnd   time.Duration
	Location    *time.Location
	Logger      *slog.Logger
}

// AppointmentReminderJob sends the single reminder for appointments starting
// inside [now+WindowStart, now+WindowEnd].
type AppointmentReminderJob struct {
	cfg    AppointmentReminderConfig
	level  escalation.Level
	logger *slog.Logger
}

// NewAppointmentReminderJob creates an AppointmentReminderJob. The policy
// must have exactly one level.
func NewAppointmentReminderJob(cfg AppointmentReminderConfig) (*AppointmentReminderJob, error) {
	if cfg.Policy == nil || cfg.Policy.Max() != 1 {
		return nil, types.NewAppError(types.ErrCodeConfigPolicyInvalid,
			"appointment policy must have exactly one level", nil)
	}
	if cfg.WindowEnd <= cfg.WindowStart {
		return nil, types.NewAppError(types.ErrCodeConfigPolicyInvalid,
			fmt.Sprintf("reminder window end %s must be after start %s", cfg.WindowEnd, cfg.WindowStart), nil)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Iterator == nil {
		cfg.Iterator = NewTenantIterator(DefaultTenantWorkers, cfg.Logger)
	}
	level, _ := cfg.Policy.Level(1)
	return &AppointmentReminderJob{
		cfg:    cfg,
		level:  level,
		logger: cfg.Logger.With("job", JobAppointmentReminders),
	}, nil
}

// Run is the scheduler.JobFunc for the reminder job.
func (j *AppointmentReminderJob) Run(ctx context.Context, now time.Time) (types.RunResult, error) {
	w := scanner.ReminderWindow(now, j.cfg.WindowStart, j.cfg.WindowEnd)
	start, end := w.Start.In(j.cfg.Location), w.End.In(j.cfg.Location)
	fromDate := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	toDate := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	tenants, err := j.cfg.Tenants.TenantsWithReminderCandidates(ctx, fromDate, toDate)
	if err != nil {
		return types.RunResult{}, fmt.Errorf("listing reminder tenants: %w", err)
	}
	j.logger.InfoContext(ctx, "reminder pass starting",
		"tenants", len(tenants),
		"window", w.String(),
	)

	return j.cfg.Iterator.Run(ctx, tenants, func(ctx context.Context, tenantID string) (types.TenantResult, error) {
		return j.processTenant(ctx, tenantID, w)
	}), nil
}

func (j *AppointmentReminderJob) processTenant(ctx context.Context, tenantID string, w scanner.Window) (types.TenantResult, error) {
	var tr types.TenantResult

	appts, err := j.cfg.Scanner.ScanAppointments(ctx, tenantID, w)
	if err != nil {
		return tr, err
	}

	for _, a := range appts {
		if ctx.Err() != nil {
			break
		}
		req := core.DispatchRequest{
			TenantID:   tenantID,
			Kind:       types.EntityAppointment,
			EntityID:   a.ID,
			Level:      j.level,
			Recipients: a.Recipients(),
			Context:    appointmentContext(a, j.cfg.Location),
		}
		claim := func(ctx context.Context) (bool, error) {
			return j.cfg.Claimer.TryClaimReminder(ctx, tenantID, a.ID)
		}
		escalate(ctx, j.logger, claim, j.cfg.Dispatcher, req, &tr)
	}
	return tr, nil
}

func appointmentContext(a types.Appointment, loc *time.Location) map[string]any {
	at := a.ScheduledAt(loc)
	return map[string]any{
		"customer_name": a.CustomerName,
		"service_name":  a.ServiceName,
		"date":          at.Format(time.DateOnly),
		"time":          at.Format("15:04"),
	}
}
