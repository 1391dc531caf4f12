package jobs

import (
	"fmt"

	"escalator/internal/config"
	"escalator/internal/scheduler"
)

// Runners holds the constructed job bodies.
type Runners struct {
	Dunning   *InvoiceDunningJob
	Reminders *AppointmentReminderJob
	Summary   *WeeklySummaryJob
}

// Catalog turns the configured schedules and the job bodies into scheduler
// jobs. A nil runner is left out.
func Catalog(cfg config.Config, r Runners) ([]scheduler.Job, error) {
	var out []scheduler.Job

	if r.Dunning != nil {
		s, err := scheduler.NewDaily(cfg.Dunning.RunAt)
		if err != nil {
			return nil, fmt.Errorf("dunning schedule: %w", err)
		}
		out = append(out, scheduler.Job{
			Name:        JobInvoiceDunning,
			Description: "Escalate overdue and soon-due invoices one level",
			Schedule:    s,
			Run:         r.Dunning.Run,
		})
	}

	if r.Reminders != nil {
		s, err := scheduler.NewInterval(cfg.Reminders.Interval)
		if err != nil {
			return nil, fmt.Errorf("reminder schedule: %w", err)
		}
		out = append(out, scheduler.Job{
			Name:        JobAppointmentReminders,
			Description: fmt.Sprintf("Remind appointments starting in %s to %s", cfg.Reminders.WindowStart, cfg.Reminders.WindowEnd),
			Schedule:    s,
			Run:         r.Reminders.Run,
		})
	}

	if r.Summary != nil {
		s, err := scheduler.NewWeekly(cfg.Summary.Weekday, cfg.Summary.At)
		if err != nil {
			return nil, fmt.Errorf("summary schedule: %w", err)
		}
		out = append(out, scheduler.Job{
			Name:        JobWeeklySummary,
			Description: "Publish per-tenant dunning summaries to the operator queue",
			Schedule:    s,
			Run:         r.Summary.Run,
		})
	}

	return out, nil
}

// Register adds jobs to reg.
func Register(reg *scheduler.Registry, jobs []scheduler.Job) error {
	for _, j := range jobs {
		if err := reg.Register(j); err != nil {
			return err
		}
	}
	return nil
}
