package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"escalator/internal/escalation"
	"escalator/internal/types"
)

// InvoiceStore is the read side of the invoice table used for dunning.
type InvoiceStore interface {
	// ListDunningCandidates returns open invoices of tenantID with
	// dunning_level < maxLevel and due_date <= dueOnOrBefore.
	ListDunningCandidates(ctx context.Context, tenantID string, maxLevel int, dueOnOrBefore time.Time) ([]types.Invoice, error)
}

// AppointmentStore is the read side of the appointment table.
type AppointmentStore interface {
	// ListReminderCandidates returns scheduled appointments of tenantID on
	// date with from <= start_time <= to and reminder_sent = false.
	ListReminderCandidates(ctx context.Context, tenantID string, date time.Time, from, to time.Duration) ([]types.Appointment, error)
}

// Scanner queries candidate entities for one tenant at a time.
type Scanner struct {
	invoices     InvoiceStore
	appointments AppointmentStore
	loc          *time.Location
	logger       *slog.Logger
}

// New creates a Scanner. loc is the scheduling time zone that stored dates
// and times of day are expressed in.
func New(invoices InvoiceStore, appointments AppointmentStore, loc *time.Location, logger *slog.Logger) *Scanner {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		invoices:     invoices,
		appointments: appointments,
		loc:          loc,
		logger:       logger,
	}
}

// Location returns the scheduling time zone.
func (s *Scanner) Location() *time.Location { return s.loc }

// ScanInvoices returns the tenant's open invoices that some level of policy
// could still apply to: below the top level and due no later than
// today - policy.MinOffset().
func (s *Scanner) ScanInvoices(ctx context.Context, tenantID string, policy *escalation.Policy, now time.Time) ([]types.Invoice, error) {
	cutoff := civilDate(now.In(s.loc)).AddDate(0, 0, -policy.MinOffset())

	invoices, err := s.invoices.ListDunningCandidates(ctx, tenantID, policy.Max(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("scanning invoices for tenant %s: %w", tenantID, err)
	}
	return invoices, nil
}

// ScanAppointments returns the tenant's appointments whose start falls in w.
// One query runs per slice; results are unioned by id and filtered against
// the absolute window, so the result matches a single unsplit range query.
func (s *Scanner) ScanAppointments(ctx context.Context, tenantID string, w Window) ([]types.Appointment, error) {
	slices := w.Slices(s.loc)
	if len(slices) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var out []types.Appointment
	for _, sl := range slices {
		batch, err := s.appointments.ListReminderCandidates(ctx, tenantID, sl.Date, sl.From, sl.To)
		if err != nil {
			return nil, fmt.Errorf("scanning appointments for tenant %s on %s: %w", tenantID, sl, err)
		}
		for _, a := range batch {
			if _, dup := seen[a.ID]; dup {
				s.logger.WarnContext(ctx, "duplicate appointment across window slices",
					"tenant_id", tenantID,
					"entity_id", a.ID,
					"slice", sl.String(),
				)
				continue
			}
			if !w.Contains(a.ScheduledAt(s.loc)) {
				continue
			}
			seen[a.ID] = struct{}{}
			out = append(out, a)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].ScheduledAt(s.loc), out[j].ScheduledAt(s.loc)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
