package jobs

import (
	"context"
	"time"

	"escalator/internal/escalation"
	"escalator/internal/guard"
	"escalator/internal/notifications/core"
	"escalator/internal/scanner"
	"escalator/internal/types"
)

// Job names as registered with the scheduler.
const (
	JobInvoiceDunning       = "invoice-dunning"
	JobAppointmentReminders = "appointment-reminders"
	JobWeeklySummary        = "weekly-dunning-summary"
)

// PolicySource resolves the effective policy for a tenant.
type PolicySource interface {
	For(ctx context.Context, tenantID string, kind types.EntityKind) (*escalation.Policy, error)
}

// Claimer is the progress guard.
type Claimer interface {
	TryClaimLevel(ctx context.Context, tenantID, entityID string, target int) (bool, error)
	TryClaimReminder(ctx context.Context, tenantID, entityID string) (bool, error)
}

// Dispatcher fans a claimed step out to its channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, req core.DispatchRequest) (*types.DispatchAttempt, error)
}

// InvoiceScanner lists a tenant's dunning candidates.
type InvoiceScanner interface {
	ScanInvoices(ctx context.Context, tenantID string, policy *escalation.Policy, now time.Time) ([]types.Invoice, error)
}

// AppointmentScanner lists a tenant's appointments inside a window.
type AppointmentScanner interface {
	ScanAppointments(ctx context.Context, tenantID string, w scanner.Window) ([]types.Appointment, error)
}

// InvoiceTenantLister is the cross-tenant existence query for dunning.
type InvoiceTenantLister interface {
	// TenantsWithDunningCandidates returns tenants owning an open invoice
	// with dunning_level < maxLevel and due_date <= dueOnOrBefore.
	TenantsWithDunningCandidates(ctx context.Context, maxLevel int, dueOnOrBefore time.Time) ([]string, error)
}

// AppointmentTenantLister is the cross-tenant existence query for reminders.
type AppointmentTenantLister interface {
	// TenantsWithReminderCandidates returns tenants owning an unreminded
	// scheduled appointment dated between fromDate and toDate inclusive.
	TenantsWithReminderCandidates(ctx context.Context, fromDate, toDate time.Time) ([]string, error)
}

var (
	_ Claimer            = (*guard.Guard)(nil)
	_ PolicySource       = (*escalation.PolicyCache)(nil)
	_ Dispatcher         = (*core.Dispatcher)(nil)
	_ InvoiceScanner     = (*scanner.Scanner)(nil)
	_ AppointmentScanner = (*scanner.Scanner)(nil)
)
