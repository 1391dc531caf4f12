package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a dunning target. Level 0 means no reminder has been sent.
// DunningLevel is written only by the progress guard.
type Invoice struct {
	ID            string
	TenantID      string
	Number        string
	DueDate       time.Time // civil date, midnight UTC
	AmountDue     decimal.Decimal
	Currency      string
	Status        InvoiceStatus
	DunningLevel  int
	LastDunningAt *time.Time
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// Recipients returns the per-channel destination for this invoice's customer.
func (i Invoice) Recipients() map[ChannelType]string {
	return recipients(i.CustomerEmail, i.CustomerPhone)
}

// Appointment is a reminder-window target with a single reminder step.
type Appointment struct {
	ID             string
	TenantID       string
	Date           time.Time     // civil date, midnight UTC
	StartTime      time.Duration // offset from midnight
	Status         AppointmentStatus
	ReminderSent   bool
	ReminderSentAt *time.Time
	ServiceName    string
	CustomerName   string
	CustomerEmail  string
	CustomerPhone  string
}

// ScheduledAt combines the civil date and time of day into an instant in loc.
func (a Appointment) ScheduledAt(loc *time.Location) time.Time {
	y, m, d := a.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(a.StartTime)
}

// Recipients returns the per-channel destination for this appointment's customer.
func (a Appointment) Recipients() map[ChannelType]string {
	return recipients(a.CustomerEmail, a.CustomerPhone)
}

func recipients(email, phone string) map[ChannelType]string {
	out := make(map[ChannelType]string, 3)
	if email != "" {
		out[ChannelEmail] = email
	}
	if phone != "" {
		out[ChannelSMS] = phone
		out[ChannelWhatsApp] = phone
	}
	return out
}

// Message is the transport-neutral send request handed to a channel transport.
type Message struct {
	Channel     ChannelType    `json:"channel"`
	Recipient   string         `json:"recipient"`
	TemplateID  string         `json:"template_id"`
	Context     map[string]any `json:"context,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
}

// SendResult is what a transport reports back for one Message.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Err               error
}

// ChannelOutcome records the result of one channel within a dispatch.
type ChannelOutcome struct {
	Channel           ChannelType   `json:"channel"`
	Status            OutcomeStatus `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Error             string        `json:"error,omitempty"`
}

// DispatchAttempt is the append-only audit record of one fan-out.
type DispatchAttempt struct {
	ID          int64            `json:"id"`
	TenantID    string           `json:"tenant_id"`
	EntityKind  EntityKind       `json:"entity_kind"`
	EntityID    string           `json:"entity_id"`
	Step        int              `json:"step"`
	TemplateKey string           `json:"template_key"`
	Outcomes    []ChannelOutcome `json:"outcomes"`
	Success     bool             `json:"success"`
	CreatedAt   time.Time        `json:"created_at"`
}

// TenantResult is the outcome of one job body for one tenant.
type TenantResult struct {
	TenantID  string `json:"tenant_id"`
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// RunResult is the per-job summary surfaced to operators.
type RunResult struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id"`
	Manual     bool           `json:"manual"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Success    bool           `json:"success"`
	Sent       int            `json:"sent"`
	Errors     int            `json:"errors"`
	Skipped    int            `json:"skipped"`
	Tenants    []TenantResult `json:"tenants,omitempty"`
}

// Add folds a tenant result into the run totals. A tenant-level error counts
// as one error on top of the tenant's entity failures.
func (r *RunResult) Add(t TenantResult) {
	r.Tenants = append(r.Tenants, t)
	r.Sent += t.Sent
	r.Errors += t.Failed
	r.Skipped += t.Skipped
	if t.Error != "" {
		r.Errors++
	}
}

// Status derives the persisted history status.
func (r RunResult) Status() RunStatus {
	switch {
	case r.Success && r.Errors == 0:
		return RunSuccess
	case r.Success:
		return RunPartial
	default:
		return RunFailed
	}
}

// RunRecord is one persisted job run as read back from the history table.
type RunRecord struct {
	ID         int64      `json:"id"`
	Job        string     `json:"job"`
	RunID      string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `json:"status"`
	Sent       int        `json:"sent"`
	Errors     int        `json:"errors"`
	Skipped    int        `json:"skipped"`
	Error      *string    `json:"error,omitempty"`
}

// DunningSummary counts a tenant's open invoices at each escalation level.
type DunningSummary struct {
	TenantID    string      `json:"tenant_id"`
	Levels      map[int]int `json:"levels"`
	Total       int         `json:"total"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// OperatorAlert is published to the operator queue when a level carries the
// notify-operator flag, or when a summary is broadcast.
type OperatorAlert struct {
	Kind     string           `json:"kind"`
	TenantID string           `json:"tenant_id"`
	Severity Severity         `json:"severity"`
	Attempt  *DispatchAttempt `json:"attempt,omitempty"`
	Summary  *DunningSummary  `json:"summary,omitempty"`
	RaisedAt time.Time        `json:"raised_at"`
}
