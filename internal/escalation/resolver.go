package escalation

import (
	"time"

	"escalator/internal/types"
)

// Template keys for the built-in ladders.
const (
	TemplateDunningUpcoming TemplateKey = "dunning.upcoming"
	TemplateDunningFirst    TemplateKey = "dunning.first"
	TemplateDunningSecond   TemplateKey = "dunning.second"
	TemplateDunningFinal    TemplateKey = "dunning.final"

	TemplateAppointmentReminder TemplateKey = "reminder.appointment"
)

// OffsetDays is the whole-day difference between the civil date of now in
// loc and the civil date of due. due is a calendar date; its year, month and
// day are used as stored. Positive values mean overdue, so an entity due
// today always yields 0 regardless of the time of day.
func OffsetDays(due, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	dy, dm, dd := due.Date()
	ny, nm, nd := now.In(loc).Date()
	dueDay := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(today.Sub(dueDay).Hours() / 24)
}

// NextLevel returns the level a single pass may claim. It advances at most
// one step past current, and never moves backwards.
func NextLevel(current, resolved int) int {
	if resolved > current {
		return current + 1
	}
	return current
}

// Decide resolves the level for an entity at current level with the given
// offset. It returns the target level and whether a claim should be attempted.
func (p *Policy) Decide(current, offsetDays int) (int, bool) {
	if current >= p.Max() {
		return current, false
	}
	next := NextLevel(current, p.Resolve(offsetDays))
	return next, next > current
}

// DefaultInvoiceLevels is the J+7/J+14/J+21 dunning ladder with a courtesy
// reminder lookaheadDays before the due date.
func DefaultInvoiceLevels(lookaheadDays int) []Level {
	return []Level{
		{
			Level:         1,
			MinOffsetDays: -lookaheadDays,
			Channels:      []types.ChannelType{types.ChannelEmail},
			Severity:      types.SeverityInfo,
			Template:      TemplateDunningUpcoming,
		},
		{
			Level:         2,
			MinOffsetDays: 7,
			Channels:      []types.ChannelType{types.ChannelEmail},
			Severity:      types.SeverityInfo,
			Template:      TemplateDunningFirst,
		},
		{
			Level:         3,
			MinOffsetDays: 14,
			Channels:      []types.ChannelType{types.ChannelEmail, types.ChannelSMS},
			Severity:      types.SeverityWarning,
			Template:      TemplateDunningSecond,
		},
		{
			Level:          4,
			MinOffsetDays:  21,
			Channels:       []types.ChannelType{types.ChannelEmail, types.ChannelSMS, types.ChannelWhatsApp},
			Severity:       types.SeverityCritical,
			NotifyOperator: true,
			Template:       TemplateDunningFinal,
		},
	}
}

// NewInvoicePolicy builds the default invoice ladder.
func NewInvoicePolicy(lookaheadDays int) (*Policy, error) {
	return NewPolicy(types.EntityInvoice, DefaultInvoiceLevels(lookaheadDays))
}

// NewAppointmentPolicy builds the single-step appointment reminder ladder.
// Appointments are selected by window, so the offset is informational.
func NewAppointmentPolicy() (*Policy, error) {
	return NewPolicy(types.EntityAppointment, []Level{{
		Level:         1,
		MinOffsetDays: 0,
		Channels:      []types.ChannelType{types.ChannelEmail, types.ChannelSMS},
		Severity:      types.SeverityInfo,
		Template:      TemplateAppointmentReminder,
	}})
}
