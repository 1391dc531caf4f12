package jobs

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"escalator/internal/notifications/core"
	"escalator/internal/types"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory invoice and appointment table. It satisfies the
// scanner stores, the atomic guard store and the tenant listers.
type memStore struct {
	mu       sync.Mutex
	invoices map[string]*types.Invoice
	appts    map[string]*types.Appointment
	listErr  error
	scanErr  map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		invoices: make(map[string]*types.Invoice),
		appts:    make(map[string]*types.Appointment),
		scanErr:  make(map[string]error),
	}
}

func (m *memStore) addInvoice(inv types.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.Status == "" {
		inv.Status = types.InvoiceOpen
	}
	m.invoices[inv.ID] = &inv
}

func (m *memStore) addAppointment(a types.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Status == "" {
		a.Status = types.AppointmentScheduled
	}
	m.appts[a.ID] = &a
}

func (m *memStore) level(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id].DunningLevel
}

func (m *memStore) ListDunningCandidates(_ context.Context, tenantID string, maxLevel int, dueOnOrBefore time.Time) ([]types.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanErr[tenantID]; err != nil {
		return nil, err
	}
	var out []types.Invoice
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.Status == types.InvoiceOpen &&
			inv.DunningLevel < maxLevel && !inv.DueDate.After(dueOnOrBefore) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListReminderCandidates(_ context.Context, tenantID string, date time.Time, from, to time.Duration) ([]types.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanErr[tenantID]; err != nil {
		return nil, err
	}
	var out []types.Appointment
	for _, a := range m.appts {
		if a.TenantID == tenantID && a.Status == types.AppointmentScheduled && !a.ReminderSent &&
			a.Date.Equal(date) && a.StartTime >= from && a.StartTime <= to {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) AdvanceLevel(_ context.Context, tenantID, entityID string, target int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[entityID]
	if !ok || inv.TenantID != tenantID || inv.Status != types.InvoiceOpen || inv.DunningLevel >= target {
		return false, nil
	}
	inv.DunningLevel = target
	inv.LastDunningAt = &at
	return true, nil
}

func (m *memStore) MarkReminderSent(_ context.Context, tenantID, entityID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[entityID]
	if !ok || a.TenantID != tenantID || a.ReminderSent {
		return false, nil
	}
	a.ReminderSent = true
	a.ReminderSentAt = &at
	return true, nil
}

func (m *memStore) TenantsWithDunningCandidates(_ context.Context, maxLevel int, dueOnOrBefore time.Time) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, inv := range m.invoices {
		if inv.Status == types.InvoiceOpen && inv.DunningLevel < maxLevel && !inv.DueDate.After(dueOnOrBefore) {
			set[inv.TenantID] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *memStore) TenantsWithReminderCandidates(_ context.Context, fromDate, toDate time.Time) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, a := range m.appts {
		if !a.ReminderSent && a.Status == types.AppointmentScheduled &&
			!a.Date.Before(fromDate) && !a.Date.After(toDate) {
			set[a.TenantID] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (m *memStore) CountOpenByLevel(_ context.Context, tenantID string) (map[int]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.scanErr[tenantID]; err != nil {
		return nil, err
	}
	out := map[int]int{}
	for _, inv := range m.invoices {
		if inv.TenantID == tenantID && inv.Status == types.InvoiceOpen {
			out[inv.DunningLevel]++
		}
	}
	return out, nil
}

func (m *memStore) TenantsWithOpenInvoices(_ context.Context) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, inv := range m.invoices {
		if inv.Status == types.InvoiceOpen {
			set[inv.TenantID] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// sendLog counts transport sends per (entity, template).
type sendLog struct {
	mu    sync.Mutex
	sends []types.Message
	fail  map[types.ChannelType]bool
	total atomic.Int64
}

func (s *sendLog) transport(ch types.ChannelType) core.Transport {
	return core.TransportFunc(func(_ context.Context, msg types.Message) types.SendResult {
		s.total.Add(1)
		s.mu.Lock()
		s.sends = append(s.sends, msg)
		fail := s.fail[ch]
		s.mu.Unlock()
		if fail {
			return types.SendResult{Err: context.DeadlineExceeded}
		}
		return types.SendResult{Success: true, ProviderMessageID: "msg-" + msg.ReferenceID}
	})
}

func (s *sendLog) transports() map[types.ChannelType]core.Transport {
	return map[types.ChannelType]core.Transport{
		types.ChannelEmail:    s.transport(types.ChannelEmail),
		types.ChannelSMS:      s.transport(types.ChannelSMS),
		types.ChannelWhatsApp: s.transport(types.ChannelWhatsApp),
	}
}

func (s *sendLog) references() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sends))
	for _, m := range s.sends {
		out = append(out, string(m.Channel)+"/"+m.ReferenceID)
	}
	sort.Strings(out)
	return out
}

// attemptLog is an in-memory AttemptRecorder.
type attemptLog struct {
	mu       sync.Mutex
	attempts []types.DispatchAttempt
	err      error
}

func (a *attemptLog) RecordAttempt(_ context.Context, att *types.DispatchAttempt) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return 0, a.err
	}
	a.attempts = append(a.attempts, *att)
	return int64(len(a.attempts)), nil
}

func (a *attemptLog) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.attempts)
}

// alertLog is an in-memory OperatorNotifier.
type alertLog struct {
	mu     sync.Mutex
	alerts []types.OperatorAlert
	err    error
}

func (a *alertLog) Publish(_ context.Context, alert types.OperatorAlert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.alerts = append(a.alerts, alert)
	return nil
}
