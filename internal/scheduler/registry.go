package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"escalator/internal/types"
)

// JobFunc is a job body. now is the tick time in the scheduler time zone.
// The returned RunResult carries the per-job counts; the driver fills in the
// run metadata.
type JobFunc func(ctx context.Context, now time.Time) (types.RunResult, error)

// Job is a named unit of scheduled work.
type Job struct {
	Name        string
	Description string
	Schedule    Schedule
	Run         JobFunc
}

// JobStatus is a point-in-time view of a registered job.
type JobStatus struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Schedule    string           `json:"schedule"`
	Running     bool             `json:"running"`
	Marker      Marker           `json:"marker"`
	LastResult  *types.RunResult `json:"last_result,omitempty"`
}

type entry struct {
	job     Job
	running atomic.Bool

	mu     sync.Mutex
	marker Marker
	last   *types.RunResult
}

func (e *entry) getMarker() Marker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marker
}

func (e *entry) setMarker(m Marker) {
	e.mu.Lock()
	e.marker = m
	e.mu.Unlock()
}

func (e *entry) setLast(r types.RunResult) {
	e.mu.Lock()
	e.last = &r
	e.mu.Unlock()
}

// Registry holds the jobs known to one scheduler instance. Markers are
// in-memory; the durable per-period claim lives behind PeriodClaimer.
type Registry struct {
	mu     sync.RWMutex
	order  []*entry
	byName map[string]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*entry)}
}

// Register adds a job. Names are unique.
func (r *Registry) Register(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Schedule == nil {
		return fmt.Errorf("job %q has no schedule", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no body", job.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[job.Name]; exists {
		return fmt.Errorf("job %q is already registered", job.Name)
	}
	e := &entry{job: job}
	r.order = append(r.order, e)
	r.byName[job.Name] = e
	return nil
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (Job, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// Names returns the registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.order))
	for _, e := range r.order {
		names = append(names, e.job.Name)
	}
	sort.Strings(names)
	return names
}

// Status returns a snapshot of every job in registration order.
func (r *Registry) Status() []JobStatus {
	entries := r.entries()
	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		st := JobStatus{
			Name:        e.job.Name,
			Description: e.job.Description,
			Schedule:    e.job.Schedule.String(),
			Running:     e.running.Load(),
			Marker:      e.marker,
		}
		if e.last != nil {
			last := *e.last
			st.LastResult = &last
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Marker returns the last-fired marker for a job.
func (r *Registry) Marker(name string) (Marker, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return Marker{}, false
	}
	return e.getMarker(), true
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

func (r *Registry) entries() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, len(r.order))
	copy(out, r.order)
	return out
}
