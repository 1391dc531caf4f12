// Package scanner selects candidate entities for a tenant.
//
// Appointments are stored as a civil date plus a time of day, so an absolute
// reminder window is translated into date-scoped slices before querying. A
// window that crosses midnight becomes two slices whose union is the window.
package scanner

import (
	"fmt"
	"time"
)

const lastSecondOfDay = 24*time.Hour - time.Second

// Window is an absolute, inclusive time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ReminderWindow returns [now+from, now+to].
func ReminderWindow(now time.Time, from, to time.Duration) Window {
	return Window{Start: now.Add(from), End: now.Add(to)}
}

// Contains reports whether t lies in the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s]", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Slice is one date-scoped piece of a window. Date is a civil date at
// midnight UTC; From and To are inclusive times of day at second precision.
type Slice struct {
	Date time.Time
	From time.Duration
	To   time.Duration
}

func (s Slice) String() string {
	return fmt.Sprintf("%s %s-%s", s.Date.Format(time.DateOnly), clock(s.From), clock(s.To))
}

// Slices splits the window into date-scoped slices in loc:
//
//	same date        -> [startTOD, endTOD]
//	crosses midnight -> [startTOD, 23:59:59] on the first date, [00:00:00, endTOD] on the last
//	longer windows   -> full days in between
//
// The start is rounded up and the end rounded down to whole seconds, so the
// slices are disjoint and never widen the window. An empty or inverted
// window yields no slices.
func (w Window) Slices(loc *time.Location) []Slice {
	if loc == nil {
		loc = time.UTC
	}
	start := ceilSecond(w.Start).In(loc)
	end := w.End.Truncate(time.Second).In(loc)
	if end.Before(start) {
		return nil
	}

	first := civilDate(start)
	last := civilDate(end)

	var out []Slice
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		s := Slice{Date: d, From: 0, To: lastSecondOfDay}
		if d.Equal(first) {
			s.From = timeOfDay(start)
		}
		if d.Equal(last) {
			s.To = timeOfDay(end)
		}
		out = append(out, s)
	}
	return out
}

func ceilSecond(t time.Time) time.Time {
	tr := t.Truncate(time.Second)
	if tr.Equal(t) {
		return t
	}
	return tr.Add(time.Second)
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func clock(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
