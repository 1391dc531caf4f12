// Package scheduler drives named jobs from a periodic tick.
//
// A job carries a Schedule, which is exactly one of Daily, Weekly or
// Interval. Due is the single predicate that decides eligibility for all
// three kinds. The Registry holds jobs and their last-fired markers; the
// TickDriver is the only writer of those markers.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a sealed sum type: Daily, Weekly or Interval.
type Schedule interface {
	isSchedule()
	String() string
}

// Daily fires once per calendar day at Hour:Minute.
type Daily struct {
	Hour   int
	Minute int
}

// Weekly fires once per ISO week on Day at Hour:Minute.
type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
}

// Interval fires whenever Every has elapsed since the last fire. It is not
// aligned to the wall clock.
type Interval struct {
	Every time.Duration
}

func (Daily) isSchedule()    {}
func (Weekly) isSchedule()   {}
func (Interval) isSchedule() {}

func (s Daily) String() string {
	return fmt.Sprintf("daily@%02d:%02d", s.Hour, s.Minute)
}

func (s Weekly) String() string {
	return fmt.Sprintf("weekly@%s,%02d:%02d", strings.ToLower(s.Day.String()), s.Hour, s.Minute)
}

func (s Interval) String() string {
	return fmt.Sprintf("every %d minutes", int(s.Every/time.Minute))
}

// Marker records when a job last fired. Period is the PeriodKey of the fire
// time; FiredAt is the tick time that fired it.
type Marker struct {
	Period  string    `json:"period,omitempty"`
	FiredAt time.Time `json:"fired_at"`
}

// Due reports whether a job with schedule s and marker m should fire at now.
// now must already be in the scheduler's time zone.
func Due(s Schedule, now time.Time, m Marker) bool {
	switch s := s.(type) {
	case Daily:
		return now.Hour() == s.Hour && now.Minute() == s.Minute &&
			m.Period != PeriodKey(s, now)
	case Weekly:
		return now.Weekday() == s.Day && now.Hour() == s.Hour && now.Minute() == s.Minute &&
			m.Period != PeriodKey(s, now)
	case Interval:
		return m.FiredAt.IsZero() || now.Sub(m.FiredAt) >= s.Every
	default:
		return false
	}
}

// PeriodKey names the period that now falls into for schedule s. Two fires
// with the same key are the same run as far as the durable claim is concerned.
//
//	Daily    -> "2026-02-11"
//	Weekly   -> "2026-W07" (ISO week)
//	Interval -> "i1800-984355" (Every in seconds, aligned bucket index)
func PeriodKey(s Schedule, now time.Time) string {
	switch s := s.(type) {
	case Daily:
		return now.Format(time.DateOnly)
	case Weekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Interval:
		secs := int64(s.Every / time.Second)
		if secs <= 0 {
			secs = 1
		}
		return "i" + strconv.FormatInt(secs, 10) + "-" + strconv.FormatInt(now.Unix()/secs, 10)
	default:
		return ""
	}
}

// NewDaily builds a Daily schedule from "HH:MM".
func NewDaily(at string) (Daily, error) {
	h, m, err := ParseTimeOfDay(at)
	if err != nil {
		return Daily{}, err
	}
	return Daily{Hour: h, Minute: m}, nil
}

// NewWeekly builds a Weekly schedule from a weekday name and "HH:MM".
func NewWeekly(day, at string) (Weekly, error) {
	wd, err := ParseWeekday(day)
	if err != nil {
		return Weekly{}, err
	}
	h, m, err := ParseTimeOfDay(at)
	if err != nil {
		return Weekly{}, err
	}
	return Weekly{Day: wd, Hour: h, Minute: m}, nil
}

// NewInterval builds an Interval schedule. Sub-minute intervals are rejected
// because the tick driver cannot resolve them.
func NewInterval(every time.Duration) (Interval, error) {
	if every < time.Minute {
		return Interval{}, fmt.Errorf("interval %s is shorter than one minute", every)
	}
	return Interval{Every: every}, nil
}

// ParseTimeOfDay parses a "HH:MM" string into hour and minute components.
func ParseTimeOfDay(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, 0, fmt.Errorf("expected format HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour %d out of range [0,23]", hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute %d out of range [0,59]", minute)
	}
	return hour, minute, nil
}

// ParseWeekday parses an English weekday name, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
