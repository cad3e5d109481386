package scheduler

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a day, minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return t, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/JSON configs.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// MaintenanceWindow restricts when scheduled runs may fire. A window whose
// End precedes its Start spans midnight (22:00-02:00). The zero value means
// no restriction.
type MaintenanceWindow struct {
	Start TimeOfDay `json:"start" yaml:"start"`
	End   TimeOfDay `json:"end" yaml:"end"`
}

// IsZero reports whether the window imposes no restriction.
func (w MaintenanceWindow) IsZero() bool {
	return w.Start == TimeOfDay{} && w.End == TimeOfDay{}
}

// Validate rejects degenerate windows. Start == End would be a zero-length
// window that can never admit a run.
func (w MaintenanceWindow) Validate() error {
	if w.IsZero() {
		return nil
	}
	if w.Start == w.End {
		return fmt.Errorf("maintenance window start and end are both %s: zero-length window", w.Start)
	}
	return nil
}

// Contains reports whether t's wall-clock time falls inside the window.
// The start is inclusive, the end exclusive.
func (w MaintenanceWindow) Contains(t time.Time) bool {
	if w.IsZero() {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// NextOpen returns the earliest instant at or after t that falls inside the
// window: t itself when already inside, otherwise the next window start.
func (w MaintenanceWindow) NextOpen(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), w.Start.Hour, w.Start.Minute, 0, 0, t.Location())
	if !start.After(t) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}
