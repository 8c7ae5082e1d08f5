package dialer

import (
	"fmt"
	"time"
)

// Contains reports whether now falls inside the window in its timezone
// (UTC when unset). The window includes its start and excludes its end.
func (h DialingHours) Contains(now time.Time) (bool, error) {
	if h.StartTime == "" && h.EndTime == "" {
		return true, nil
	}
	start, err := clockMinutes(h.StartTime)
	if err != nil {
		return false, err
	}
	end, err := clockMinutes(h.EndTime)
	if err != nil {
		return false, err
	}
	loc, err := h.location()
	if err != nil {
		return false, err
	}

	local := now.In(loc)
	m := local.Hour()*60 + local.Minute()
	switch {
	case start == end:
		return true, nil
	case start < end:
		return m >= start && m < end, nil
	default:
		return m >= start || m < end, nil
	}
}

func (h DialingHours) location() (*time.Location, error) {
	if h.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return nil, fmt.Errorf("dialer: dialing hours timezone: %w", err)
	}
	return loc, nil
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("dialer: dialing hours %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
