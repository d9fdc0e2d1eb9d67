package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActiveWindow is a daily posting window in a fixed timezone. The
// window may wrap past midnight (e.g. 22:00 to 02:00). A zero window
// means always active.
type ActiveWindow struct {
	start int // minutes since midnight
	end   int
	set   bool
	loc   *time.Location
}

// ParseActiveWindow builds a window from "HH:MM" start/end strings and
// an IANA timezone name. Empty start or end disables the window.
func ParseActiveWindow(start, end, timezone string) (ActiveWindow, error) {
	if start == "" || end == "" {
		return ActiveWindow{}, nil
	}
	s, err := parseClock(start)
	if err != nil {
		return ActiveWindow{}, fmt.Errorf("active hours start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return ActiveWindow{}, fmt.Errorf("active hours end: %w", err)
	}
	loc := time.Local
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return ActiveWindow{}, fmt.Errorf("timezone %q: %w", timezone, err)
		}
	}
	return ActiveWindow{start: s, end: e, set: true, loc: loc}, nil
}

func parseClock(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hh*60 + mm, nil
}

// Contains reports whether t falls inside the window. End is
// inclusive, matching the minute granularity of the bounds.
func (w ActiveWindow) Contains(t time.Time) bool {
	if !w.set {
		return true
	}
	local := t.In(w.loc)
	minutes := local.Hour()*60 + local.Minute()
	if w.end >= w.start {
		return minutes >= w.start && minutes <= w.end
	}
	// wraps past midnight
	return minutes >= w.start || minutes <= w.end
}

// UntilStart returns how long after t the window next opens. Zero when
// t is already inside the window or the window is unset.
func (w ActiveWindow) UntilStart(t time.Time) time.Duration {
	if w.Contains(t) {
		return 0
	}
	local := t.In(w.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), w.start/60, w.start%60, 0, 0, w.loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local)
}
