package timefilter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a time range bound can not be parsed.
var ErrInvalidDate = errors.New("invalid date")

// ParseDate parses an absolute date or a date math expression relative to now.
//
// Absolute dates are RFC 3339 strings or epoch milliseconds. Date math starts with `now` and is followed
// by operations: `+1h` or `-15m` add or subtract a duration, `/d` rounds to the unit. When roundUp is set,
// rounding goes to the last millisecond of the unit, which is how the upper bound of a range is computed.
//
// Units are y (years), M (months), w (weeks), d (days), h or H (hours), m (minutes), s (seconds).
// Calendar arithmetic and rounding happen in the location of now.
func ParseDate(text string, now time.Time, roundUp bool) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidDate)
	}

	if rest, ok := strings.CutPrefix(text, "now"); ok {
		return applyMath(now, rest, roundUp)
	}

	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms).In(now.Location()), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02"} {
		t, err := time.ParseInLocation(layout, text, now.Location())
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
}

func applyMath(t time.Time, math string, roundUp bool) (time.Time, error) {
	for i := 0; i < len(math); {
		op := math[i]
		i++

		var n int
		if op == '+' || op == '-' {
			start := i
			for i < len(math) && math[i] >= '0' && math[i] <= '9' {
				i++
			}
			n = 1
			if i > start {
				v, err := strconv.Atoi(math[start:i])
				if err != nil {
					return time.Time{}, fmt.Errorf("%w: invalid number in %q", ErrInvalidDate, math)
				}
				n = v
			}
		} else if op != '/' {
			return time.Time{}, fmt.Errorf("%w: unexpected operator %q in %q", ErrInvalidDate, op, math)
		}

		if i >= len(math) {
			return time.Time{}, fmt.Errorf("%w: missing unit in %q", ErrInvalidDate, math)
		}
		unit := math[i]
		i++

		var err error
		switch op {
		case '+':
			t, err = add(t, n, unit)
		case '-':
			t, err = add(t, -n, unit)
		case '/':
			t, err = startOf(t, unit)
			if err == nil && roundUp {
				t, _ = add(t, 1, unit)
				t = t.Add(-time.Millisecond)
			}
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v in %q", ErrInvalidDate, err, math)
		}
	}
	return t, nil
}

func add(t time.Time, n int, unit byte) (time.Time, error) {
	switch unit {
	case 'y':
		return t.AddDate(n, 0, 0), nil
	case 'M':
		return t.AddDate(0, n, 0), nil
	case 'w':
		return t.AddDate(0, 0, 7*n), nil
	case 'd':
		return t.AddDate(0, 0, n), nil
	case 'h', 'H':
		return t.Add(time.Duration(n) * time.Hour), nil
	case 'm':
		return t.Add(time.Duration(n) * time.Minute), nil
	case 's':
		return t.Add(time.Duration(n) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("unknown unit %q", unit)
}

// startOf rounds t down to the unit. Weeks start on Sunday.
func startOf(t time.Time, unit byte) (time.Time, error) {
	y, mo, d := t.Date()
	loc := t.Location()
	switch unit {
	case 'y':
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), nil
	case 'M':
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc), nil
	case 'w':
		return time.Date(y, mo, d-int(t.Weekday()), 0, 0, 0, 0, loc), nil
	case 'd':
		return time.Date(y, mo, d, 0, 0, 0, 0, loc), nil
	case 'h', 'H':
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc), nil
	case 'm':
		return time.Date(y, mo, d, t.Hour(), t.Minute(), 0, 0, loc), nil
	case 's':
		return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, loc), nil
	}
	return time.Time{}, fmt.Errorf("unknown unit %q", unit)
}
