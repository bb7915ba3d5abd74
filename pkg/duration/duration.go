// Package duration parses compact moderator time expressions such as
// "1d2h30m" or "perm" and formats remaining time for display.
package duration

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a parse result.
type Kind int

const (
	Invalid   Kind = iota // Nothing usable was found
	Finite                // A positive span of time
	Permanent             // No expiry
)

// Week is seven days.
const Week = 7 * 24 * time.Hour

var units = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': Week,
}

// Result is the outcome of Parse. Duration is only meaningful for Finite.
type Result struct {
	Kind     Kind
	Duration time.Duration
}

// Valid reports whether the result is Finite or Permanent.
func (r Result) Valid() bool {
	return r.Kind == Finite || r.Kind == Permanent
}

// IsPermanent reports whether the result means "no expiry".
func (r Result) IsPermanent() bool {
	return r.Kind == Permanent
}

// Parse reads text as either "perm"/"permanente" (any case) or a run of
// <integer><unit> groups with units s, m, h, d, w. Characters that do not
// form a digits-then-unit pair are skipped. Empty input, input with no
// groups, a zero total, or an overflowing total all yield Invalid.
func Parse(text string) Result {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Result{}
	}
	if s == "perm" || s == "permanente" {
		return Result{Kind: Permanent}
	}

	var total time.Duration
	var n int64
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			if n > (math.MaxInt64-int64(c-'0'))/10 {
				return Result{}
			}
			n = n*10 + int64(c-'0')
			digits = true
			continue
		}
		unit, ok := units[c]
		if ok && digits {
			if n > int64(math.MaxInt64/unit) {
				return Result{}
			}
			add := time.Duration(n) * unit
			if total > math.MaxInt64-add {
				return Result{}
			}
			total += add
		}
		n = 0
		digits = false
	}

	if total <= 0 {
		return Result{}
	}
	return Result{Kind: Finite, Duration: total}
}

// Format renders d as space-separated units, largest first, e.g. "1d 2h 30m".
// Sub-second spans round up to "1s" so a live punishment never reads as "0s".
func Format(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Second {
		d = time.Second
	}
	d = d.Truncate(time.Second)

	parts := make([]string, 0, 5)
	for _, u := range []struct {
		size   time.Duration
		suffix string
	}{
		{Week, "w"},
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	} {
		if d >= u.size {
			count := d / u.size
			d -= count * u.size
			parts = append(parts, strconv.FormatInt(int64(count), 10)+u.suffix)
		}
	}
	return strings.Join(parts, " ")
}
