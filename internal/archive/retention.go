package archive

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRetention is the archive lifetime used when none is configured.
const DefaultRetention = "26 weeks"

const day = 24 * time.Hour

var (
	retentionShape = regexp.MustCompile(`^(?:\d+\s*(?:weeks?|w|days?|d)\s*,?\s*(?:and\s+)?)+$`)
	retentionPart  = regexp.MustCompile(`(\d+)\s*(weeks?|w|days?|d)`)
)

// ParseRetention parses an archive lifetime such as "26 weeks",
// "2 weeks 3 days", "1w2d", a bare number of days, or a Go duration like
// "72h". An empty value, "0", "never" or "none" disables expiry and
// yields zero.
func ParseRetention(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "0", "never", "none":
		return 0, nil
	}

	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative archive lifetime %q", s)
		}
		return scale(s, n, day)
	}

	if retentionShape.MatchString(v) {
		var total time.Duration
		for _, m := range retentionPart.FindAllStringSubmatch(v, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, fmt.Errorf("invalid archive lifetime %q: %w", s, err)
			}
			unit := day
			if strings.HasPrefix(m[2], "w") {
				unit = 7 * day
			}
			d, err := scale(s, n, unit)
			if err != nil {
				return 0, err
			}
			if total > math.MaxInt64-d {
				return 0, fmt.Errorf("archive lifetime %q is too long", s)
			}
			total += d
		}
		return total, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid archive lifetime %q: want e.g. \"26 weeks\" or \"2 weeks 3 days\"", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative archive lifetime %q", s)
	}
	return d, nil
}

// scale returns n units, failing instead of overflowing.
func scale(s string, n int, unit time.Duration) (time.Duration, error) {
	if int64(n) > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("archive lifetime %q is too long", s)
	}
	return time.Duration(n) * unit, nil
}
