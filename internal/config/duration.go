package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from TOML strings.
//
// Two spellings are accepted: Go duration strings ("10s", "1m30s") and
// TimeSpan strings ("00:00:10", "1.02:00:00", "00:00:02.5").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ParseDuration parses a Go duration or a TimeSpan string.
// An empty string yields zero, which means "no timeout".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.Contains(s, ":") {
		v, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return v, nil
	}
	return parseTimeSpan(s)
}

// parseTimeSpan parses [-][d.]hh:mm:ss[.fraction].
func parseTimeSpan(s string) (time.Duration, error) {
	sign := time.Duration(1)
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		sign = -1
		s = rest
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timespan %q: want [d.]hh:mm:ss", s)
	}

	var days int
	hoursPart := parts[0]
	if i := strings.IndexByte(hoursPart, '.'); i >= 0 {
		n, err := strconv.Atoi(hoursPart[:i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid timespan %q: bad day count", s)
		}
		days = n
		hoursPart = hoursPart[i+1:]
	}

	hours, err := strconv.Atoi(hoursPart)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid timespan %q: bad hours", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid timespan %q: bad minutes", s)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	// NaN fails this comparison.
	if err != nil || !(seconds >= 0 && seconds < 60) {
		return 0, fmt.Errorf("invalid timespan %q: bad seconds", s)
	}

	rest := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	if days > int((math.MaxInt64-int64(rest))/int64(24*time.Hour)) {
		return 0, fmt.Errorf("invalid timespan %q: out of range", s)
	}
	return sign * (time.Duration(days)*24*time.Hour + rest), nil
}
