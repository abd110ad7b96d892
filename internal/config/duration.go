package config

import (
	"fmt"
	"strings"
	"time"
)

// Built-in defaults for the duration-valued fields. An empty field resolves
// to its entry here; an explicit "0s" stays zero for the fields where zero
// means disabled (queue TTL, per-category windows).
const (
	DefaultConnectTimeout     = 50 * time.Millisecond
	DefaultAckTimeout         = 250 * time.Millisecond
	DefaultJournalBusyTimeout = time.Second
)

// parseDuration parses one duration-valued config field ("500ms", "10s",
// "2m"). Errors name the dotted field path so a bad value points at its
// place in the file. Empty parses to zero; negatives are rejected.
func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// durationOr resolves a field against its default: empty or zero yields def.
func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
