package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses a duration string and falls back to defaultValue when empty.
func DurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		candidate = strings.TrimSpace(defaultValue)
	}
	if candidate == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(candidate)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", candidate, err)
	}
	return d, nil
}

// PositiveDurationOrDefault is DurationOrDefault for settings where zero or a
// negative value makes no sense, such as retention windows.
func PositiveDurationOrDefault(value string, defaultValue string) (time.Duration, error) {
	d, err := DurationOrDefault(value, defaultValue)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return d, nil
}
