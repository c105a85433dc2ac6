package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField names one Go duration string in Config.
type durationField struct {
	path string
	get  func(*Config) string
}

var durationFields = []durationField{
	{"twitch.reconnect_delay", func(c *Config) string { return c.Twitch.ReconnectDelay }},
	{"twitch.reconnect_max_delay", func(c *Config) string { return c.Twitch.ReconnectMaxDelay }},
	{"storage.busy_timeout", func(c *Config) string { return c.Storage.BusyTimeout }},
	{"notifier.retry_base", func(c *Config) string { return c.Notifier.RetryBase }},
	{"notifier.retry_max_delay", func(c *Config) string { return c.Notifier.RetryMaxDelay }},
	{"notifier.dedup_window", func(c *Config) string { return c.Notifier.DedupWindow }},
}

// validateDurations reports the first malformed or negative duration.
func validateDurations(cfg *Config) error {
	for _, f := range durationFields {
		if _, err := ParseDurationField(f.path, f.get(cfg)); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses raw as a non-negative duration. Empty is zero.
// Errors carry path so the offending key is visible in the log.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
