package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Timeouts returns the parsed listener timeouts. Call after Validate.
func (c ServerConfig) Timeouts() (read, write time.Duration) {
	read, _ = ParseDurationField("server.read_timeout", c.ReadTimeout)
	write, _ = ParseDurationField("server.write_timeout", c.WriteTimeout)
	return read, write
}

// TimeoutDuration returns the per-request timeout; 0 means unbounded.
func (c RemoteConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationField("remote.timeout", c.Timeout)
	return d
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	return d
}
