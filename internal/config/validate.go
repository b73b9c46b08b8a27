package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the values the services cannot fall back from.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr: required")
	}
	for _, f := range [][2]string{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"remote.timeout", c.Remote.Timeout},
	} {
		if _, err := ParseDurationField(f[0], f[1]); err != nil {
			errs = append(errs, err)
		}
	}

	if u, err := url.Parse(strings.TrimSpace(c.Remote.URL)); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("remote.url: must be an http(s) url, got %q", c.Remote.URL)
	}
	if c.Dispatch.MaxRatePerSec < 0 {
		add("dispatch.max_rate_per_sec: must be >= 0")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	if c.Defaults.RequestCount < 0 {
		add("defaults.request_count: must be >= 0")
	}
	if c.Defaults.DelayMs < 0 {
		add("defaults.delay_ms: must be >= 0")
	}
	if s := strings.TrimSpace(c.Defaults.DailyStartTime); s != "" {
		if _, err := time.Parse("15:04", s); err != nil {
			add("defaults.daily_start_time: expected HH:MM, got %q", s)
		}
	}

	seen := map[string]struct{}{}
	for i, p := range c.Profiles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			add("profiles[%d].id: required", i)
			continue
		}
		if _, dup := seen[id]; dup {
			add("profiles[%d].id: duplicate %q", i, id)
		}
		seen[id] = struct{}{}
	}

	if st := c.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			add("storage.driver: unknown %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if tg := c.Telegram; tg != nil {
		if strings.TrimSpace(tg.Token) != "" && tg.ChatID == 0 {
			add("telegram.chat_id: required when token is set")
		}
		for _, ev := range tg.Events {
			switch strings.ToLower(strings.TrimSpace(ev)) {
			case "complete", "error", "scheduled", "cancelled", "info":
			default:
				add("telegram.events: unknown %q", ev)
			}
		}
	}
	if c.Logging.Telegram.Enabled && (c.Telegram == nil || strings.TrimSpace(c.Telegram.Token) == "") {
		add("logging.telegram: needs telegram.token")
	}
	return errors.Join(errs...)
}
