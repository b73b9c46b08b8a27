package config

import (
	"reflect"
	"strings"

	logx "autoreg/pkg/logx"
)

// RestartSections lists sections that only take effect after a restart.
var RestartSections = map[string]bool{"server": true, "storage": true, "profiles": true}

// SummarizeConfigChange returns the changed section names and safe
// structured fields for logging. Secrets (tokens, credentials) are never
// included; only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.pprof", newCfg.Server.Pprof),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Remote != newCfg.Remote {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.url", strings.TrimSpace(newCfg.Remote.URL)),
			logx.String("remote.timeout", newCfg.Remote.Timeout),
			logx.Int64("remote.error_code", newCfg.Remote.ErrorCode),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Any("dispatch.max_rate_per_sec", newCfg.Dispatch.MaxRatePerSec))
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	if oldCfg.Defaults != newCfg.Defaults {
		changed = append(changed, "defaults")
		attrs = append(attrs,
			logx.Int("defaults.request_count", newCfg.Defaults.RequestCount),
			logx.Int("defaults.delay_ms", newCfg.Defaults.DelayMs),
			logx.Bool("defaults.credentials_set", newCfg.Defaults.CredentialPrimary != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Profiles, newCfg.Profiles) {
		changed = append(changed, "profiles")
		attrs = append(attrs, logx.Int("profiles.count", len(newCfg.Profiles)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		tg := newCfg.Telegram
		if tg == nil {
			tg = &TelegramConfig{}
		}
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(tg.Token) != ""),
			logx.Int64("telegram.chat_id", tg.ChatID),
			logx.Strings("telegram.events", tg.Events),
		)
	}

	return changed, attrs
}
