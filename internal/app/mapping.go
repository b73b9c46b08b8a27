package app

import (
	"strings"

	"autoreg/internal/config"
	"autoreg/internal/control"
	"autoreg/internal/dispatch"
	"autoreg/internal/httpapi"
	"autoreg/internal/relay"
	"autoreg/internal/remote"
	"autoreg/internal/scheduler"
	"autoreg/internal/storage"
	kit "autoreg/internal/transport"
	"autoreg/internal/userconfig"
	logx "autoreg/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && telegramEnabled(cfg),
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if cfg.Telegram != nil {
		lc.Telegram.ChatID = cfg.Telegram.ChatID
		lc.Telegram.ThreadID = cfg.Telegram.ThreadID
	}
	return lc
}

func remoteConfig(cfg *config.Config) remote.Config {
	return remote.Config{
		URL:       cfg.Remote.URL,
		Referer:   cfg.Remote.Referer,
		Timeout:   cfg.Remote.TimeoutDuration(),
		ErrorCode: cfg.Remote.ErrorCode,
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{MaxRatePerSec: cfg.Dispatch.MaxRatePerSec}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func userDefaults(cfg *config.Config) userconfig.Defaults {
	d := cfg.Defaults
	return userconfig.Defaults{
		CredentialPrimary:   d.CredentialPrimary,
		CredentialSecondary: d.CredentialSecondary,
		RequestCount:        d.RequestCount,
		DelayMs:             userconfig.Int(d.DelayMs),
		DailyStartTime:      d.DailyStartTime,
	}
}

func profiles(cfg *config.Config) ([]control.Profile, map[string]userconfig.Patch) {
	list := make([]control.Profile, 0, len(cfg.Profiles))
	patches := make(map[string]userconfig.Patch, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		id := strings.TrimSpace(p.ID)
		name := p.Name
		if name == "" {
			name = id
		}
		list = append(list, control.Profile{ID: id, Name: name})
		var patch userconfig.Patch
		if p.CredentialPrimary != "" {
			patch.CredentialPrimary = userconfig.Str(p.CredentialPrimary)
		}
		if p.CredentialSecondary != "" {
			patch.CredentialSecondary = userconfig.Str(p.CredentialSecondary)
		}
		patches[id] = patch
	}
	return list, patches
}

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.Storage.BusyTimeoutDuration(),
	}
}

func httpConfig(cfg *config.Config) httpapi.Config {
	read, write := cfg.Server.Timeouts()
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		StaticDir:    cfg.Server.StaticDir,
		ReadTimeout:  read,
		WriteTimeout: write,
		Pprof:        cfg.Server.Pprof,
	}
}

func relayConfig(cfg *config.Config) relay.Config {
	if cfg.Telegram == nil {
		return relay.Config{}
	}
	tg := cfg.Telegram
	return relay.Config{
		Target:     kit.ChatTarget{ChatID: tg.ChatID, ThreadID: tg.ThreadID},
		Events:     tg.Events,
		RatePerSec: tg.RatePerSec,
		RetryMax:   tg.RetryMax,
	}
}

func telegramEnabled(cfg *config.Config) bool {
	return cfg.Telegram != nil && strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID != 0
}
