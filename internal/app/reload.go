package app

import (
	"context"
	"strings"

	"autoreg/internal/config"
	logx "autoreg/pkg/logx"
)

// reloadLoop applies every published config to the live components.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest of a burst.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(last, cfg)
			last = cfg
		}
	}
}

func (a *App) applyConfig(prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := map[string]bool{}
	for _, s := range sections {
		changed[s] = true
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	if changed["logging"] || changed["telegram"] {
		a.logs.Apply(logConfig(cfg))
	}
	if changed["remote"] {
		a.remote.Apply(remoteConfig(cfg))
	}
	if changed["dispatch"] {
		a.disp.Apply(dispatchConfig(cfg))
	}
	if changed["scheduler"] {
		a.sched.Apply(schedulerConfig(cfg))
	}
	if changed["defaults"] {
		a.users.SetDefaults(userDefaults(cfg))
	}
	if changed["telegram"] {
		switch {
		case a.relay != nil:
			a.relay.Apply(relayConfig(cfg))
			if tokenChanged(prev, cfg) {
				a.log.Warn("telegram token changed; restart required to reconnect")
			}
		case telegramEnabled(cfg):
			a.log.Warn("telegram enabled; restart required to connect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func tokenChanged(prev, cfg *config.Config) bool {
	var a, b string
	if prev.Telegram != nil {
		a = prev.Telegram.Token
	}
	if cfg.Telegram != nil {
		b = cfg.Telegram.Token
	}
	return a != b
}
