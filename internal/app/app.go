// Package app is the composition root: it builds every component from the
// config, starts them in order, fans out hot reloads and stops them in
// reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"autoreg/internal/config"
	"autoreg/internal/control"
	"autoreg/internal/dispatch"
	"autoreg/internal/eventbus"
	"autoreg/internal/httpapi"
	"autoreg/internal/progress"
	"autoreg/internal/relay"
	"autoreg/internal/remote"
	"autoreg/internal/runtime/supervisor"
	"autoreg/internal/scheduler"
	"autoreg/internal/storage"
	kit "autoreg/internal/transport"
	"autoreg/internal/transport/telegram"
	"autoreg/internal/userconfig"
	logx "autoreg/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus    *eventbus.Mem[progress.Notification]
	store  storage.Store
	remote *remote.Client
	users  *userconfig.Store
	disp   *dispatch.Dispatcher
	sched  *scheduler.Service
	cmd    *control.Service
	http   *httpapi.Server
	relay  *relay.Service // nil without telegram

	profileIDs []string
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var sender kit.Sender
	if telegramEnabled(cfg) {
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, logx.NewConsole("info").Component("telegram"))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}
	logSvc, root := logx.New(logConfig(cfg), sender)
	log := root.Component("app")

	var store storage.Store
	if sc := storageConfig(cfg); sc.Driver != "" && sc.Driver != "none" {
		store, err = storage.Open(sc, root.Component("storage"))
		if err != nil {
			_ = logSvc.Close()
			return nil, fmt.Errorf("storage: %w", err)
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	bus := progress.NewBus()
	rc := remote.New(remoteConfig(cfg))
	users := userconfig.New(userDefaults(cfg))

	dopts := []dispatch.Option{dispatch.WithLogger(root.Component("dispatch"))}
	if store != nil {
		dopts = append(dopts, dispatch.WithHistory(store))
	}
	disp := dispatch.New(dispatchConfig(cfg), users, rc, bus, dopts...)
	users.OnInitialize(disp.Stop)

	sched := scheduler.New(schedulerConfig(cfg), disp, bus, scheduler.WithLogger(root.Component("scheduler")))

	list, patches := profiles(cfg)
	deps := control.Deps{
		Store:      users,
		Dispatcher: disp,
		Scheduler:  sched,
		Bus:        bus,
		Profiles:   list,
		Log:        root.Component("control"),
	}
	if store != nil {
		deps.History = store
	}
	cmd := control.New(deps)
	cmd.InitializeUsers(patches)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		remote: rc,
		users:  users,
		disp:   disp,
		sched:  sched,
		cmd:    cmd,
	}
	for _, p := range list {
		a.profileIDs = append(a.profileIDs, p.ID)
	}
	if sender != nil {
		a.relay = relay.New(relayConfig(cfg), bus, sender, root.Component("relay"))
	}
	a.http = httpapi.New(httpConfig(cfg), cmd, a.health, root.Component("http"))
	return a, nil
}

// Commands exposes the command layer.
func (a *App) Commands() *control.Service { return a.cmd }

// ProfileIDs lists the configured profiles in config order.
func (a *App) ProfileIDs() []string { return append([]string(nil), a.profileIDs...) }

// Done is closed once the app context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.sched.Start(a.sup.Context())
	if a.relay != nil {
		a.relay.Start(a.sup.Context())
	}

	a.sup.GoRestart("http.serve", a.http.Serve, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifySystemd(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// RunNow starts a dispatch for the given users, or for every profile when
// ids is empty. It returns once the run is accepted.
func (a *App) RunNow(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		ids = a.ProfileIDs()
	}
	ack, err := a.cmd.RunNow(ctx, control.RunRequest{UserIDs: ids})
	if err != nil {
		return err
	}
	a.log.Info(ack.Message)
	return nil
}

// Stop shuts the components down in order. Each step is bounded so a stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	notifySystemd(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, a.log, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("http", 3*time.Second, a.http.Shutdown)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatcher", 3*time.Second, func(c context.Context) error {
		a.disp.StopAll()
		return a.disp.Wait(c)
	})
	step("relay", 2*time.Second, func(c context.Context) error {
		if a.relay != nil {
			a.relay.Stop(c)
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Stop)

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) health() map[string]any {
	out := map[string]any{
		"scheduler":   a.sched.Snapshot(),
		"active":      len(a.disp.Active()),
		"subscribers": a.bus.Len(),
		"events":      a.bus.Stats(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Snapshot()
	}
	if a.relay != nil {
		out["relay"] = a.relay.Stats()
	}
	return out
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", strings.TrimSuffix(state, "=1")), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
