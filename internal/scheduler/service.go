package scheduler

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"autoreg/internal/progress"
	logx "autoreg/pkg/logx"
)

func New(cfg Config, runner Runner, notify progress.Publisher, opts ...Option) *Service {
	if notify == nil {
		notify = progress.Discard{}
	}
	s := &Service{
		cfg:    cfg,
		runner: runner,
		notify: notify,
		now:    time.Now,
		// Seconds are part of every trigger spec so a fire time is never rounded down.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		triggers: map[string]*trigger{},
		entries:  map[string]entry{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.loc = s.loadLocationLocked()
	return s
}

// Apply swaps the config. A timezone change re-registers pending triggers;
// their absolute fire instants are unchanged.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if oldTZ == newTZ {
		return
	}
	if s.c == nil {
		s.loc = s.loadLocationLocked()
		return
	}
	s.restartLocked()
}

// Location returns the zone fire times are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Start starts cron triggering. Triggers registered before Start are
// installed now; any whose fire time already passed run immediately.
// Scheduled dispatches are cancelled when ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	if s.runCtx.Err() != nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	context.AfterFunc(ctx, s.runCancel)
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	var due []string
	now := s.now()
	for id, t := range s.triggers {
		if !t.fireAt.After(now) {
			due = append(due, id)
			continue
		}
		s.addCronLocked(t)
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
	s.mu.Unlock()

	sort.Strings(due)
	for _, id := range due {
		s.fire(id)
	}
}

// Stop stops cron triggering, asks running scheduled dispatches to cancel
// and waits for them until ctx ends. Pending triggers are kept and
// reinstalled by the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, t := range s.triggers {
		t.entryID = 0
	}
	cancel := s.runCancel
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduled dispatches still running at stop deadline")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// restartLocked swaps the cron instance for one in the current timezone.
// Call with s.mu held.
func (s *Service) restartLocked() {
	if s.c != nil {
		// Not awaited: a firing job may be waiting on s.mu.
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, t := range s.triggers {
		s.addCronLocked(t)
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("triggers", len(s.triggers)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// addCronLocked renders the trigger's calendar spec in the current location
// and registers it. Call with s.mu held and s.c non-nil.
func (s *Service) addCronLocked(t *trigger) {
	t.spec = calendarSpec(t.fireAt.In(s.loc))
	id := t.id
	eid, err := s.c.AddJob(t.spec, cron.FuncJob(func() { s.fire(id) }))
	if err != nil {
		s.log.Error("trigger register failed", logx.String("id", id), logx.String("spec", t.spec), logx.Err(err))
		return
	}
	t.entryID = eid
	s.log.Debug("trigger registered",
		logx.String("id", id),
		logx.String("spec", t.spec),
		logx.String("next", s.c.Entry(eid).Next.Format("2006-01-02 15:04:05")),
	)
}

// dispatch runs the multi-user dispatch in a tracked goroutine.
func (s *Service) dispatch(userIDs []string) {
	if s.runner == nil || len(userIDs) == 0 {
		return
	}
	s.mu.Lock()
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("scheduled dispatch panic", logx.Any("panic", r), logx.Strings("users", userIDs))
			}
		}()
		s.runner.RunForUsers(ctx, userIDs)
	}()
}
