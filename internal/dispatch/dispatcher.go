package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autoreg/internal/progress"
	"autoreg/internal/remote"
	"autoreg/internal/storage"
	"autoreg/internal/userconfig"
	logx "autoreg/pkg/logx"
)

// ConfigSource is the read side of the user configuration store.
type ConfigSource interface {
	Get(userID string) (userconfig.UserConfig, bool)
}

// Config tunes the dispatcher. MaxRatePerSec caps remote calls across all
// users; 0 disables the cap.
type Config struct {
	MaxRatePerSec float64
}

type Option func(*Dispatcher)

// WithHistory records a RunRecord for every finished loop.
func WithHistory(st storage.Store) Option { return func(d *Dispatcher) { d.history = st } }

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *Dispatcher) { d.now = now } }

// Dispatcher drives per-user request loops. Only one loop per user runs at a time.
type Dispatcher struct {
	configs ConfigSource
	remote  remote.Submitter
	notify  progress.Publisher
	history storage.Store
	log     logx.Logger
	now     func() time.Time

	limiter atomic.Pointer[rate.Limiter]

	mu   sync.Mutex
	runs map[string]*RunState
	wg   sync.WaitGroup
}

func New(cfg Config, configs ConfigSource, rc remote.Submitter, notify progress.Publisher, opts ...Option) *Dispatcher {
	if notify == nil {
		notify = progress.Discard{}
	}
	d := &Dispatcher{
		configs: configs,
		remote:  rc,
		notify:  notify,
		now:     time.Now,
		runs:    map[string]*RunState{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.Apply(cfg)
	return d
}

// Apply swaps the global rate limit for subsequent requests.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.MaxRatePerSec <= 0 {
		d.limiter.Store(nil)
		return
	}
	burst := int(cfg.MaxRatePerSec)
	if burst < 1 {
		burst = 1
	}
	d.limiter.Store(rate.NewLimiter(rate.Limit(cfg.MaxRatePerSec), burst))
}

// RunForUser runs the bounded request loop for one user and returns every
// response received (soft failures included). It never returns an error:
// failures are reported through notifications.
func (d *Dispatcher) RunForUser(ctx context.Context, userID string) []remote.Response {
	if ctx == nil {
		ctx = context.Background()
	}
	results := []remote.Response{}

	cfg, ok := d.configs.Get(userID)
	if !ok {
		d.notify.Publish(progress.Notification{
			Message: fmt.Sprintf("Error: no configuration for user %s", userID),
			UserID:  userID,
			Status:  progress.Errored("Configuration error"),
		})
		return results
	}

	// Captured once; config edits apply to the next loop.
	count := userconfig.ResolveCount(cfg.RequestCount, 0, userconfig.DefaultRequestCount)
	delay := time.Duration(userconfig.ResolveDelay(cfg.DelayMs, -1, userconfig.DefaultDelayMs)) * time.Millisecond
	cred := remote.Credentials{Primary: cfg.CredentialPrimary, Secondary: cfg.CredentialSecondary}

	st, err := d.register(userID, count)
	if err != nil {
		d.notify.Publish(progress.Notification{
			Message: fmt.Sprintf("[User %s] %v", userID, err),
			UserID:  userID,
			Status:  progress.Errored("Already running"),
		})
		return results
	}
	d.wg.Add(1)
	defer d.wg.Done()
	defer d.unregister(userID, st)

	log := d.log.With(logx.String("user", userID))
	log.Info("dispatch started", logx.Int("count", count), logx.Duration("delay", delay))
	d.notify.Publish(progress.Notification{
		Message: fmt.Sprintf("[User %s] Sending %d requests with a %dms interval", userID, count, delay.Milliseconds()),
		UserID:  userID,
		Status:  progress.Active("Running requests..."),
	})

	cancelled := false
	cancel := func() {
		cancelled = true
		d.notify.Publish(progress.Notification{
			Message: fmt.Sprintf("[User %s] Run cancelled", userID),
			UserID:  userID,
			Status:  progress.Inactive("Cancelled"),
		})
	}
	for i := 0; i < count; i++ {
		if !st.Active() || ctx.Err() != nil {
			cancel()
			break
		}
		if lim := d.limiter.Load(); lim != nil {
			if err := lim.Wait(ctx); err != nil {
				cancel()
				break
			}
		}

		resp, err := d.remote.Submit(ctx, cred)
		st.completed.Add(1)
		if err != nil {
			log.Debug("request failed", logx.Int("index", i+1), logx.Err(err))
			d.notify.Publish(progress.Notification{
				Message: fmt.Sprintf("[User %s] Request %d failed: %v", userID, i+1, err),
				UserID:  userID,
				Status:  progress.Errored("Error"),
			})
		} else {
			results = append(results, resp)
			if !resp.SoftFailure {
				st.succeeded.Add(1)
			}
			d.notify.Publish(progress.Notification{
				Message: fmt.Sprintf("[User %s] Request %d: %s", userID, i+1, bodyText(resp)),
				UserID:  userID,
			})
		}

		if i < count-1 && st.Active() {
			wait(ctx, st.stopped, delay)
		}
	}

	completed, succeeded := int(st.completed.Load()), int(st.succeeded.Load())
	st.stop()
	d.notify.Publish(progress.Notification{
		Message:  fmt.Sprintf("[User %s] Run completed. %d of %d successful.", userID, succeeded, count),
		UserID:   userID,
		Complete: true,
		Status:   progress.Inactive("Idle"),
	})
	log.Info("dispatch finished",
		logx.Int("completed", completed),
		logx.Int("succeeded", succeeded),
		logx.Bool("cancelled", cancelled),
	)
	d.record(ctx, storage.RunRecord{
		UserID:     userID,
		StartedAt:  st.StartedAt,
		FinishedAt: d.now(),
		Requested:  count,
		Completed:  completed,
		Succeeded:  succeeded,
		Cancelled:  cancelled,
	})
	return results
}

// RunForUsers runs every user's loop concurrently and waits for all of them.
func (d *Dispatcher) RunForUsers(ctx context.Context, userIDs []string) map[string][]remote.Response {
	out := map[string][]remote.Response{}
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		d.log.Warn("dispatch requested without users")
		return out
	}

	d.notify.Publish(progress.Notification{
		Message: fmt.Sprintf("Starting requests for %d users: %s", len(ids), strings.Join(ids, ", ")),
	})

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res := d.RunForUser(ctx, id)
			mu.Lock()
			out[id] = res
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	d.notify.Publish(progress.Notification{
		Message:  fmt.Sprintf("All users completed: %s", strings.Join(ids, ", ")),
		Complete: true,
	})
	return out
}

// Stop asks the user's loop to end at its next check. Safe when nothing runs.
func (d *Dispatcher) Stop(userID string) {
	d.mu.Lock()
	st := d.runs[userID]
	d.mu.Unlock()
	if st != nil {
		st.stop()
	}
}

func (d *Dispatcher) StopAll() {
	d.mu.Lock()
	states := make([]*RunState, 0, len(d.runs))
	for _, st := range d.runs {
		states = append(states, st)
	}
	d.mu.Unlock()
	for _, st := range states {
		st.stop()
	}
}

// IsActive reports whether a loop is in flight for the user.
func (d *Dispatcher) IsActive(userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.runs[userID]
	return ok && st.Active()
}

// Active returns a snapshot of every loop in flight.
func (d *Dispatcher) Active() map[string]RunInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]RunInfo, len(d.runs))
	for id, st := range d.runs {
		out[id] = st.info()
	}
	return out
}

// Wait blocks until every loop has returned or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errAlreadyRunning = errors.New("a run is already in progress; stop it first")

func (d *Dispatcher) register(userID string, count int) (*RunState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.runs[userID]; busy {
		return nil, errAlreadyRunning
	}
	st := newRunState(userID, count, d.now())
	d.runs[userID] = st
	return st, nil
}

func (d *Dispatcher) unregister(userID string, st *RunState) {
	d.mu.Lock()
	if d.runs[userID] == st {
		delete(d.runs, userID)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) record(ctx context.Context, r storage.RunRecord) {
	if d.history == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.history.AppendRun(rctx, r); err != nil {
		d.log.Warn("run history append failed", logx.String("user", r.UserID), logx.Err(err))
	}
}

// wait sleeps for d unless the run is stopped or ctx ends first.
func wait(ctx context.Context, stopped <-chan struct{}, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stopped:
	case <-ctx.Done():
	}
}

func bodyText(r remote.Response) string {
	if len(r.Body) == 0 {
		return fmt.Sprintf("http %d", r.StatusCode)
	}
	return string(r.Body)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
