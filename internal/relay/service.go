// Package relay forwards progress notifications to a Telegram chat through
// a bounded queue, a worker pool, a rate limiter and retry with backoff.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"autoreg/internal/progress"
	"autoreg/internal/runtime/supervisor"
	kit "autoreg/internal/transport"
	logx "autoreg/pkg/logx"
)

// Service is safe for concurrent use.
type Service struct {
	bus    progress.Bus
	sender kit.Sender
	log    logx.Logger

	mu        sync.Mutex
	cfg       Config
	events    map[string]bool
	limiter   *rate.Limiter
	accepting bool
	queue     chan job
	unsub     func()
	sup       *supervisor.Supervisor

	sent, failed, dropped, filtered atomic.Uint64
}

func New(cfg Config, bus progress.Bus, sender kit.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{bus: bus, sender: sender, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	events := cfg.Events
	if len(events) == 0 {
		events = DefaultEvents
	}
	s.events = make(map[string]bool, len(events))
	for _, e := range events {
		s.events[strings.ToLower(strings.TrimSpace(e))] = true
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus and starts the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || s.sender == nil || s.bus == nil {
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	events, unsub := s.bus.Subscribe(s.cfg.QueueSize)
	s.unsub = unsub
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	q := s.queue

	s.sup.GoRestart("relay.pump", func(c context.Context) error {
		return s.pump(c, events)
	})
	for i := range s.cfg.Workers {
		s.sup.GoRestart(fmt.Sprintf("relay.worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		})
	}
	s.log.Info("relay started", logx.Int64("chat_id", s.cfg.Target.ChatID), logx.Int("workers", s.cfg.Workers))
}

// Stop ends intake and drains queued messages until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	unsub, sup := s.unsub, s.sup
	close(s.queue)
	s.queue, s.unsub, s.sup = nil, nil, nil
	s.mu.Unlock()

	unsub()
	if err := sup.Wait(ctx); err != nil {
		s.log.Warn("relay drain incomplete", logx.Err(err))
		_ = sup.Stop(context.Background())
	}
}

// Supervisor returns the running supervisor, or nil when stopped.
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Stats() Stats {
	return Stats{
		Sent:     s.sent.Load(),
		Failed:   s.failed.Load(),
		Dropped:  s.dropped.Load(),
		Filtered: s.filtered.Load(),
	}
}

func (s *Service) pump(ctx context.Context, events <-chan progress.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-events:
			if !ok {
				return nil
			}
			if err := s.Relay(n); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Debug("relay enqueue failed", logx.Err(err))
			}
		}
	}
}

// Relay queues n when its category is enabled. Filtered notifications
// return nil.
func (s *Service) Relay(n progress.Notification) error {
	cat := n.Category()
	text := Format(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return ErrStopped
	}
	if !s.events[cat] || text == "" {
		s.filtered.Add(1)
		return nil
	}
	select {
	case s.queue <- job{category: cat, text: text}:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := s.sender.SendText(callCtx, cfg.Target, j.text, &kit.SendOptions{DisablePreview: true})
		cancel()
		if err == nil {
			s.sent.Add(1)
			return
		}
		lastErr = err
		s.log.Debug("relay send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.failed.Add(1)
	s.log.Warn("relay gave up", logx.String("category", j.category), logx.Err(lastErr))
}

// retryDelay is the jittered exponential delay before attempt+1.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}

// Format renders n as a single chat line. It returns "" when there is
// nothing to say.
func Format(n progress.Notification) string {
	text := strings.TrimSpace(n.Message)
	if text == "" && n.Status != nil {
		text = strings.TrimSpace(n.Status.Text)
	}
	if text == "" {
		return ""
	}
	switch n.Category() {
	case "error":
		return "❌ " + text
	case "complete":
		return "✅ " + text
	case "scheduled":
		return "⏰ " + text
	case "cancelled":
		return "🛑 " + text
	default:
		return text
	}
}
