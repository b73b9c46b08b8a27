package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autoreg/internal/progress"
	kit "autoreg/internal/transport"
	logx "autoreg/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	to    []kit.ChatTarget
	fails int
	calls int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("telegram: 502")
	}
	f.texts = append(f.texts, text)
	f.to = append(f.to, to)
	return nil
}

func (f *fakeSender) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...), f.calls
}

func fastConfig() Config {
	return Config{
		Target:        kit.ChatTarget{ChatID: -100, ThreadID: 7},
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayForwardsEnabledCategories(t *testing.T) {
	t.Parallel()

	bus := progress.NewBus()
	snd := &fakeSender{}
	s := New(fastConfig(), bus, snd, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(progress.Notification{Message: "[User a] Request 1 of 3", UserID: "a", Status: progress.Active("Running")})
	bus.Publish(progress.Notification{Message: "[User a] Run completed. 3 of 3 successful.", UserID: "a", Complete: true})
	bus.Publish(progress.Notification{Message: "boom", Status: progress.Errored("Error")})

	waitFor(t, func() bool { got, _ := snd.snapshot(); return len(got) == 2 })
	got, _ := snd.snapshot()
	if !strings.HasPrefix(got[0], "✅ ") || !strings.HasPrefix(got[1], "❌ ") {
		t.Fatalf("texts = %q", got)
	}
	if st := s.Stats(); st.Sent != 2 || st.Filtered != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if snd.to[0] != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) {
		t.Fatalf("target = %+v", snd.to[0])
	}
}

func TestRelayRetriesThenGivesUp(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fails: 2}
	s := New(fastConfig(), progress.NewBus(), snd, logx.Nop())
	s.Start(context.Background())
	if err := s.Relay(progress.Notification{Message: "done", Complete: true}); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	waitFor(t, func() bool { return s.Stats().Sent == 1 })
	if _, calls := snd.snapshot(); calls != 3 {
		t.Fatalf("calls = %d", calls)
	}

	snd.mu.Lock()
	snd.fails = 10
	snd.mu.Unlock()
	_ = s.Relay(progress.Notification{Message: "again", Complete: true})
	waitFor(t, func() bool { return s.Stats().Failed == 1 })
	s.Stop(context.Background())
}

func TestRelayApplyChangesEvents(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{}
	s := New(fastConfig(), progress.NewBus(), snd, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	cfg := fastConfig()
	cfg.Events = []string{"info"}
	s.Apply(cfg)
	_ = s.Relay(progress.Notification{Message: "done", Complete: true})
	_ = s.Relay(progress.Notification{Message: "[User a] Request 1 of 3"})
	waitFor(t, func() bool { return s.Stats().Sent == 1 })
	if got, _ := snd.snapshot(); got[0] != "[User a] Request 1 of 3" {
		t.Fatalf("texts = %q", got)
	}
}

func TestRelayStoppedRejects(t *testing.T) {
	t.Parallel()

	s := New(fastConfig(), progress.NewBus(), &fakeSender{}, logx.Nop())
	if err := s.Relay(progress.Notification{Message: "x", Complete: true}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start: %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
	if err := s.Relay(progress.Notification{Message: "x", Complete: true}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: %v", err)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		n    progress.Notification
		want string
	}{
		{progress.Notification{}, ""},
		{progress.Notification{Status: progress.Inactive("Idle")}, "Idle"},
		{progress.Notification{Message: "Schedule confirmed", ScheduledUsers: []string{"a"}}, "⏰ Schedule confirmed"},
		{progress.Notification{Message: "Schedule cancelled", CancelledUsers: []string{"a"}}, "🛑 Schedule cancelled"},
	}
	for _, tc := range cases {
		if got := Format(tc.n); got != tc.want {
			t.Fatalf("Format(%+v) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
