package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"autoreg/internal/progress"
	"autoreg/internal/remote"
)

type fakeRunner struct {
	calls chan []string
	block bool
}

func newRunner() *fakeRunner { return &fakeRunner{calls: make(chan []string, 8)} }

func (r *fakeRunner) RunForUsers(ctx context.Context, ids []string) map[string][]remote.Response {
	r.calls <- append([]string(nil), ids...)
	if r.block {
		<-ctx.Done()
	}
	return map[string][]remote.Response{}
}

func (r *fakeRunner) next(t *testing.T, within time.Duration) []string {
	t.Helper()
	select {
	case ids := <-r.calls:
		return ids
	case <-time.After(within):
		t.Fatalf("no dispatch within %v", within)
		return nil
	}
}

type recorder struct {
	mu    sync.Mutex
	items []progress.Notification
}

func (r *recorder) Publish(n progress.Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *recorder) last() progress.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return progress.Notification{}
	}
	return r.items[len(r.items)-1]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var base = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T, r Runner) (*Service, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := &clock{t: base}
	return New(Config{Timezone: "UTC"}, r, rec, WithClock(clk.now)), rec, clk
}

func TestScheduleRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	s, rec, _ := newService(t, newRunner())
	if _, err := s.Schedule(nil, base.Add(time.Hour)); !errors.Is(err, ErrNoUsers) {
		t.Fatalf("err = %v, want ErrNoUsers", err)
	}
	if n := rec.last(); n.Status == nil || n.Status.Type != progress.StatusError {
		t.Fatalf("notification = %+v", n)
	}
	if _, err := s.Schedule([]string{"a"}, time.Time{}); !errors.Is(err, ErrNoTime) {
		t.Fatalf("err = %v, want ErrNoTime", err)
	}
	if len(s.State()) != 0 {
		t.Fatalf("state mutated on invalid input")
	}
}

func TestScheduleSupersedesPreviousEntry(t *testing.T) {
	t.Parallel()

	s, rec, _ := newService(t, newRunner())
	t1, t2 := base.Add(time.Hour), base.Add(2*time.Hour)
	first, err := s.Schedule([]string{"a"}, t1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Schedule([]string{"a"}, t2)
	if err != nil {
		t.Fatal(err)
	}
	if first.TriggerID == second.TriggerID {
		t.Fatalf("expected a new trigger")
	}
	if got := s.State(); !reflect.DeepEqual(got, map[string]time.Time{"a": t2}) {
		t.Fatalf("state = %v", got)
	}
	snap := s.Snapshot()
	if len(snap.Triggers) != 1 || snap.Triggers[0].ID != second.TriggerID {
		t.Fatalf("triggers = %+v", snap.Triggers)
	}
	n := rec.last()
	if !reflect.DeepEqual(n.ScheduledUsers, []string{"a"}) || n.ScheduleTime != "2026-03-10T10:00:00.000Z" {
		t.Fatalf("scheduled notification = %+v", n)
	}
	if n.Status == nil || n.Status.Type != progress.StatusScheduled {
		t.Fatalf("status = %+v", n.Status)
	}
}

func TestSharedTriggerPartialCancel(t *testing.T) {
	t.Parallel()

	s, rec, _ := newService(t, newRunner())
	at := base.Add(time.Hour)
	if _, err := s.Schedule([]string{"a", "b"}, at); err != nil {
		t.Fatal(err)
	}
	if len(s.Snapshot().Triggers) != 1 {
		t.Fatalf("users of one call must share a trigger")
	}

	if !s.Cancel([]string{"a"}) {
		t.Fatalf("Cancel(a) reported nothing cancelled")
	}
	if got := s.State(); !reflect.DeepEqual(got, map[string]time.Time{"b": at}) {
		t.Fatalf("state = %v", got)
	}
	if n := rec.last(); !reflect.DeepEqual(n.CancelledUsers, []string{"a"}) {
		t.Fatalf("cancel notification = %+v", n)
	}
	snap := s.Snapshot()
	if len(snap.Triggers) != 1 || !reflect.DeepEqual(snap.Triggers[0].Users, []string{"b"}) {
		t.Fatalf("triggers = %+v", snap.Triggers)
	}

	if s.Cancel([]string{"a"}) {
		t.Fatalf("second Cancel(a) reported a cancellation")
	}
	s.Cancel([]string{"b"})
	if len(s.Snapshot().Triggers) != 0 {
		t.Fatalf("trigger kept after its last user was removed")
	}
}

func TestSeparateCallsDoNotMerge(t *testing.T) {
	t.Parallel()

	s, _, _ := newService(t, newRunner())
	at := base.Add(time.Hour)
	s.Schedule([]string{"a"}, at)
	s.Schedule([]string{"b"}, at)
	if n := len(s.Snapshot().Triggers); n != 2 {
		t.Fatalf("triggers = %d, want 2", n)
	}
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	s, rec, _ := newService(t, newRunner())
	if s.Cancel(nil) {
		t.Fatalf("Cancel with nothing scheduled returned true")
	}
	s.Schedule([]string{"a"}, base.Add(time.Hour))
	s.Schedule([]string{"b", "c"}, base.Add(2*time.Hour))
	if !s.Cancel(nil) {
		t.Fatalf("Cancel(nil) returned false")
	}
	if len(s.State()) != 0 || len(s.Snapshot().Triggers) != 0 {
		t.Fatalf("state not cleared")
	}
	if n := rec.last(); !reflect.DeepEqual(n.CancelledUsers, []string{"a", "b", "c"}) {
		t.Fatalf("cancelled = %v", n.CancelledUsers)
	}
}

func TestPastTimeDispatchesImmediately(t *testing.T) {
	t.Parallel()

	r := newRunner()
	s, _, _ := newService(t, r)
	s.Schedule([]string{"x"}, base.Add(time.Hour))

	out, err := s.Schedule([]string{"x"}, base.Add(-time.Minute))
	if err != nil || !out.Immediate {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if ids := r.next(t, 2*time.Second); !reflect.DeepEqual(ids, []string{"x"}) {
		t.Fatalf("dispatched %v", ids)
	}
	if _, ok := s.State()["x"]; ok {
		t.Fatalf("x still scheduled")
	}
	if len(s.Snapshot().Triggers) != 0 {
		t.Fatalf("superseded trigger kept")
	}
}

func TestFireIgnoresEarlyMatch(t *testing.T) {
	t.Parallel()

	r := newRunner()
	s, _, clk := newService(t, r)
	out, _ := s.Schedule([]string{"a"}, base.AddDate(1, 0, 0))

	s.fire(out.TriggerID)
	if len(s.State()) != 1 {
		t.Fatalf("trigger fired a year early")
	}

	clk.set(base.AddDate(1, 0, 0))
	s.fire(out.TriggerID)
	if ids := r.next(t, 2*time.Second); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Fatalf("dispatched %v", ids)
	}
	if len(s.State()) != 0 || len(s.Snapshot().Triggers) != 0 {
		t.Fatalf("entries not cleared after firing")
	}
}

func TestStartRunsOverdueTriggers(t *testing.T) {
	t.Parallel()

	r := newRunner()
	s, _, clk := newService(t, r)
	s.Schedule([]string{"a", "b"}, base.Add(time.Minute))

	clk.set(base.Add(2 * time.Minute))
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if ids := r.next(t, 2*time.Second); !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Fatalf("dispatched %v", ids)
	}
	if len(s.State()) != 0 {
		t.Fatalf("state = %v", s.State())
	}
}

func TestTriggerFiresOnce(t *testing.T) {
	t.Parallel()

	r := newRunner()
	s := New(Config{Timezone: "America/Lima"}, r, &recorder{})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	at := time.Now().Add(1500 * time.Millisecond)
	if _, err := s.Schedule([]string{"a"}, at); err != nil {
		t.Fatal(err)
	}
	if next := s.Snapshot().Triggers[0].Next; next.IsZero() {
		t.Fatalf("cron entry not installed")
	}
	if ids := r.next(t, 5*time.Second); !reflect.DeepEqual(ids, []string{"a"}) {
		t.Fatalf("dispatched %v", ids)
	}
	if len(s.State()) != 0 {
		t.Fatalf("state = %v", s.State())
	}
	select {
	case ids := <-r.calls:
		t.Fatalf("trigger fired twice: %v", ids)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestApplyTimezoneKeepsInstant(t *testing.T) {
	t.Parallel()

	s, _, _ := newService(t, newRunner())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	at := time.Now().Add(48 * time.Hour).Truncate(time.Second)
	s.Schedule([]string{"a"}, at)
	before := s.Snapshot().Triggers[0]

	s.Apply(Config{Timezone: "Asia/Tokyo"})
	after := s.Snapshot()
	if after.Timezone != "Asia/Tokyo" || len(after.Triggers) != 1 {
		t.Fatalf("snapshot = %+v", after)
	}
	if after.Triggers[0].Spec == before.Spec {
		t.Fatalf("spec not re-rendered: %s", before.Spec)
	}
	if !after.Triggers[0].Next.Equal(at) {
		t.Fatalf("next = %v, want %v", after.Triggers[0].Next, at)
	}
}

func TestStopCancelsScheduledDispatch(t *testing.T) {
	t.Parallel()

	r := newRunner()
	r.block = true
	s, _, _ := newService(t, r)
	s.Start(context.Background())
	s.Schedule([]string{"a"}, base.Add(-time.Second))
	r.next(t, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	start := time.Now()
	s.Stop(ctx)
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("Stop waited %v for a cancelled dispatch", took)
	}
}

type ctxRunner struct{ ended chan error }

func (r *ctxRunner) RunForUsers(ctx context.Context, ids []string) map[string][]remote.Response {
	<-ctx.Done()
	r.ended <- ctx.Err()
	return nil
}

func TestStartContextEndsScheduledDispatch(t *testing.T) {
	t.Parallel()

	r := &ctxRunner{ended: make(chan error, 1)}
	s, _, _ := newService(t, r)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.Schedule([]string{"a"}, base.Add(-time.Second))

	cancel()
	select {
	case err := <-r.ended:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatch kept running after the start context ended")
	}
	s.Stop(context.Background())
}

func TestCalendarSpec(t *testing.T) {
	t.Parallel()

	lima, err := time.LoadLocation("America/Lima")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	at := time.Date(2026, 12, 31, 23, 59, 7, 0, time.UTC)
	if got := calendarSpec(at.In(lima)); got != "7 59 18 31 12 *" {
		t.Fatalf("spec = %q", got)
	}
}
