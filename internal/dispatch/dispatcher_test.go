package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"autoreg/internal/progress"
	"autoreg/internal/remote"
	"autoreg/internal/storage"
	"autoreg/internal/userconfig"
)

type fakeRemote struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(user string, n int) (remote.Response, error)
}

func (f *fakeRemote) Submit(ctx context.Context, cred remote.Credentials) (remote.Response, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[cred.Primary]++
	n := f.calls[cred.Primary]
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(cred.Primary, n)
	}
	return remote.Response{StatusCode: 200, Code: 200, HasCode: true, Body: []byte(`{"code":200}`)}, nil
}

func (f *fakeRemote) count(user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[user]
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

func (r *recorder) all() []progress.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Notification(nil), r.items...)
}

func (r *recorder) find(pred func(progress.Notification) bool) []progress.Notification {
	var out []progress.Notification
	for _, n := range r.all() {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

type memHistory struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (m *memHistory) AppendRun(ctx context.Context, r storage.RunRecord) error {
	m.mu.Lock()
	m.runs = append(m.runs, r)
	m.mu.Unlock()
	return nil
}

func (m *memHistory) RecentRuns(ctx context.Context, userID string, limit int) ([]storage.RunRecord, error) {
	return nil, nil
}

func (m *memHistory) Close() error { return nil }

// setup stores one config per user; the credential doubles as the user key in fakeRemote.
func setup(t *testing.T, users map[string][2]int, rc *fakeRemote, opts ...Option) (*Dispatcher, *recorder) {
	t.Helper()
	store := userconfig.New(userconfig.Defaults{})
	for id, v := range users {
		store.Update(id, userconfig.Patch{CredentialPrimary: userconfig.Str(id), RequestCount: v[0], DelayMs: v[1]})
	}
	rec := &recorder{}
	return New(Config{}, store, rc, rec, opts...), rec
}

func isComplete(user string) func(progress.Notification) bool {
	return func(n progress.Notification) bool { return n.Complete && n.UserID == user }
}

func isError(n progress.Notification) bool {
	return n.Status != nil && n.Status.Type == progress.StatusError
}

func TestRunForUserAllSucceed(t *testing.T) {
	t.Parallel()

	rc := &fakeRemote{}
	d, rec := setup(t, map[string][2]int{"a": {3, 0}}, rc)

	res := d.RunForUser(context.Background(), "a")
	if len(res) != 3 || rc.count("a") != 3 {
		t.Fatalf("results=%d calls=%d, want 3/3", len(res), rc.count("a"))
	}
	done := rec.find(isComplete("a"))
	if len(done) != 1 || !strings.Contains(done[0].Message, "3 of 3 successful") {
		t.Fatalf("completion = %+v", done)
	}
	if d.IsActive("a") || len(d.Active()) != 0 {
		t.Fatalf("run state not discarded")
	}
}

func TestRunForUserContainsNetworkError(t *testing.T) {
	t.Parallel()

	rc := &fakeRemote{fn: func(user string, n int) (remote.Response, error) {
		if n == 1 {
			return remote.Response{}, errors.New("connection reset")
		}
		return remote.Response{StatusCode: 200, Code: 1, HasCode: true}, nil
	}}
	d, rec := setup(t, map[string][2]int{"a": {2, 0}}, rc)

	res := d.RunForUser(context.Background(), "a")
	if len(res) != 1 {
		t.Fatalf("results = %d, want 1", len(res))
	}
	if errs := rec.find(isError); len(errs) != 1 || !strings.Contains(errs[0].Message, "connection reset") {
		t.Fatalf("error notifications = %+v", errs)
	}
	done := rec.find(isComplete("a"))
	if len(done) != 1 || !strings.Contains(done[0].Message, "1 of 2 successful") {
		t.Fatalf("completion = %+v", done)
	}
}

func TestRunForUserSoftFailureNotCounted(t *testing.T) {
	t.Parallel()

	rc := &fakeRemote{fn: func(user string, n int) (remote.Response, error) {
		return remote.Response{StatusCode: 200, Code: 500, HasCode: true, SoftFailure: n == 2}, nil
	}}
	d, rec := setup(t, map[string][2]int{"a": {3, 0}}, rc)

	res := d.RunForUser(context.Background(), "a")
	if len(res) != 3 {
		t.Fatalf("results = %d", len(res))
	}
	if len(rec.find(isError)) != 0 {
		t.Fatalf("soft failure must not emit an error notification")
	}
	done := rec.find(isComplete("a"))
	if len(done) != 1 || !strings.Contains(done[0].Message, "2 of 3 successful") {
		t.Fatalf("completion = %+v", done)
	}
}

func TestStopBetweenRequests(t *testing.T) {
	t.Parallel()

	var d *Dispatcher
	rc := &fakeRemote{}
	rc.fn = func(user string, n int) (remote.Response, error) {
		if n == 2 {
			d.Stop(user)
		}
		return remote.Response{StatusCode: 200}, nil
	}
	d, rec := setup(t, map[string][2]int{"a": {5, 0}}, rc)

	res := d.RunForUser(context.Background(), "a")
	if rc.count("a") != 2 || len(res) != 2 {
		t.Fatalf("calls=%d results=%d, want 2", rc.count("a"), len(res))
	}
	cancelled := rec.find(func(n progress.Notification) bool {
		return n.UserID == "a" && n.Status != nil && n.Status.Text == "Cancelled"
	})
	if len(cancelled) != 1 {
		t.Fatalf("cancel notifications = %+v", cancelled)
	}
	done := rec.find(isComplete("a"))
	if len(done) != 1 || !strings.Contains(done[0].Message, "2 of 5") {
		t.Fatalf("completion = %+v", done)
	}
}

func TestStopWakesDelay(t *testing.T) {
	t.Parallel()

	var d *Dispatcher
	rc := &fakeRemote{}
	rc.fn = func(user string, n int) (remote.Response, error) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			d.Stop(user)
		}()
		return remote.Response{StatusCode: 200}, nil
	}
	d, _ = setup(t, map[string][2]int{"a": {3, 60_000}}, rc)

	start := time.Now()
	d.RunForUser(context.Background(), "a")
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("stop did not wake the delay, took %v", took)
	}
	if rc.count("a") != 1 {
		t.Fatalf("calls = %d", rc.count("a"))
	}
}

func TestRunForUserUnknownUser(t *testing.T) {
	t.Parallel()

	rc := &fakeRemote{}
	d, rec := setup(t, nil, rc)

	res := d.RunForUser(context.Background(), "ghost")
	if res == nil || len(res) != 0 {
		t.Fatalf("res = %#v, want empty", res)
	}
	errs := rec.find(isError)
	if len(errs) != 1 || errs[0].UserID != "ghost" {
		t.Fatalf("errors = %+v", errs)
	}
}

func TestRunForUsersConcurrent(t *testing.T) {
	t.Parallel()

	started := make(chan string, 2)
	release := make(chan struct{})
	rc := &fakeRemote{fn: func(user string, n int) (remote.Response, error) {
		if n == 1 {
			started <- user
			<-release
		}
		return remote.Response{StatusCode: 200}, nil
	}}
	d, rec := setup(t, map[string][2]int{"a": {2, 0}, "b": {3, 0}}, rc)

	resCh := make(chan map[string][]remote.Response, 1)
	go func() { resCh <- d.RunForUsers(context.Background(), []string{"a", "b", "a"}) }()

	// Both loops must be in flight at once.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatalf("loops did not start concurrently")
		}
	}
	close(release)

	res := <-resCh
	if len(res) != 2 || len(res["a"]) > 2 || len(res["b"]) > 3 || len(res["a"]) == 0 || len(res["b"]) == 0 {
		t.Fatalf("res = %v", res)
	}
	all := rec.all()
	last := all[len(all)-1]
	if !last.Complete || last.UserID != "" || !strings.Contains(last.Message, "a, b") {
		t.Fatalf("last notification = %+v", last)
	}
}

func TestRunForUsersEmpty(t *testing.T) {
	t.Parallel()

	d, rec := setup(t, nil, &fakeRemote{})
	for _, ids := range [][]string{nil, {}, {" ", ""}} {
		if res := d.RunForUsers(context.Background(), ids); len(res) != 0 {
			t.Fatalf("ids %v: res = %v", ids, res)
		}
	}
	if len(rec.all()) != 0 {
		t.Fatalf("unexpected notifications: %+v", rec.all())
	}
}

func TestSecondRunForSameUserRejected(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	rc := &fakeRemote{fn: func(user string, n int) (remote.Response, error) {
		if n == 1 {
			close(entered)
			<-release
		}
		return remote.Response{StatusCode: 200}, nil
	}}
	d, rec := setup(t, map[string][2]int{"a": {2, 0}}, rc)

	done := make(chan []remote.Response, 1)
	go func() { done <- d.RunForUser(context.Background(), "a") }()
	<-entered

	if !d.IsActive("a") {
		t.Fatalf("expected active run")
	}
	if info := d.Active()["a"]; info.TotalRequested != 2 {
		t.Fatalf("info = %+v", info)
	}
	if res := d.RunForUser(context.Background(), "a"); len(res) != 0 {
		t.Fatalf("second run returned %d results", len(res))
	}
	if errs := rec.find(isError); len(errs) != 1 {
		t.Fatalf("errors = %+v", errs)
	}

	close(release)
	if res := <-done; len(res) != 2 {
		t.Fatalf("first run results = %d", len(res))
	}
	if rc.count("a") != 2 {
		t.Fatalf("calls = %d", rc.count("a"))
	}
}

func TestStopIsIdempotentWithoutRun(t *testing.T) {
	t.Parallel()

	d, _ := setup(t, nil, &fakeRemote{})
	d.Stop("nobody")
	d.Stop("nobody")
	d.StopAll()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestHistoryRecorded(t *testing.T) {
	t.Parallel()

	h := &memHistory{}
	d, _ := setup(t, map[string][2]int{"a": {2, 0}}, &fakeRemote{}, WithHistory(h))
	d.RunForUser(context.Background(), "a")

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.runs) != 1 {
		t.Fatalf("runs = %+v", h.runs)
	}
	r := h.runs[0]
	if r.UserID != "a" || r.Requested != 2 || r.Completed != 2 || r.Succeeded != 2 || r.Cancelled {
		t.Fatalf("record = %+v", r)
	}
}

func TestCancelledContextStopsLoop(t *testing.T) {
	t.Parallel()

	rc := &fakeRemote{}
	d, _ := setup(t, map[string][2]int{"a": {4, 0}}, rc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := d.RunForUser(ctx, "a"); len(res) != 0 || rc.count("a") != 0 {
		t.Fatalf("res=%d calls=%d", len(res), rc.count("a"))
	}
}
