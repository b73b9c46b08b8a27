package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// RunState tracks one user's loop while it is in flight.
type RunState struct {
	UserID         string
	StartedAt      time.Time
	TotalRequested int

	active    atomic.Bool
	completed atomic.Int64
	succeeded atomic.Int64

	stopOnce sync.Once
	stopped  chan struct{}
}

func newRunState(userID string, total int, now time.Time) *RunState {
	st := &RunState{
		UserID:         userID,
		StartedAt:      now,
		TotalRequested: total,
		stopped:        make(chan struct{}),
	}
	st.active.Store(true)
	return st
}

// Active reports whether the loop may issue another request.
func (st *RunState) Active() bool { return st.active.Load() }

// stop flips the flag and wakes a pending inter-request wait.
func (st *RunState) stop() {
	st.active.Store(false)
	st.stopOnce.Do(func() { close(st.stopped) })
}

// RunInfo is a point-in-time view of a RunState.
type RunInfo struct {
	UserID         string    `json:"userId"`
	StartedAt      time.Time `json:"startedAt"`
	TotalRequested int       `json:"totalRequested"`
	Completed      int       `json:"completed"`
	Succeeded      int       `json:"succeeded"`
	Active         bool      `json:"active"`
}

func (st *RunState) info() RunInfo {
	return RunInfo{
		UserID:         st.UserID,
		StartedAt:      st.StartedAt,
		TotalRequested: st.TotalRequested,
		Completed:      int(st.completed.Load()),
		Succeeded:      int(st.succeeded.Load()),
		Active:         st.active.Load(),
	}
}
