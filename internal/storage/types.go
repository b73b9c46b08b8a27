package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord summarizes one finished dispatch loop.
type RunRecord struct {
	UserID     string    `json:"userId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Requested  int       `json:"requested"`
	Completed  int       `json:"completed"`
	Succeeded  int       `json:"succeeded"`
	Cancelled  bool      `json:"cancelled"`
}
