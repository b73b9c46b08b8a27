package relay

import (
	"errors"
	"time"

	kit "autoreg/internal/transport"
)

var (
	ErrQueueFull = errors.New("relay queue full")
	ErrStopped   = errors.New("relay stopped")
)

// DefaultEvents are relayed when Config.Events is empty. Per-request "info"
// lines are left out; a busy run would flood the chat.
var DefaultEvents = []string{"complete", "error", "scheduled", "cancelled"}

// Config controls the relay pipeline. Workers and QueueSize take effect on
// the next Start; the rest applies live.
type Config struct {
	Target        kit.ChatTarget
	Events        []string
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Stats are delivery counters since construction.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	Filtered uint64 `json:"filtered"`
}

type job struct {
	category string
	text     string
}
