package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autoreg/internal/progress"
	"autoreg/internal/remote"
	logx "autoreg/pkg/logx"
)

// DefaultTimezone is used when Config.Timezone is empty.
const DefaultTimezone = "America/Lima"

var (
	ErrNoUsers = errors.New("no users selected")
	ErrNoTime  = errors.New("schedule time required")
)

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ; fire times are rendered in this zone
}

// Runner is the multi-user dispatch the scheduler fires.
type Runner interface {
	RunForUsers(ctx context.Context, userIDs []string) map[string][]remote.Response
}

// Outcome describes what Schedule did.
type Outcome struct {
	Immediate bool // fire time had passed; dispatch started right away
	TriggerID string
	FireAt    time.Time
}

type trigger struct {
	id      string
	fireAt  time.Time
	spec    string
	entryID cron.EntryID
	users   map[string]struct{}
}

type entry struct {
	fireAt    time.Time
	triggerID string
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithClock overrides time.Now for the past-due check.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	now    func() time.Time
	notify progress.Publisher
	runner Runner

	parser cron.Parser
	c      *cron.Cron

	triggers map[string]*trigger
	entries  map[string]entry

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// TriggerInfo is one pending trigger in a Snapshot.
type TriggerInfo struct {
	ID     string    `json:"id"`
	FireAt time.Time `json:"fireAt"`
	Spec   string    `json:"spec"`
	Users  []string  `json:"users"`
	Next   time.Time `json:"next,omitempty"`
}

type Snapshot struct {
	Running  bool          `json:"running"`
	Timezone string        `json:"timezone"`
	Triggers []TriggerInfo `json:"triggers"`
}
