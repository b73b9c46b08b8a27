package control

import (
	"context"
	"errors"
	"time"

	"autoreg/internal/dispatch"
	"autoreg/internal/progress"
	"autoreg/internal/remote"
	"autoreg/internal/scheduler"
	"autoreg/internal/storage"
	"autoreg/internal/userconfig"
)

// Dispatcher is the part of dispatch.Dispatcher the commands drive.
type Dispatcher interface {
	RunForUsers(ctx context.Context, userIDs []string) map[string][]remote.Response
	Stop(userID string)
	StopAll()
	Active() map[string]dispatch.RunInfo
}

// Scheduler is the part of scheduler.Service the commands drive.
type Scheduler interface {
	Schedule(userIDs []string, fireAt time.Time) (scheduler.Outcome, error)
	Cancel(userIDs []string) bool
	State() map[string]time.Time
	Location() *time.Location
}

// RunRequest carries the users to run and the config to apply first.
// Per-user fields win over GlobalConfig field by field.
type RunRequest struct {
	UserIDs      []string                    `json:"userIds"`
	GlobalConfig userconfig.Patch            `json:"globalConfig"`
	UsersConfig  map[string]userconfig.Patch `json:"usersConfig"`
}

type ScheduleRequest struct {
	RunRequest
	ScheduleTime string `json:"scheduleTime"`
}

type UsersRequest struct {
	UserIDs []string `json:"userIds"`
}

type SaveRequest struct {
	GlobalConfig userconfig.Patch            `json:"globalConfig"`
	UsersConfig  map[string]userconfig.Patch `json:"usersConfig"`
}

// Ack is the synchronous acknowledgment of a command.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Profile is a predefined user offered to clients.
type Profile struct {
	ID   string `json:"userId"`
	Name string `json:"name"`
}

// StateView is the polling counterpart of the initial SSE event.
type StateView struct {
	Timezone     string                           `json:"timezone"`
	ScheduleInfo map[string]progress.ScheduleInfo `json:"scheduleInfo"`
	UsersConfig  map[string]userconfig.UserConfig `json:"usersConfig"`
	Active       map[string]dispatch.RunInfo      `json:"active"`
}

var ErrInvalid = errors.New("invalid input")

// Error is the only error the commands return. It always wraps ErrInvalid.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalid}
	}
	return []error{ErrInvalid, e.Err}
}

func invalid(msg string, err error) *Error { return &Error{Msg: msg, Err: err} }

// historyReader is the read side of storage.Store.
type historyReader interface {
	RecentRuns(ctx context.Context, userID string, limit int) ([]storage.RunRecord, error)
}
