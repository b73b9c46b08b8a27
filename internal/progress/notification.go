package progress

import (
	"time"

	"autoreg/internal/eventbus"
	"autoreg/internal/userconfig"
)

type StatusType string

const (
	StatusActive    StatusType = "active"
	StatusScheduled StatusType = "scheduled"
	StatusError     StatusType = "error"
	StatusInactive  StatusType = "inactive"
)

type Status struct {
	Type StatusType `json:"type"`
	Text string     `json:"text"`
}

// Notification is one event pushed to every subscriber. All fields are optional.
type Notification struct {
	Message        string        `json:"message,omitempty"`
	UserID         string        `json:"userId,omitempty"`
	Status         *Status       `json:"status,omitempty"`
	Complete       bool          `json:"complete,omitempty"`
	ScheduledUsers []string      `json:"scheduledUsers,omitempty"`
	CancelledUsers []string      `json:"cancelledUsers,omitempty"`
	ScheduleTime   string        `json:"scheduleTime,omitempty"`
	InitialState   *InitialState `json:"initialState,omitempty"`
}

// InitialState is sent once to a new subscriber before any live event.
type InitialState struct {
	ScheduledUsers []string                         `json:"scheduledUsers"`
	ScheduleInfo   map[string]ScheduleInfo          `json:"scheduleInfo"`
	UsersConfig    map[string]userconfig.UserConfig `json:"usersConfig"`
}

type ScheduleInfo struct {
	IsScheduled  bool    `json:"isScheduled"`
	ScheduleTime *string `json:"scheduleTime"`
}

// Category classifies a notification for downstream filtering (relay).
// It returns "complete", "error", "scheduled", "cancelled" or "info".
func (n Notification) Category() string {
	switch {
	case n.Status != nil && n.Status.Type == StatusError:
		return "error"
	case n.Complete:
		return "complete"
	case len(n.ScheduledUsers) > 0:
		return "scheduled"
	case len(n.CancelledUsers) > 0:
		return "cancelled"
	default:
		return "info"
	}
}

// Publisher is the write side of the notifier.
type Publisher interface {
	Publish(n Notification)
}

// Bus is the notifier: register, unregister and broadcast of Notifications.
type Bus = eventbus.Bus[Notification]

func NewBus() *eventbus.Mem[Notification] { return eventbus.New[Notification]() }

// Discard drops every notification.
type Discard struct{}

func (Discard) Publish(Notification) {}

func Active(text string) *Status    { return &Status{Type: StatusActive, Text: text} }
func Scheduled(text string) *Status { return &Status{Type: StatusScheduled, Text: text} }
func Errored(text string) *Status   { return &Status{Type: StatusError, Text: text} }
func Inactive(text string) *Status  { return &Status{Type: StatusInactive, Text: text} }

// ISOTime renders t as a UTC millisecond timestamp ("2006-01-02T15:04:05.000Z"),
// the format browsers parse with new Date().
func ISOTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z") }
