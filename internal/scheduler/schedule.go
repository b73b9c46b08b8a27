package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"autoreg/internal/progress"
	logx "autoreg/pkg/logx"
)

const displayLayout = "2006-01-02 15:04:05 MST"

// calendarSpec renders a one-shot instant as "S M H DoM Mon *".
func calendarSpec(t time.Time) string {
	return fmt.Sprintf("%d %d %d %d %d *", t.Second(), t.Minute(), t.Hour(), t.Day(), int(t.Month()))
}

// Schedule fires a multi-user dispatch at fireAt, exactly once. Every listed
// user's previous entry is superseded. All users of one call share a single
// trigger. A fire time that is not in the future dispatches immediately.
func (s *Service) Schedule(userIDs []string, fireAt time.Time) (Outcome, error) {
	ids := normalize(userIDs)
	if len(ids) == 0 {
		s.notify.Publish(progress.Notification{
			Message: "Error: no users selected for scheduling",
			Status:  progress.Errored("Error"),
		})
		return Outcome{}, ErrNoUsers
	}
	if fireAt.IsZero() {
		s.notify.Publish(progress.Notification{
			Message: "Error: a schedule time is required",
			Status:  progress.Errored("Error"),
		})
		return Outcome{}, ErrNoTime
	}

	if !fireAt.After(s.now()) {
		s.mu.Lock()
		for _, id := range ids {
			s.removeUserLocked(id)
		}
		s.mu.Unlock()

		s.log.Info("schedule time already passed; running now", logx.Strings("users", ids), logx.Time("fire_at", fireAt))
		s.notify.Publish(progress.Notification{
			Message: "The scheduled time has already passed. Running immediately...",
		})
		s.dispatch(ids)
		return Outcome{Immediate: true, FireAt: fireAt}, nil
	}

	s.mu.Lock()
	for _, id := range ids {
		s.removeUserLocked(id)
	}
	t := &trigger{
		id:     uuid.NewString(),
		fireAt: fireAt,
		users:  make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		t.users[id] = struct{}{}
		s.entries[id] = entry{fireAt: fireAt, triggerID: t.id}
	}
	s.triggers[t.id] = t
	if s.c != nil {
		s.addCronLocked(t)
	} else {
		t.spec = calendarSpec(fireAt.In(s.loc))
	}
	local := fireAt.In(s.loc).Format(displayLayout)
	s.mu.Unlock()

	s.log.Info("dispatch scheduled", logx.String("trigger", t.id), logx.Strings("users", ids), logx.String("at", local))
	s.notify.Publish(progress.Notification{
		Message:        fmt.Sprintf("Schedule confirmed for %s: %s", strings.Join(ids, ", "), local),
		Status:         progress.Scheduled("Scheduled for: " + local),
		ScheduledUsers: ids,
		ScheduleTime:   progress.ISOTime(fireAt),
	})
	return Outcome{TriggerID: t.id, FireAt: fireAt}, nil
}

// Cancel removes the schedule of the listed users, or of everyone when
// userIDs is empty. It reports whether anything was cancelled.
func (s *Service) Cancel(userIDs []string) bool {
	ids := normalize(userIDs)

	s.mu.Lock()
	if len(ids) == 0 {
		for id := range s.entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	var cancelled []string
	for _, id := range ids {
		if s.removeUserLocked(id) {
			cancelled = append(cancelled, id)
		}
	}
	s.mu.Unlock()

	if len(cancelled) == 0 {
		return false
	}
	s.log.Info("schedule cancelled", logx.Strings("users", cancelled))
	s.notify.Publish(progress.Notification{
		Message:        "Schedule cancelled for: " + strings.Join(cancelled, ", "),
		Status:         progress.Inactive("Idle"),
		CancelledUsers: cancelled,
	})
	return true
}

// State returns the fire time of every scheduled user.
func (s *Service) State() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.fireAt
	}
	return out
}

// fire runs when a trigger's calendar instant matches. The trigger and its
// users' entries are cleared before the dispatch starts.
func (s *Service) fire(triggerID string) {
	s.mu.Lock()
	t, ok := s.triggers[triggerID]
	if !ok {
		s.mu.Unlock()
		return
	}
	// Cron expressions carry no year; a match a year early is ignored.
	if s.now().Before(t.fireAt.Add(-time.Second)) {
		s.mu.Unlock()
		return
	}
	s.dropTriggerLocked(t)
	users := make([]string, 0, len(t.users))
	for id := range t.users {
		if e, ok := s.entries[id]; ok && e.triggerID == triggerID {
			delete(s.entries, id)
		}
		users = append(users, id)
	}
	s.mu.Unlock()

	sort.Strings(users)
	s.log.Info("trigger fired", logx.String("trigger", triggerID), logx.Strings("users", users))
	s.notify.Publish(progress.Notification{
		Message: fmt.Sprintf("Scheduled time reached. Running requests for: %s", strings.Join(users, ", ")),
	})
	s.dispatch(users)
}

// removeUserLocked clears the user's entry and tears the trigger down when
// no user is left on it. Call with s.mu held.
func (s *Service) removeUserLocked(userID string) bool {
	e, ok := s.entries[userID]
	if !ok {
		return false
	}
	delete(s.entries, userID)
	if t, ok := s.triggers[e.triggerID]; ok {
		delete(t.users, userID)
		if len(t.users) == 0 {
			s.dropTriggerLocked(t)
		}
	}
	return true
}

func (s *Service) dropTriggerLocked(t *trigger) {
	if s.c != nil && t.entryID != 0 {
		s.c.Remove(t.entryID)
	}
	t.entryID = 0
	delete(s.triggers, t.id)
	s.log.Debug("trigger removed", logx.String("id", t.id))
}

func normalize(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
