package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"autoreg/internal/progress"
	"autoreg/internal/scheduler"
	"autoreg/internal/userconfig"
	logx "autoreg/pkg/logx"
)

var ErrHistoryDisabled = errors.New("run history is disabled")

// Deps wires the core components into the command layer.
type Deps struct {
	Store      *userconfig.Store
	Dispatcher Dispatcher
	Scheduler  Scheduler
	Bus        progress.Bus
	History    historyReader // nil when storage is disabled
	Profiles   []Profile
	Log        logx.Logger
}

// Service executes inbound commands. It is transport-agnostic.
type Service struct {
	store    *userconfig.Store
	disp     Dispatcher
	sched    Scheduler
	bus      progress.Bus
	history  historyReader
	profiles []Profile
	log      logx.Logger
}

func New(d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Service{
		store:    d.Store,
		disp:     d.Dispatcher,
		sched:    d.Scheduler,
		bus:      d.Bus,
		history:  d.History,
		profiles: append([]Profile(nil), d.Profiles...),
		log:      d.Log,
	}
}

// RunNow applies the request's config and starts a dispatch in the
// background. The returned Ack does not wait for the dispatch.
func (s *Service) RunNow(ctx context.Context, req RunRequest) (Ack, error) {
	ids := normalize(req.UserIDs)
	if len(ids) == 0 {
		return Ack{}, s.reject("no users selected", nil)
	}
	s.apply(ids, req.GlobalConfig, req.UsersConfig)

	runCtx := context.WithoutCancel(ctx)
	go s.disp.RunForUsers(runCtx, ids)

	s.log.Info("run requested", logx.Strings("users", ids))
	return Ack{Success: true, Message: fmt.Sprintf("Starting requests for %d users: %s", len(ids), strings.Join(ids, ", "))}, nil
}

// Schedule validates the time, applies the request's config and hands the
// users to the scheduler.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	ids := normalize(req.UserIDs)
	if len(ids) == 0 {
		return Ack{}, s.reject("no users selected", nil)
	}
	loc := s.sched.Location()
	at, err := ParseTime(req.ScheduleTime, loc)
	if err != nil {
		return Ack{}, s.reject(err.Error(), err)
	}
	s.apply(ids, req.GlobalConfig, req.UsersConfig)

	out, err := s.sched.Schedule(ids, at)
	if err != nil {
		return Ack{}, invalid(err.Error(), err)
	}
	if out.Immediate {
		return Ack{Success: true, Message: "The scheduled time has already passed; running now"}, nil
	}
	return Ack{Success: true, Message: "Schedule saved for " + at.In(loc).Format("2006-01-02 15:04:05 MST")}, nil
}

// Cancel removes the schedule of the listed users, or of everyone.
func (s *Service) Cancel(req UsersRequest) Ack {
	if s.sched.Cancel(normalize(req.UserIDs)) {
		return Ack{Success: true, Message: "Schedule cancelled"}
	}
	return Ack{Success: true, Message: "No active schedule to cancel"}
}

// Stop cancels running loops of the listed users, or of everyone.
func (s *Service) Stop(req UsersRequest) Ack {
	ids := normalize(req.UserIDs)
	if len(ids) == 0 {
		s.disp.StopAll()
		return Ack{Success: true, Message: "Stopping all running requests"}
	}
	for _, id := range ids {
		s.disp.Stop(id)
	}
	return Ack{Success: true, Message: "Stopping requests for: " + strings.Join(ids, ", ")}
}

// SaveConfigs updates every known user plus every user listed in UsersConfig.
func (s *Service) SaveConfigs(req SaveRequest) Ack {
	seen := map[string]struct{}{}
	var ids []string
	for _, id := range s.store.IDs() {
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for id := range req.UsersConfig {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	s.apply(ids, req.GlobalConfig, req.UsersConfig)
	return Ack{Success: true, Message: fmt.Sprintf("Configuration saved for %d users", len(ids))}
}

// Subscribe registers an observer. The first value to deliver is initial;
// live events follow on the channel until unsubscribe is called.
func (s *Service) Subscribe(buffer int) (<-chan progress.Notification, func(), progress.Notification) {
	ch, unsubscribe := s.bus.Subscribe(buffer)
	initial := progress.Notification{
		Message:      "Connection established",
		InitialState: s.initialState(),
	}
	return ch, unsubscribe, initial
}

func (s *Service) State() StateView {
	info, _ := s.scheduleInfo()
	return StateView{
		Timezone:     s.sched.Location().String(),
		ScheduleInfo: info,
		UsersConfig:  s.store.GetAll(),
		Active:       s.disp.Active(),
	}
}

// History returns the user's most recent finished loops, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]RunView, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user id required", nil)
	}
	recs, err := s.history.RecentRuns(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	out := make([]RunView, 0, len(recs))
	for _, r := range recs {
		out = append(out, RunView{
			UserID:     r.UserID,
			StartedAt:  progress.ISOTime(r.StartedAt),
			FinishedAt: progress.ISOTime(r.FinishedAt),
			Requested:  r.Requested,
			Completed:  r.Completed,
			Succeeded:  r.Succeeded,
			Cancelled:  r.Cancelled,
		})
	}
	return out, nil
}

func (s *Service) Profiles() []Profile {
	return append([]Profile(nil), s.profiles...)
}

// InitializeUsers resets the listed users' configs (profile bootstrap).
func (s *Service) InitializeUsers(m map[string]userconfig.Patch) {
	s.store.InitializeAll(m)
}

// RunView is a RunRecord with browser-friendly timestamps.
type RunView struct {
	UserID     string `json:"userId"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
	Requested  int    `json:"requested"`
	Completed  int    `json:"completed"`
	Succeeded  int    `json:"succeeded"`
	Cancelled  bool   `json:"cancelled"`
}

func (s *Service) initialState() *progress.InitialState {
	info, scheduled := s.scheduleInfo()
	return &progress.InitialState{
		ScheduledUsers: scheduled,
		ScheduleInfo:   info,
		UsersConfig:    s.store.GetAll(),
	}
}

// scheduleInfo covers every known or scheduled user.
func (s *Service) scheduleInfo() (map[string]progress.ScheduleInfo, []string) {
	state := s.sched.State()
	info := map[string]progress.ScheduleInfo{}
	for _, id := range s.store.IDs() {
		info[id] = progress.ScheduleInfo{}
	}
	scheduled := make([]string, 0, len(state))
	for id, at := range state {
		iso := progress.ISOTime(at)
		info[id] = progress.ScheduleInfo{IsScheduled: true, ScheduleTime: &iso}
		scheduled = append(scheduled, id)
	}
	sort.Strings(scheduled)
	return info, scheduled
}

// apply merges the global patch under each user's own patch and updates the store.
func (s *Service) apply(ids []string, global userconfig.Patch, per map[string]userconfig.Patch) {
	for _, id := range ids {
		s.store.Update(id, global.Over(per[id]))
	}
}

func (s *Service) reject(msg string, err error) *Error {
	s.log.Debug("command rejected", logx.String("reason", msg))
	if s.bus != nil {
		s.bus.Publish(progress.Notification{
			Message: "Error: " + msg,
			Status:  progress.Errored("Error"),
		})
	}
	return invalid(msg, err)
}

// Accepted schedule time layouts. Layouts without an offset are read in the
// scheduler's timezone.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var ErrBadTime = errors.New("invalid schedule time")

// ParseTime reads an ISO-8601 timestamp.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, scheduler.ErrNoTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTime, s)
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
