package userconfig

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultRequestCount = 10
	DefaultDelayMs      = 100
)

// UserConfig parameterizes one user's dispatch loop.
type UserConfig struct {
	UserID              string `json:"userId"`
	CredentialPrimary   string `json:"credentialPrimary"`
	CredentialSecondary string `json:"credentialSecondary"`
	RequestCount        int    `json:"requestCount"`
	DelayMs             int    `json:"delayMs"`
	DailyStartTime      string `json:"dailyStartTime"`
}

// Defaults fill fields that were never supplied for a user.
type Defaults struct {
	CredentialPrimary   string
	CredentialSecondary string
	RequestCount        int
	// DelayMs is nil when unset; an explicit 0 means no pause.
	DelayMs             *int
	DailyStartTime      string
}

// Store holds one UserConfig per user id. It is safe for concurrent use.
// Entries are never deleted.
type Store struct {
	mu       sync.RWMutex
	users    map[string]UserConfig
	defaults Defaults

	hmu    sync.RWMutex
	onInit []func(userID string)
}

func New(def Defaults) *Store {
	s := &Store{users: map[string]UserConfig{}}
	s.SetDefaults(def)
	return s
}

// SetDefaults replaces the defaults used for users seen from now on.
// Invalid or unset values fall back to 10 requests and 100ms.
func (s *Store) SetDefaults(def Defaults) {
	if def.RequestCount <= 0 {
		def.RequestCount = DefaultRequestCount
	}
	if def.DelayMs == nil || *def.DelayMs < 0 {
		def.DelayMs = Int(DefaultDelayMs)
	} else {
		def.DelayMs = Int(*def.DelayMs)
	}
	s.mu.Lock()
	s.defaults = def
	s.mu.Unlock()
}

func (s *Store) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.defaults
	d.DelayMs = Int(*d.DelayMs)
	return d
}

// OnInitialize registers fn to run after every Initialize. The app uses it to
// reset the user's run flag.
func (s *Store) OnInitialize(fn func(userID string)) {
	if fn == nil {
		return
	}
	s.hmu.Lock()
	s.onInit = append(s.onInit, fn)
	s.hmu.Unlock()
}

// Initialize unconditionally replaces the user's config. Missing fields take defaults.
func (s *Store) Initialize(userID string, p Patch) UserConfig {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	cfg := merge(userID, UserConfig{}, false, p, s.defaults)
	s.users[userID] = cfg
	s.mu.Unlock()

	s.hmu.RLock()
	hooks := slices.Clone(s.onInit)
	s.hmu.RUnlock()
	for _, fn := range hooks {
		fn(userID)
	}
	return cfg
}

// InitializeAll calls Initialize for every entry.
func (s *Store) InitializeAll(m map[string]Patch) {
	for id, p := range m {
		s.Initialize(id, p)
	}
}

// Update merges p into the existing config, creating it if absent.
// Counts are re-parsed and fall back to the previous value, then to defaults.
// Omitted string fields keep their previous value.
func (s *Store) Update(userID string, p Patch) UserConfig {
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.users[userID]
	cfg := merge(userID, prev, ok, p, s.defaults)
	s.users[userID] = cfg
	return cfg
}

// Get returns a copy of the user's config; ok is false for unknown users.
func (s *Store) Get(userID string) (UserConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.users[userID]
	return cfg, ok
}

func (s *Store) GetAll() map[string]UserConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]UserConfig, len(s.users))
	for id, cfg := range s.users {
		out[id] = cfg
	}
	return out
}

// IDs returns the known user ids, sorted.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func merge(userID string, prev UserConfig, hasPrev bool, p Patch, def Defaults) UserConfig {
	out := UserConfig{UserID: userID}

	pickStr := func(v *string, prevV string, defV string) string {
		if v != nil {
			return *v
		}
		if hasPrev {
			return prevV
		}
		return defV
	}
	out.CredentialPrimary = pickStr(p.CredentialPrimary, prev.CredentialPrimary, def.CredentialPrimary)
	out.CredentialSecondary = pickStr(p.CredentialSecondary, prev.CredentialSecondary, def.CredentialSecondary)
	out.DailyStartTime = pickStr(p.DailyStartTime, prev.DailyStartTime, def.DailyStartTime)

	reqFallback, delayFallback := def.RequestCount, *def.DelayMs
	if hasPrev {
		reqFallback, delayFallback = prev.RequestCount, prev.DelayMs
	}
	out.RequestCount = ResolveCount(p.RequestCount, reqFallback, def.RequestCount)
	out.DelayMs = ResolveDelay(p.DelayMs, delayFallback, *def.DelayMs)
	return out
}
