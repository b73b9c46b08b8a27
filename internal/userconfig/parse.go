package userconfig

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Patch is a partial UserConfig. Nil fields are "not supplied".
//
// RequestCount and DelayMs are untyped so that malformed input ("abc", null,
// 2.5, "12") reaches the coercion rules instead of failing JSON decoding.
type Patch struct {
	CredentialPrimary   *string `json:"credentialPrimary,omitempty"`
	CredentialSecondary *string `json:"credentialSecondary,omitempty"`
	RequestCount        any     `json:"requestCount,omitempty"`
	DelayMs             any     `json:"delayMs,omitempty"`
	DailyStartTime      *string `json:"dailyStartTime,omitempty"`
}

// Over returns p with every field supplied in o taking precedence.
func (p Patch) Over(o Patch) Patch {
	if o.CredentialPrimary != nil {
		p.CredentialPrimary = o.CredentialPrimary
	}
	if o.CredentialSecondary != nil {
		p.CredentialSecondary = o.CredentialSecondary
	}
	if o.RequestCount != nil {
		p.RequestCount = o.RequestCount
	}
	if o.DelayMs != nil {
		p.DelayMs = o.DelayMs
	}
	if o.DailyStartTime != nil {
		p.DailyStartTime = o.DailyStartTime
	}
	return p
}

// IsEmpty reports whether no field is supplied.
func (p Patch) IsEmpty() bool {
	return p.CredentialPrimary == nil && p.CredentialSecondary == nil &&
		p.RequestCount == nil && p.DelayMs == nil && p.DailyStartTime == nil
}

// Str is a convenience for building patches.
func Str(s string) *string { return &s }

func Int(n int) *int { return &n }

// ParseInt coerces v to an integer. Numeric strings are accepted, fractional
// values are truncated. ok is false for nil, NaN, infinities and non-numeric input.
func ParseInt(v any) (n int, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case json.Number:
		return parseString(string(x))
	case string:
		return parseString(x)
	default:
		return 0, false
	}
}

func parseString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return fromFloat(f)
}

func fromFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ResolveCount returns v as a positive request count, else fallback, else def, else 10.
func ResolveCount(v any, fallback, def int) int {
	if n, ok := ParseInt(v); ok && n > 0 {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	if def > 0 {
		return def
	}
	return DefaultRequestCount
}

// ResolveDelay returns v as a non-negative delay in ms, else fallback, else def, else 100.
func ResolveDelay(v any, fallback, def int) int {
	if n, ok := ParseInt(v); ok && n >= 0 {
		return n
	}
	if fallback >= 0 {
		return fallback
	}
	if def >= 0 {
		return def
	}
	return DefaultDelayMs
}
