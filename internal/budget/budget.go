package budget

import (
	"fmt"
	"time"
)

// Reasons reported for exceeded limits.
const (
	ReasonExpired   = "session expired"
	ReasonExhausted = "action budget exhausted"
)

// Limits defines per-session limits. Zero values mean unlimited.
type Limits struct {
	MaxActions *int          // nil means unlimited; 0 allows nothing
	TTL        time.Duration // zero means no expiry
}

// HasLimits returns true if any limit is configured.
func (l Limits) HasLimits() bool {
	return l.MaxActions != nil || l.TTL > 0
}

// Usage captures the current session consumption snapshot.
type Usage struct {
	Actions int
	Elapsed time.Duration
}

// CheckResult is the outcome of a budget check.
type CheckResult struct {
	Exceeded  bool
	Dimension string // "ttl", "actions"
	Current   int64
	Limit     int64
	Reason    string
}

// Check compares current usage against limits.
// Checks TTL, then actions: returns the first exceeded dimension.
func Check(usage Usage, l Limits) CheckResult {
	if l.TTL > 0 && usage.Elapsed >= l.TTL {
		return CheckResult{
			Exceeded:  true,
			Dimension: "ttl",
			Current:   int64(usage.Elapsed),
			Limit:     int64(l.TTL),
			Reason:    ReasonExpired,
		}
	}
	if l.MaxActions != nil && usage.Actions >= *l.MaxActions {
		return CheckResult{
			Exceeded:  true,
			Dimension: "actions",
			Current:   int64(usage.Actions),
			Limit:     int64(*l.MaxActions),
			Reason:    ReasonExhausted,
		}
	}
	return CheckResult{}
}

// Remaining returns how many more actions are allowed, or -1 if unlimited.
func Remaining(usage Usage, l Limits) int {
	if l.MaxActions == nil {
		return -1
	}
	if r := *l.MaxActions - usage.Actions; r > 0 {
		return r
	}
	return 0
}

// Describe renders limits for status output, e.g. "50 actions, ttl 1h0m0s".
func Describe(l Limits) string {
	actions := "unlimited actions"
	if l.MaxActions != nil {
		actions = fmt.Sprintf("%d actions", *l.MaxActions)
	}
	if l.TTL == 0 {
		return actions + ", no ttl"
	}
	return fmt.Sprintf("%s, ttl %s", actions, l.TTL)
}
