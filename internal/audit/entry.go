package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/leash/internal/model"
)

// TimestampFormat is the layout used in audit event timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Action is what happened to a submitted task.
type Action string

const (
	Allowed Action = "allowed"
	Blocked Action = "blocked"
	Error   Action = "error"
	Killed  Action = "killed"
)

// ParseAction validates an action filter value. Empty matches every action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case "", Allowed, Blocked, Error, Killed:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q (want %s, %s, %s or %s)", s, Allowed, Blocked, Error, Killed)
	}
}

// Event is one immutable audit record. Task is empty for Killed events.
type Event struct {
	ID         string             `json:"id"`
	Timestamp  string             `json:"timestamp"`
	Agent      string             `json:"agent"`
	Task       string             `json:"task"`
	Action     Action             `json:"action"`
	Reason     string             `json:"reason,omitempty"`
	DurationMs *int64             `json:"duration_ms,omitempty"`
	Flags      []model.OutputFlag `json:"flags,omitempty"`
	Domains    []string           `json:"domains,omitempty"`
	PrevHash   string             `json:"prev_hash,omitempty"`
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	Action Action
	Agent  string
	Since  time.Time
}

// Store is an append-only event store. Implementations must be safe for
// concurrent use and return events in write order.
type Store interface {
	Log(Event) error
	Query(Filter) ([]Event, error)
	Export() ([]Event, error)
	Close() error
}

// NewEventID returns a fresh unique event ID.
func NewEventID() string {
	return "evt-" + uuid.NewString()
}

// FormatTimestamp renders t in TimestampFormat (UTC).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// Matches reports whether e passes the filter. Events with unparseable
// timestamps never pass a Since filter.
func (f Filter) Matches(e Event) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if !f.Since.IsZero() {
		ts, err := time.Parse(TimestampFormat, e.Timestamp)
		if err != nil || ts.Before(f.Since) {
			return false
		}
	}
	return true
}

// ParseSince parses a --since value: an RFC 3339 timestamp, or a duration
// such as "90m" or "24h" counted back from now.
func ParseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return time.Time{}, fmt.Errorf("invalid since %q: expected RFC 3339 time or duration", s)
	}
	return now.Add(-d), nil
}
