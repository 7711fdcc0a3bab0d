package alert

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ppiankov/leash/internal/model"
)

// Event names a webhook can subscribe to.
const (
	EventBlocked = "blocked"
	EventError   = "error"
	EventKilled  = "killed"
	EventFlagged = "flagged"
)

// AlertConfig defines a webhook alert destination.
type AlertConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // ["blocked", "error", "killed", "flagged"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// AlertEvent is the payload sent to webhook endpoints.
type AlertEvent struct {
	Timestamp string             `json:"timestamp"`
	AuditID   string             `json:"audit_id"`
	Agent     string             `json:"agent"`
	Task      string             `json:"task"`
	Event     string             `json:"event"`
	Reason    string             `json:"reason,omitempty"`
	Flags     []model.OutputFlag `json:"flags,omitempty"`
}

// Formats accepted in AlertConfig.Format. Empty means generic.
const (
	FormatGeneric   = "generic"
	FormatSlack     = "slack"
	FormatPagerDuty = "pagerduty"
)

// Validate reports the first problem that would keep cfg from ever
// delivering: a missing or non-HTTP URL, an unknown format, or an event
// name that is never emitted.
func (cfg AlertConfig) Validate() error {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", cfg.URL)
	}
	switch cfg.Format {
	case "", FormatGeneric, FormatSlack, FormatPagerDuty:
	default:
		return fmt.Errorf("unknown format %q", cfg.Format)
	}
	if len(cfg.Events) == 0 {
		return errors.New("no events subscribed")
	}
	for _, e := range cfg.Events {
		switch e {
		case EventBlocked, EventError, EventKilled, EventFlagged:
		default:
			return fmt.Errorf("unknown event %q", e)
		}
	}
	return nil
}
