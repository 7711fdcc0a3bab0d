package alert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event AlertEvent) ([]byte, error) {
	switch format {
	case FormatSlack:
		return formatSlack(event)
	case FormatPagerDuty:
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event AlertEvent) ([]byte, error) {
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Agent:* %s", event.Agent)},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Audit ID:* %s", event.AuditID)},
	}
	if event.Task != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Task:* %s", event.Task)})
	}
	if event.Reason != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)})
	}
	if len(event.Flags) > 0 {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Flagged:* %s", flagKeywords(event))})
	}

	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("leash: %s", event.Event),
				},
			},
			map[string]any{
				"type":   "section",
				"fields": fields,
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event AlertEvent) ([]byte, error) {
	severity := "info"
	switch event.Event {
	case EventKilled:
		severity = "critical"
	case EventFlagged, EventError:
		severity = "error"
	case EventBlocked:
		severity = "warning"
	}

	summary := fmt.Sprintf("leash %s: %s", event.Event, event.Task)
	if event.Task == "" {
		summary = fmt.Sprintf("leash %s: agent %s", event.Event, event.Agent)
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  summary,
			"severity": severity,
			"source":   "leash",
			"custom_details": map[string]any{
				"agent":    event.Agent,
				"task":     event.Task,
				"reason":   event.Reason,
				"audit_id": event.AuditID,
				"flagged":  flagKeywords(event),
			},
		},
	}
	return json.Marshal(payload)
}

func flagKeywords(event AlertEvent) string {
	kws := make([]string, 0, len(event.Flags))
	for _, f := range event.Flags {
		kws = append(kws, f.Keyword)
	}
	return strings.Join(kws, ", ")
}
