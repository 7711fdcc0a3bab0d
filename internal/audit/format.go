package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const separator = "──────────────────────────────────────────────────────────────────"

// Summary aggregates a sequence of audit events.
type Summary struct {
	Total          int    `json:"total"`
	AllowedCount   int    `json:"allowed"`
	BlockedCount   int    `json:"blocked"`
	ErrorCount     int    `json:"error"`
	KilledCount    int    `json:"killed"`
	FlaggedCount   int    `json:"flagged"`
	FirstTimestamp string `json:"first_timestamp,omitempty"`
	LastTimestamp  string `json:"last_timestamp,omitempty"`
}

// Summarize counts events by action. Events carrying output flags are
// also counted in FlaggedCount.
func Summarize(events []Event) Summary {
	s := Summary{Total: len(events)}
	for _, e := range events {
		switch e.Action {
		case Allowed:
			s.AllowedCount++
		case Blocked:
			s.BlockedCount++
		case Error:
			s.ErrorCount++
		case Killed:
			s.KilledCount++
		}
		if len(e.Flags) > 0 {
			s.FlaggedCount++
		}
	}
	if len(events) > 0 {
		s.FirstTimestamp = events[0].Timestamp
		s.LastTimestamp = events[len(events)-1].Timestamp
	}
	return s
}

// FormatTimeline renders events as a human-readable text timeline.
func FormatTimeline(events []Event) string {
	if len(events) == 0 {
		return "No audit events found.\n"
	}

	var b strings.Builder
	sum := Summarize(events)

	fmt.Fprintf(&b, "Agent: %s | %s–%s UTC\n",
		agentLabel(events), formatDateRange(sum.FirstTimestamp), formatTimeOnly(sum.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, e := range events {
		tag := ""
		if len(e.Flags) > 0 {
			tag = fmt.Sprintf("  [flagged: %d]", len(e.Flags))
		}
		detail := e.Task
		if e.Action == Killed {
			detail = e.Reason
		}
		fmt.Fprintf(&b, "%-10s %-8s %-44s%s\n",
			formatTimeOnly(e.Timestamp), strings.ToUpper(string(e.Action)), truncate(detail, 44), tag)
		if e.Action == Blocked && e.Reason != "" {
			fmt.Fprintf(&b, "%-10s %-8s ↳ %s\n", "", "", e.Reason)
		}
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(sum))
	return b.String()
}

// FormatJSON renders events and their summary as indented JSON.
func FormatJSON(events []Event) (string, error) {
	out := struct {
		Events  []Event `json:"events"`
		Summary Summary `json:"summary"`
	}{Events: events, Summary: Summarize(events)}
	if out.Events == nil {
		out.Events = []Event{}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit events: %w", err)
	}
	return string(data), nil
}

func agentLabel(events []Event) string {
	agent := events[0].Agent
	for _, e := range events[1:] {
		if e.Agent != agent {
			return "(multiple)"
		}
	}
	return agent
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s Summary) string {
	parts := []string{}
	if s.AllowedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allowed", s.AllowedCount))
	}
	if s.BlockedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", s.BlockedCount))
	}
	if s.ErrorCount > 0 {
		parts = append(parts, fmt.Sprintf("%d error", s.ErrorCount))
	}
	if s.KilledCount > 0 {
		parts = append(parts, fmt.Sprintf("%d killed", s.KilledCount))
	}
	if s.FlaggedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d flagged", s.FlaggedCount))
	}
	return fmt.Sprintf("Summary: %d events | %s\n", s.Total, strings.Join(parts, ", "))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-3]) + "..."
}
