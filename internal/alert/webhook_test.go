package alert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/leash/internal/model"
)

func testSender() *Sender {
	return &Sender{Client: &http.Client{Timeout: time.Second}, Attempts: 3, Backoff: 10 * time.Millisecond}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcherWith(testSender(), []AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventFlagged}},
	})

	d.Dispatch(AlertEvent{Event: EventFlagged, Agent: "a", Task: "read inbox"})
	if err := d.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	d := NewDispatcherWith(testSender(), []AlertConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventKilled}},
	})

	d.Dispatch(AlertEvent{Event: EventBlocked, Task: "send email"})
	d.Flush(context.Background())

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)

	d := NewDispatcherWith(testSender(), []AlertConfig{
		{URL: srv1.URL, Format: "generic", Events: []string{EventBlocked}},
		{URL: srv2.URL, Format: "slack", Events: []string{EventBlocked, EventError}},
	})

	d.Dispatch(AlertEvent{Event: EventBlocked, Task: "send email"})
	d.Flush(context.Background())

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called1.Load()+called2.Load())
	}
}

func TestSendSetsHeaders(t *testing.T) {
	var gotAuth, gotUA, gotCT atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotUA.Store(r.Header.Get("User-Agent"))
		gotCT.Store(r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := AlertConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := testSender().Send(context.Background(), cfg, AlertEvent{Event: EventKilled}); err != nil {
		t.Fatal(err)
	}
	if gotAuth.Load() != "Bearer x" {
		t.Errorf("expected custom header, got %v", gotAuth.Load())
	}
	if gotUA.Load() != userAgent {
		t.Errorf("expected user agent %q, got %v", userAgent, gotUA.Load())
	}
	if gotCT.Load() != "application/json" {
		t.Errorf("expected json content type, got %v", gotCT.Load())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := testSender().Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Event: EventBlocked})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusBadRequest)

	err := testSender().Send(context.Background(), AlertConfig{URL: srv.URL, Format: "generic"}, AlertEvent{Event: EventBlocked})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestSendCancelledStopsRetry(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusBadGateway)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := testSender().Send(ctx, AlertConfig{URL: srv.URL}, AlertEvent{Event: EventError}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if attempts.Load() > 1 {
		t.Errorf("expected at most 1 attempt, got %d", attempts.Load())
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := AlertEvent{
		Timestamp: "2025-01-15T14:00:00.000Z",
		AuditID:   "evt-123",
		Agent:     "inbox-agent",
		Task:      "export contacts",
		Event:     EventFlagged,
		Flags:     []model.OutputFlag{{Pattern: "*export*", Keyword: "export", Snippet: "exported 500 contacts"}},
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed AlertEvent
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed.AuditID != "evt-123" {
		t.Errorf("expected audit_id evt-123, got %s", parsed.AuditID)
	}
	if parsed.Event != EventFlagged {
		t.Errorf("expected event flagged, got %s", parsed.Event)
	}
	if len(parsed.Flags) != 1 || parsed.Flags[0].Keyword != "export" {
		t.Errorf("expected flag round-trip, got %+v", parsed.Flags)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	event := AlertEvent{
		Agent:   "inbox-agent",
		AuditID: "evt-1",
		Task:    "send email",
		Event:   EventBlocked,
		Reason:  "blocked by deny pattern: *send*",
	}

	data, err := FormatPayload("slack", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) < 2 {
		t.Fatalf("expected 2 blocks, got %v", parsed["blocks"])
	}

	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}

	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 4 {
		t.Errorf("expected 4 fields in section, got %v", fields)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := []struct {
		event    string
		severity string
	}{
		{EventKilled, "critical"},
		{EventFlagged, "error"},
		{EventError, "error"},
		{EventBlocked, "warning"},
	}
	for _, tt := range tests {
		data, err := FormatPayload("pagerduty", AlertEvent{Event: tt.event, Agent: "a"})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		if parsed["event_action"] != "trigger" {
			t.Errorf("expected event_action trigger, got %v", parsed["event_action"])
		}
		payload, _ := parsed["payload"].(map[string]any)
		if payload["severity"] != tt.severity {
			t.Errorf("%s: expected severity %s, got %v", tt.event, tt.severity, payload["severity"])
		}
		if payload["source"] != "leash" {
			t.Errorf("expected source leash, got %v", payload["source"])
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if d := NewDispatcher(nil); d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
	if d := NewDispatcher([]AlertConfig{}); d != nil {
		t.Error("expected nil dispatcher for zero-length configs")
	}
}

func TestFlushWaitsForSlowDelivery(t *testing.T) {
	release := make(chan struct{})
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		delivered.Add(1)
	}))
	defer srv.Close()

	d := NewDispatcherWith(testSender(), []AlertConfig{
		{URL: srv.URL, Events: []string{EventKilled}},
	})
	d.Dispatch(AlertEvent{Event: EventKilled, Agent: "a"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Flush(ctx); err == nil {
		t.Fatal("expected Flush to time out while delivery is blocked")
	}

	close(release)
	if err := d.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if delivered.Load() != 1 {
		t.Errorf("expected delivery before Flush returned, got %d", delivered.Load())
	}
}

func TestNilDispatcherIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(AlertEvent{Event: EventKilled})
	if err := d.Flush(context.Background()); err != nil {
		t.Errorf("expected nil from nil dispatcher, got %v", err)
	}
}

func TestAlertConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AlertConfig
		wantErr bool
	}{
		{"generic", AlertConfig{URL: "https://h.example.com/x", Events: []string{EventBlocked}}, false},
		{"slack", AlertConfig{URL: "http://h.example.com", Format: FormatSlack, Events: []string{EventFlagged, EventKilled}}, false},
		{"no url", AlertConfig{Events: []string{EventBlocked}}, true},
		{"relative url", AlertConfig{URL: "/hook", Events: []string{EventBlocked}}, true},
		{"bad scheme", AlertConfig{URL: "ftp://h.example.com", Events: []string{EventBlocked}}, true},
		{"bad format", AlertConfig{URL: "https://h.example.com", Format: "teams", Events: []string{EventBlocked}}, true},
		{"no events", AlertConfig{URL: "https://h.example.com"}, true},
		{"bad event", AlertConfig{URL: "https://h.example.com", Events: []string{"break_glass_used"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
