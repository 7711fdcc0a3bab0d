package audit

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/leash/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newTestSQLite(t)

	d := int64(7)
	in := Event{
		ID:         "evt-1",
		Agent:      "inbox-agent",
		Task:       "read inbox",
		Action:     Allowed,
		DurationMs: &d,
		Flags:      []model.OutputFlag{{Pattern: "*send*", Keyword: "send", Snippet: "will send"}},
		Domains:    []string{"mail.example.com"},
	}
	if err := s.Log(in); err != nil {
		t.Fatal(err)
	}
	if err := s.Log(Event{ID: "evt-2", Agent: "inbox-agent", Action: Killed, Reason: "terminated"}); err != nil {
		t.Fatal(err)
	}

	events, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	got := events[0]
	if got.ID != "evt-1" || got.Action != Allowed || got.Timestamp == "" {
		t.Errorf("unexpected first event: %+v", got)
	}
	if got.DurationMs == nil || *got.DurationMs != 7 {
		t.Errorf("expected duration 7, got %v", got.DurationMs)
	}
	if len(got.Flags) != 1 || got.Flags[0].Keyword != "send" {
		t.Errorf("unexpected flags: %+v", got.Flags)
	}
	if len(got.Domains) != 1 {
		t.Errorf("unexpected domains: %v", got.Domains)
	}
	if events[1].DurationMs != nil || events[1].Flags != nil {
		t.Errorf("expected killed event without duration or flags: %+v", events[1])
	}
}

func TestSQLiteQueryFilters(t *testing.T) {
	s := newTestSQLite(t)

	old := Event{ID: "evt-old", Timestamp: "2020-01-01T00:00:00.000Z", Agent: "a", Task: "read", Action: Allowed}
	s.Log(old)
	s.Log(Event{ID: "evt-b", Agent: "a", Task: "send", Action: Blocked})
	s.Log(Event{ID: "evt-c", Agent: "b", Task: "read", Action: Allowed})

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 3},
		{"action", Filter{Action: Allowed}, 2},
		{"agent", Filter{Agent: "b"}, 1},
		{"since", Filter{Since: time.Now().Add(-time.Hour)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestSQLiteSkipsCorruptRows(t *testing.T) {
	s := newTestSQLite(t)
	s.Log(Event{ID: "evt-1", Agent: "a", Task: "read", Action: Allowed})
	if _, err := s.db.Exec(`INSERT INTO audit_events (id, timestamp, agent, task, action, flags)
		VALUES ('evt-bad', '2025-01-01T00:00:00.000Z', 'a', 'x', 'allowed', '{broken')`); err != nil {
		t.Fatal(err)
	}
	s.Log(Event{ID: "evt-2", Agent: "a", Task: "read", Action: Allowed})

	events, err := s.Export()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected corrupt row to be skipped, got %d events", len(events))
	}
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	s := newTestSQLite(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Log(Event{ID: fmt.Sprintf("evt-%d", i), Agent: "a", Task: "read", Action: Allowed}); err != nil {
				t.Errorf("log %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	events, _ := s.Export()
	if len(events) != 50 {
		t.Fatalf("expected 50 events, got %d", len(events))
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	s1, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	s1.Log(Event{ID: "evt-1", Agent: "a", Task: "read", Action: Allowed})
	s1.Close()

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	s2.Log(Event{ID: "evt-2", Agent: "a", Task: "read", Action: Allowed})

	events, _ := s2.Export()
	if len(events) != 2 || events[0].ID != "evt-1" {
		t.Fatalf("unexpected events after reopen: %+v", events)
	}
}
