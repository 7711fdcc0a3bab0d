package audit

import (
	"context"
	"testing"
	"time"
)

func TestFollowerDeliversAppendedEvents(t *testing.T) {
	l, path := newTestLog(t)
	defer l.Close()
	l.Log(Event{ID: "evt-before", Agent: "a", Task: "before", Action: Allowed})

	f, err := NewFollower(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Event, 10)
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(e Event) { got <- e })
	}()

	l.Log(Event{ID: "evt-after", Agent: "a", Task: "after", Action: Blocked})

	select {
	case e := <-got:
		if e.ID != "evt-after" {
			t.Fatalf("expected only appended event, got %s", e.ID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for appended event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

func TestFollowerBuffersPartialLines(t *testing.T) {
	f := &Follower{}
	var got []Event
	collect := func(e Event) { got = append(got, e) }

	f.consume([]byte(`{"id":"evt-1","agent":"a",`), collect)
	if len(got) != 0 {
		t.Fatalf("expected nothing before newline, got %+v", got)
	}

	f.consume([]byte(`"task":"x","action":"allowed"}`+"\n"+`garbage`+"\n"+`{"id":"evt-2"`), collect)
	if len(got) != 1 || got[0].ID != "evt-1" {
		t.Fatalf("expected evt-1, got %+v", got)
	}
	if string(f.partial) != `{"id":"evt-2"` {
		t.Fatalf("expected partial tail retained, got %q", f.partial)
	}

	f.consume([]byte(`,"action":"blocked"}`+"\n"), collect)
	if len(got) != 2 || got[1].ID != "evt-2" || got[1].Action != Blocked {
		t.Fatalf("expected evt-2 after completion, got %+v", got)
	}
	if len(f.partial) != 0 {
		t.Fatalf("expected empty partial, got %q", f.partial)
	}
}
