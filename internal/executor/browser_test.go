package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeBrowserAPI struct {
	mu          sync.Mutex
	created     int
	createBody  map[string]any
	lastPrompt  string
	lastSteps   float64
	lastSession string
	lastKey     string
	result      string // raw JSON for data.result
	status      string
	deleteCode  int
	statusCode  int
	deleted     []string
	ids         []string

	createDelay   time.Duration
	createStarted chan struct{}
	createGate    chan struct{}
}

func (f *fakeBrowserAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// live returns created sessions that were never deleted.
func (f *fakeBrowserAPI) live() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	gone := make(map[string]bool, len(f.deleted))
	for _, id := range f.deleted {
		gone[id] = true
	}
	var out []string
	for _, id := range f.ids {
		if !gone[id] {
			out = append(out, id)
		}
	}
	return out
}

func (f *fakeBrowserAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if f.createStarted != nil {
			f.createStarted <- struct{}{}
		}
		if f.createGate != nil {
			<-f.createGate
		}
		time.Sleep(f.createDelay)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		id := fmt.Sprintf("anchor-%d", 122+f.created)
		f.ids = append(f.ids, id)
		f.lastKey = r.Header.Get(DefaultAPIKeyHeader)
		json.NewDecoder(r.Body).Decode(&f.createBody)
		w.Write([]byte(`{"data":{"id":"` + id + `"}}`))
	})
	mux.HandleFunc("POST /v1/tools/perform-web-task", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Prompt   string  `json:"prompt"`
			MaxSteps float64 `json:"max_steps"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.lastPrompt = body.Prompt
		f.lastSteps = body.MaxSteps
		f.lastSession = r.URL.Query().Get("sessionId")
		result := f.result
		if result == "" {
			result = `"task completed successfully"`
		}
		w.Write([]byte(`{"data":{"result":` + result + `}}`))
	})
	mux.HandleFunc("DELETE /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.deleted = append(f.deleted, r.PathValue("id"))
		if f.deleteCode != 0 {
			w.WriteHeader(f.deleteCode)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.statusCode != 0 {
			w.WriteHeader(f.statusCode)
			return
		}
		w.Write([]byte(`{"data":{"status":"` + f.status + `"}}`))
	})
	return mux
}

func newTestBrowser(t *testing.T, api *fakeBrowserAPI) *Browser {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	b, err := NewBrowser(BrowserConfig{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewBrowserRequiresAPIKey(t *testing.T) {
	if _, err := NewBrowser(BrowserConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestBrowserCreateSendsHardenedDefaults(t *testing.T) {
	api := &fakeBrowserAPI{}
	b := newTestBrowser(t, api)

	id, err := b.Create(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != "anchor-123" || b.SessionID() != "anchor-123" {
		t.Errorf("unexpected session id %q", id)
	}
	if api.lastKey != "test-key" {
		t.Errorf("expected API key header, got %q", api.lastKey)
	}

	browser, _ := api.createBody["browser"].(map[string]any)
	for _, feature := range []string{"extra_stealth", "captcha_solver", "adblock", "popup_blocker"} {
		f, _ := browser[feature].(map[string]any)
		if f["active"] != true {
			t.Errorf("expected %s active, got %v", feature, browser[feature])
		}
	}
	session, _ := api.createBody["session"].(map[string]any)
	proxy, _ := session["proxy"].(map[string]any)
	if proxy["active"] != true || proxy["country_code"] != "us" {
		t.Errorf("unexpected proxy settings %v", proxy)
	}
	timeout, _ := session["timeout"].(map[string]any)
	if timeout["idle_timeout"] != float64(15) || timeout["max_duration"] != float64(30) {
		t.Errorf("unexpected timeouts %v", timeout)
	}
}

func TestBrowserExecuteCreatesLazily(t *testing.T) {
	api := &fakeBrowserAPI{}
	b := newTestBrowser(t, api)

	out, err := b.Execute(context.Background(), "read my inbox")
	if err != nil {
		t.Fatal(err)
	}
	if out != "task completed successfully" {
		t.Errorf("unexpected output %q", out)
	}
	if api.created != 1 {
		t.Errorf("expected one session created, got %d", api.created)
	}
	if api.lastPrompt != "read my inbox" || api.lastSession != "anchor-123" {
		t.Errorf("unexpected task call: prompt=%q session=%q", api.lastPrompt, api.lastSession)
	}
	if api.lastSteps != DefaultMaxSteps {
		t.Errorf("expected max_steps %d, got %v", DefaultMaxSteps, api.lastSteps)
	}

	b.Execute(context.Background(), "summarize")
	if api.created != 1 {
		t.Errorf("expected session reuse, got %d creates", api.created)
	}
}

func TestBrowserExecuteUnwrapsResult(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   string
	}{
		{"string", `"plain"`, "plain"},
		{"object with result", `{"result":"inner"}`, "inner"},
		{"other object", `{"items":[1,2]}`, `{"items":[1,2]}`},
		{"array", `[ "a", "b" ]`, `["a","b"]`},
		{"null", `null`, ""},
		{"number", `42`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBrowserAPI{result: tt.result}
			b := newTestBrowser(t, api)
			out, err := b.Execute(context.Background(), "task")
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Errorf("expected %q, got %q", tt.want, out)
			}
		})
	}
}

func TestBrowserKill(t *testing.T) {
	api := &fakeBrowserAPI{}
	b := newTestBrowser(t, api)
	ctx := context.Background()

	if err := b.Kill(ctx); err != nil {
		t.Fatalf("kill without session: %v", err)
	}
	if len(api.deleted) != 0 {
		t.Fatal("expected no delete call without session")
	}

	b.Create(ctx)
	if err := b.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "anchor-123" {
		t.Errorf("unexpected deletes %v", api.deleted)
	}
	if b.SessionID() != "" {
		t.Error("expected session cleared")
	}
}

func TestBrowserKillNotFoundIsSuccess(t *testing.T) {
	api := &fakeBrowserAPI{deleteCode: http.StatusNotFound}
	b := newTestBrowser(t, api)
	b.Create(context.Background())

	if err := b.Kill(context.Background()); err != nil {
		t.Fatalf("expected 404 to be swallowed, got %v", err)
	}
}

func TestBrowserKillServerErrorPropagates(t *testing.T) {
	api := &fakeBrowserAPI{deleteCode: http.StatusInternalServerError}
	b := newTestBrowser(t, api)
	b.Create(context.Background())

	err := b.Kill(context.Background())
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected HTTP 500 error, got %v", err)
	}
	if b.SessionID() != "" {
		t.Error("expected session cleared even on failure")
	}
}

func TestBrowserIsAlive(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		statusCode int
		want       bool
		wantErr    bool
	}{
		{"running", "running", 0, true, false},
		{"stopped", "stopped", 0, false, false},
		{"not found", "", http.StatusNotFound, false, false},
		{"server error", "", http.StatusBadGateway, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBrowserAPI{status: tt.status, statusCode: tt.statusCode}
			b := newTestBrowser(t, api)
			b.Create(context.Background())

			alive, err := b.IsAlive(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if alive != tt.want {
				t.Errorf("expected alive=%v, got %v", tt.want, alive)
			}
		})
	}
}

func TestBrowserBackendOverGRPC(t *testing.T) {
	api := &fakeBrowserAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	backend, err := NewBrowserBackend(BrowserConfig{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}
	g := NewGRPC(startBackend(t, backend), "")
	ctx := context.Background()

	out, err := g.Execute(ctx, "read inbox")
	if err != nil {
		t.Fatal(err)
	}
	if out != "task completed successfully" || g.SessionID() != "anchor-123" {
		t.Errorf("unexpected result %q in session %q", out, g.SessionID())
	}
	if err := g.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	if len(api.deleted) != 1 {
		t.Errorf("expected remote delete, got %v", api.deleted)
	}
}

func TestBrowserConcurrentFirstExecuteCreatesOneSession(t *testing.T) {
	api := &fakeBrowserAPI{createDelay: 20 * time.Millisecond}
	b := newTestBrowser(t, api)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Execute(ctx, fmt.Sprintf("task %d", i)); err != nil {
				t.Errorf("execute %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if n := api.createCount(); n != 1 {
		t.Fatalf("expected 1 session created, got %d", n)
	}
	if err := b.Kill(ctx); err != nil {
		t.Fatal(err)
	}
	if live := api.live(); len(live) != 0 {
		t.Errorf("expected no live sessions after kill, got %v", live)
	}
}

func TestBrowserKillDuringCreateDeletesNewSession(t *testing.T) {
	api := &fakeBrowserAPI{
		createStarted: make(chan struct{}, 1),
		createGate:    make(chan struct{}),
	}
	b := newTestBrowser(t, api)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, "read inbox")
		errCh <- err
	}()

	<-api.createStarted
	if err := b.Kill(ctx); err != nil {
		t.Fatalf("kill: %v", err)
	}
	close(api.createGate)

	if err := <-errCh; !errors.Is(err, ErrKilled) {
		t.Fatalf("expected ErrKilled, got %v", err)
	}
	if live := api.live(); len(live) != 0 {
		t.Errorf("expected created session to be deleted, still live: %v", live)
	}
	if id := b.SessionID(); id != "" {
		t.Errorf("expected no session ID, got %q", id)
	}
	api.mu.Lock()
	prompt := api.lastPrompt
	api.mu.Unlock()
	if prompt != "" {
		t.Errorf("expected no task to run, got %q", prompt)
	}
}
