package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Browser defaults.
const (
	DefaultBrowserURL   = "https://api.anchorbrowser.io"
	DefaultAPIKeyHeader = "anchor-api-key"
	DefaultMaxSteps     = 30
)

// sessionDefaults hardens every browser session the executor opens.
var sessionDefaults = map[string]any{
	"session": map[string]any{
		"proxy":   map[string]any{"active": true, "country_code": "us"},
		"timeout": map[string]any{"idle_timeout": 15, "max_duration": 30},
	},
	"browser": map[string]any{
		"extra_stealth":  map[string]any{"active": true},
		"captcha_solver": map[string]any{"active": true},
		"adblock":        map[string]any{"active": true},
		"popup_blocker":  map[string]any{"active": true},
	},
}

// BrowserConfig configures the cloud browser executor.
type BrowserConfig struct {
	BaseURL      string
	APIKey       string
	APIKeyHeader string
	MaxSteps     int
	SessionID    string // attach to an existing session
	HTTPClient   *http.Client
}

// HTTPError is a non-2xx response from the browser API.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unwrap maps 404 responses to ErrNotFound.
func (e *HTTPError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Browser is an Executor that drives a cloud browser session over HTTP.
type Browser struct {
	cfg    BrowserConfig
	client *http.Client
	sess   handle
}

var _ Executor = (*Browser)(nil)

// NewBrowser creates a browser executor. An API key is required.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("browser executor: API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBrowserURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	b := &Browser{cfg: cfg, client: client}
	b.sess.set(cfg.SessionID)
	return b, nil
}

// Create opens a browser session with hardened defaults if none is open
// and returns its ID.
func (b *Browser) Create(ctx context.Context) (string, error) {
	return b.sess.open(ctx, b.createRemote, b.deleteRemote)
}

func (b *Browser) createRemote(ctx context.Context) (string, error) {
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := b.do(ctx, "create session", http.MethodPost, "/v1/sessions", sessionDefaults, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("create session: browser API returned no session ID")
	}
	return resp.Data.ID, nil
}

// Execute runs a natural-language task in the session, creating one if needed.
func (b *Browser) Execute(ctx context.Context, task string) (string, error) {
	id, err := b.Create(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]any{"prompt": task, "max_steps": b.cfg.MaxSteps}
	var resp struct {
		Data struct {
			Result json.RawMessage `json:"result"`
		} `json:"data"`
	}
	path := "/v1/tools/perform-web-task?sessionId=" + url.QueryEscape(id)
	if err := b.do(ctx, "perform task", http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	return parseResult(resp.Data.Result), nil
}

// Kill deletes the session. A 404 means it already expired. A create still
// in flight is deleted when it completes.
func (b *Browser) Kill(ctx context.Context) error {
	id := b.sess.take()
	if id == "" {
		return nil
	}
	return b.deleteRemote(ctx, id)
}

func (b *Browser) deleteRemote(ctx context.Context, id string) error {
	err := b.do(ctx, "delete session", http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// IsAlive reports whether the session status is "running".
func (b *Browser) IsAlive(ctx context.Context) (bool, error) {
	id := b.SessionID()
	if id == "" {
		return false, nil
	}
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	err := b.do(ctx, "session status", http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	status := resp.Data.Status
	if status == "" {
		status = resp.Status
	}
	return status == "running", nil
}

// SessionID returns the current session ID, or "".
func (b *Browser) SessionID() string {
	return b.sess.get()
}

func (b *Browser) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set(b.cfg.APIKeyHeader, b.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// parseResult unwraps a task result: a string is returned as-is, an object
// with a string "result" field yields that field, any other object or array
// is returned as JSON text. Anything else yields "".
func parseResult(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '{':
		var obj map[string]json.RawMessage
		if json.Unmarshal(raw, &obj) != nil {
			return ""
		}
		if inner, ok := obj["result"]; ok {
			var s string
			if json.Unmarshal(inner, &s) == nil {
				return s
			}
		}
		return compactJSON(raw)
	case '[':
		return compactJSON(raw)
	}
	return ""
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if json.Compact(&buf, raw) != nil {
		return string(raw)
	}
	return buf.String()
}

// BrowserBackend serves browser sessions over the executor gRPC service.
// It holds no session state; every call attaches to the given session ID.
type BrowserBackend struct {
	cfg BrowserConfig
}

var _ Backend = (*BrowserBackend)(nil)

// NewBrowserBackend validates cfg and returns a backend.
func NewBrowserBackend(cfg BrowserConfig) (*BrowserBackend, error) {
	cfg.SessionID = ""
	if _, err := NewBrowser(cfg); err != nil {
		return nil, err
	}
	return &BrowserBackend{cfg: cfg}, nil
}

func (bb *BrowserBackend) attach(id string) *Browser {
	cfg := bb.cfg
	cfg.SessionID = id
	b, _ := NewBrowser(cfg) // cfg validated in NewBrowserBackend
	return b
}

func (bb *BrowserBackend) CreateSession(ctx context.Context) (string, error) {
	return bb.attach("").Create(ctx)
}

func (bb *BrowserBackend) Execute(ctx context.Context, sessionID, task string) (string, error) {
	return bb.attach(sessionID).Execute(ctx, task)
}

func (bb *BrowserBackend) KillSession(ctx context.Context, sessionID string) error {
	return bb.attach(sessionID).Kill(ctx)
}

func (bb *BrowserBackend) SessionAlive(ctx context.Context, sessionID string) (bool, error) {
	return bb.attach(sessionID).IsAlive(ctx)
}
