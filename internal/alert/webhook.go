package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "leash-alert/1"

// Sender posts alert payloads to webhooks. Transport failures and 5xx
// responses are retried with linear backoff; any other non-2xx is final.
type Sender struct {
	Client   *http.Client
	Attempts int
	Backoff  time.Duration // wait before retry n is n*Backoff
}

// NewSender returns a Sender with a 5s request timeout, 3 attempts and a
// 1s backoff step.
func NewSender() *Sender {
	return &Sender{
		Client:   &http.Client{Timeout: 5 * time.Second},
		Attempts: 3,
		Backoff:  time.Second,
	}
}

// Send delivers one event to cfg. Cancelling ctx abandons remaining retries.
func (s *Sender) Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("alert: format %s payload: %w", cfg.Format, err)
	}

	attempts := max(s.Attempts, 1)
	var lastErr error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("alert: %s: %w (last: %v)", event.Event, ctx.Err(), lastErr)
			case <-time.After(time.Duration(n) * s.Backoff):
			}
		}

		retry, err := s.post(ctx, cfg, body)
		if err == nil {
			return nil
		}
		if !retry {
			return fmt.Errorf("alert: %s: %w", event.Event, err)
		}
		lastErr = err
	}
	return fmt.Errorf("alert: %s: gave up after %d attempts: %w", event.Event, attempts, lastErr)
}

// post makes one delivery attempt and reports whether a failure is retryable.
func (s *Sender) post(ctx context.Context, cfg AlertConfig, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
	}
}
