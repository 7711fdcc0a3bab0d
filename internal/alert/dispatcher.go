package alert

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Dispatcher delivers session events to the webhooks subscribed to them.
// Deliveries run in the background; Flush waits for them.
type Dispatcher struct {
	configs []AlertConfig
	sender  *Sender
	pending sync.WaitGroup
}

// NewDispatcher returns nil when there is nothing to deliver to; a nil
// *Dispatcher is valid and drops every event.
func NewDispatcher(configs []AlertConfig) *Dispatcher {
	return NewDispatcherWith(NewSender(), configs)
}

// NewDispatcherWith is NewDispatcher with a caller-supplied Sender.
func NewDispatcherWith(sender *Sender, configs []AlertConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: slices.Clone(configs), sender: sender}
}

// Dispatch queues event for every webhook whose Events list names it.
// It never blocks on the network.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !slices.Contains(cfg.Events, event.Event) {
			continue
		}
		d.pending.Add(1)
		go func() {
			defer d.pending.Done()
			if err := d.sender.Send(context.Background(), cfg, event); err != nil {
				slog.Warn("alert delivery failed", "url", cfg.URL, "event", event.Event, "audit_id", event.AuditID, "error", err)
			}
		}()
	}
}

// Flush waits until queued deliveries finish or ctx is done, and returns
// ctx.Err() in the latter case.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
