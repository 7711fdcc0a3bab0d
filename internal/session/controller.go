// Package session governs a single agent session: every task passes the
// policy engine, the action budget and the TTL before it reaches the
// executor, and every decision is written to the audit store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/ppiankov/leash/internal/alert"
	"github.com/ppiankov/leash/internal/audit"
	"github.com/ppiankov/leash/internal/budget"
	"github.com/ppiankov/leash/internal/executor"
	"github.com/ppiankov/leash/internal/model"
	"github.com/ppiankov/leash/internal/outputscan"
	"github.com/ppiankov/leash/internal/policy"
)

// Reasons reported by Task and recorded in the audit store.
const (
	ReasonEmptyTask  = "empty task description"
	ReasonKilled     = "session killed"
	ReasonExpired    = budget.ReasonExpired
	ReasonExhausted  = budget.ReasonExhausted
	ReasonTerminated = "session terminated"
)

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for uptime, TTL checks and the expiry timer.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithDispatcher overrides the alert dispatcher built from the policy.
func WithDispatcher(d *alert.Dispatcher) Option {
	return func(ctl *Controller) { ctl.alerts = d }
}

// Controller is a governed session. It is safe for concurrent use.
type Controller struct {
	policy policy.Policy
	limits budget.Limits
	exec   executor.Executor
	store  audit.Store
	clock  clock.WithDelayedExecution
	logger *slog.Logger
	alerts *alert.Dispatcher

	mu        sync.Mutex
	state     model.SessionState
	startedAt time.Time
	timer     clock.Timer
	actions   int // allowed tasks handed to the executor, including failures
	allowed   int
	blocked   int
}

// New validates the policy and starts a session. If the policy sets a TTL,
// the session terminates itself when it elapses.
func New(p policy.Policy, exec executor.Executor, store audit.Store, opts ...Option) (*Controller, error) {
	ttl, err := p.Validate()
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.New("session: executor required")
	}
	if store == nil {
		return nil, errors.New("session: audit store required")
	}

	p.Allow = slices.Clone(p.Allow)
	p.Deny = slices.Clone(p.Deny)
	p.Domains = slices.Clone(p.Domains)
	if p.MaxActions != nil {
		n := *p.MaxActions
		p.MaxActions = &n
	}

	c := &Controller{
		policy: p,
		limits: budget.Limits{MaxActions: p.MaxActions, TTL: ttl},
		exec:   exec,
		store:  store,
		clock:  clock.RealClock{},
		logger: slog.Default(),
		alerts: alert.NewDispatcher(p.Alerts),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.startedAt = c.clock.Now()
	if ttl > 0 {
		// Callbacks may run under the clock's lock; terminate must not.
		c.timer = c.clock.AfterFunc(ttl, func() { go c.expire() })
	}

	c.logger.Debug("session started",
		"agent", p.AgentName(), "limits", budget.Describe(c.limits))
	return c, nil
}

// Task submits one task. Blocked outcomes are reported in the Result, not
// as errors; the error is non-nil only when the audit store fails.
func (c *Controller) Task(ctx context.Context, description string) (model.Result, error) {
	id := audit.NewEventID()

	if strings.TrimSpace(description) == "" {
		return model.Result{Allowed: false, Reason: ReasonEmptyTask, AuditID: id}, nil
	}

	c.mu.Lock()
	reason := c.admitLocked(description)
	if reason != "" {
		c.blocked++
		c.mu.Unlock()
		return c.block(id, description, reason)
	}
	c.actions++
	c.mu.Unlock()

	start := c.clock.Now()
	output, err := c.exec.Execute(ctx, description)
	if err != nil {
		return c.fail(id, description, err)
	}
	elapsed := c.clock.Since(start).Milliseconds()

	flags := outputscan.Scan(output, &c.policy)
	event := audit.Event{
		ID:         id,
		Agent:      c.policy.AgentName(),
		Task:       description,
		Action:     audit.Allowed,
		DurationMs: &elapsed,
		Flags:      flags,
		Domains:    c.policy.Domains,
	}
	logErr := c.log(event)

	c.mu.Lock()
	c.allowed++
	c.mu.Unlock()

	if len(flags) > 0 {
		c.logger.Warn("output flagged", "audit_id", id, "flags", len(flags))
		c.notify(alert.EventFlagged, event)
	}

	result := model.Result{Allowed: true, Output: output, AuditID: id, Flags: flags}
	if logErr != nil {
		return result, logErr
	}
	return result, nil
}

// admitLocked returns the reason a task must be blocked, or "".
// Checks run in order: termination, TTL, budget, policy.
func (c *Controller) admitLocked(description string) string {
	if c.state == model.Terminated {
		return ReasonKilled
	}
	usage := budget.Usage{Actions: c.actions, Elapsed: c.clock.Since(c.startedAt)}
	if r := budget.Check(usage, c.limits); r.Exceeded {
		return r.Reason
	}
	if d := policy.Evaluate(description, &c.policy); !d.Allowed {
		return d.Reason
	}
	return ""
}

func (c *Controller) block(id, description, reason string) (model.Result, error) {
	c.logger.Debug("task blocked", "audit_id", id, "reason", reason)

	event := audit.Event{
		ID:      id,
		Agent:   c.policy.AgentName(),
		Task:    description,
		Action:  audit.Blocked,
		Reason:  reason,
		Domains: c.policy.Domains,
	}
	err := c.log(event)
	c.notify(alert.EventBlocked, event)
	return model.Result{Allowed: false, Reason: reason, AuditID: id}, err
}

func (c *Controller) fail(id, description string, execErr error) (model.Result, error) {
	msg := execErr.Error()
	c.logger.Warn("executor failed", "audit_id", id, "error", execErr)

	event := audit.Event{
		ID:     id,
		Agent:  c.policy.AgentName(),
		Task:   description,
		Action: audit.Error,
		Reason: msg,
	}
	err := c.log(event)

	c.mu.Lock()
	c.blocked++
	c.mu.Unlock()

	c.notify(alert.EventError, event)
	return model.Result{Allowed: false, Reason: "error: " + msg, AuditID: id}, err
}

// Terminate ends the session. Only the first call has any effect: it
// stops the expiry timer, kills the executor session (failures are logged,
// not returned) and records one Killed event.
func (c *Controller) Terminate(ctx context.Context) error {
	return c.terminate(ctx, ReasonTerminated)
}

func (c *Controller) expire() {
	if err := c.terminate(context.Background(), ReasonExpired); err != nil {
		c.logger.Error("session expiry not recorded", "error", err)
	}
}

func (c *Controller) terminate(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state == model.Terminated {
		c.mu.Unlock()
		return nil
	}
	c.state = model.Terminated
	timer := c.timer
	c.timer = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	if err := c.exec.Kill(ctx); err != nil {
		c.logger.Warn("executor kill failed", "error", err)
	}

	event := audit.Event{
		ID:     audit.NewEventID(),
		Agent:  c.policy.AgentName(),
		Task:   "",
		Action: audit.Killed,
		Reason: reason,
	}
	c.logger.Info("session terminated", "agent", event.Agent, "reason", reason)
	err := c.log(event)
	c.notify(alert.EventKilled, event)
	return err
}

// Status returns a snapshot of the session.
func (c *Controller) Status() model.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return model.Status{
		Active:            c.state == model.Active,
		Agent:             c.policy.AgentName(),
		Uptime:            FormatUptime(c.clock.Since(c.startedAt)),
		Allowed:           c.allowed,
		Blocked:           c.blocked,
		ExecutorSessionID: c.exec.SessionID(),
	}
}

// Flush waits for queued alert deliveries, up to ctx's deadline.
func (c *Controller) Flush(ctx context.Context) error {
	return c.alerts.Flush(ctx)
}

// Audit returns every event in the audit store.
func (c *Controller) Audit() ([]audit.Event, error) {
	return c.store.Export()
}

// Remaining returns how many more tasks the budget allows, or -1.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return budget.Remaining(budget.Usage{Actions: c.actions}, c.limits)
}

func (c *Controller) log(event audit.Event) error {
	if err := c.store.Log(event); err != nil {
		c.logger.Error("audit write failed", "audit_id", event.ID, "error", err)
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (c *Controller) notify(name string, e audit.Event) {
	c.alerts.Dispatch(alert.AlertEvent{
		Timestamp: audit.FormatTimestamp(c.clock.Now()),
		AuditID:   e.ID,
		Agent:     e.Agent,
		Task:      e.Task,
		Event:     name,
		Reason:    e.Reason,
		Flags:     e.Flags,
	})
}

// FormatUptime renders d as "Ns", "Nmin" or "Nh Mmin".
func FormatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dmin", minutes)
	}
	return fmt.Sprintf("%dh %dmin", minutes/60, minutes%60)
}
