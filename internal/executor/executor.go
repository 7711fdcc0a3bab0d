// Package executor drives the remote agent runtime that carries out
// approved tasks. The governance layer never interprets task text beyond
// policy evaluation; executors receive it verbatim.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound reports that the remote session no longer exists.
var ErrNotFound = errors.New("executor: session not found")

// ErrKilled reports that Kill ran while the session was being created.
// The new remote session has already been torn down.
var ErrKilled = errors.New("executor: session killed during creation")

// Executor is the remote agent runtime driven by a governed session.
//
// Create and Execute open at most one session at a time, however many
// callers race. Kill treats a session that no longer exists as success and
// forgets the session ID either way; a session still being created when
// Kill runs is torn down and its Execute fails with ErrKilled.
// IsAlive returns false, not an error, for a session that no longer exists.
type Executor interface {
	Create(ctx context.Context) (string, error)
	Execute(ctx context.Context, task string) (string, error)
	Kill(ctx context.Context) error
	IsAlive(ctx context.Context) (bool, error)
	SessionID() string
}

// handle owns the one remote session of an executor. Creation is
// single-flight; Kill never waits for an in-flight create.
type handle struct {
	createMu sync.Mutex

	mu    sync.Mutex
	id    string
	epoch uint64 // bumped by take
}

func (h *handle) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func (h *handle) set(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

// take clears the session and invalidates any create in flight.
func (h *handle) take() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.id
	h.id = ""
	h.epoch++
	return id
}

// open returns the current session, creating it if there is none. A
// session whose creation overlapped take is killed and ErrKilled returned.
func (h *handle) open(ctx context.Context, create func(context.Context) (string, error), kill func(context.Context, string) error) (string, error) {
	h.createMu.Lock()
	defer h.createMu.Unlock()

	h.mu.Lock()
	if h.id != "" {
		id := h.id
		h.mu.Unlock()
		return id, nil
	}
	epoch := h.epoch
	h.mu.Unlock()

	id, err := create(ctx)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	if h.epoch == epoch {
		h.id = id
		h.mu.Unlock()
		return id, nil
	}
	h.mu.Unlock()

	if err := kill(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: kill %s: %v", ErrKilled, id, err)
	}
	return "", ErrKilled
}
