// Package navigation is the boundary between the session layer and whatever hosts it
// (a browser shell, a CLI, a test). The session layer never renders; it only asks the
// host to move to a route or to rewrite the visible address.
package navigation

import (
	"context"
	"sync"
	"time"
)

// Navigator is implemented by the host.
type Navigator interface {
	// Navigate performs a hard navigation to route, discarding in-memory view state.
	Navigate(route string)

	// ReplaceState rewrites the visible address without navigating.
	ReplaceState(address string)
}

// Task is a delayed navigation that can be cancelled until it fires.
type Task struct {
	route  string
	cancel chan struct{}
	done   chan struct{}

	mu        sync.Mutex
	fired     bool
	cancelled bool
}

// Schedule navigates to route after delay. The task is cancelled when ctx ends, so a
// torn down owner never receives a late navigation.
func Schedule(ctx context.Context, nav Navigator, delay time.Duration, route string) *Task {
	t := &Task{
		route:  route,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run(ctx, nav, delay)
	return t
}

func (t *Task) run(ctx context.Context, nav Navigator, delay time.Duration) {
	defer close(t.done)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		t.markCancelled()
		return
	case <-t.cancel:
		return
	}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	nav.Navigate(t.route)
}

func (t *Task) markCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.cancelled {
		return false
	}
	t.cancelled = true
	return true
}

// Cancel stops the task. It reports false if the navigation already happened.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.markCancelled() {
		return false
	}
	close(t.cancel)
	return true
}

// Done is closed once the task has fired or been cancelled.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Fired reports whether the navigation happened.
func (t *Task) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Route is the navigation target.
func (t *Task) Route() string {
	return t.route
}
