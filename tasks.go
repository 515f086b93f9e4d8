package offline

import (
	"context"
	"sync"
	"time"

	"github.com/bool64/ctxd"
)

// Tasks is a set of registered work that must settle before mediator can be torn down.
//
// Zero value is ready to use.
type Tasks struct {
	// Logger receives failures of registered tasks, can be nil.
	Logger ctxd.Logger

	mu   sync.Mutex
	n    int
	idle chan struct{}
}

// Go runs fn in background and registers it as pending until it returns.
//
// Caller does not observe the result, failure is logged.
func (t *Tasks) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	t.add()

	go func() {
		defer t.done()

		if err := fn(ctx); err != nil && t.Logger != nil {
			t.Logger.Warn(ctx, "background task failed", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all registered tasks, including those registered while waiting, are settled.
func (t *Tasks) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.n == 0 {
			t.mu.Unlock()

			return nil
		}

		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pending returns number of unsettled tasks.
func (t *Tasks) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.n
}

func (t *Tasks) add() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.n == 0 {
		t.idle = make(chan struct{})
	}

	t.n++
}

func (t *Tasks) done() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.n--

	if t.n == 0 {
		close(t.idle)
	}
}

// Detach returns context that keeps values of parent, but is never canceled.
func Detach(ctx context.Context) context.Context {
	return detachedContext{parent: ctx}
}

type detachedContext struct {
	parent context.Context
}

func (detachedContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedContext) Done() <-chan struct{}       { return nil }
func (detachedContext) Err() error                  { return nil }

func (d detachedContext) Value(key interface{}) interface{} {
	return d.parent.Value(key)
}
