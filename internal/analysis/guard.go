package analysis

import (
	"context"
	"fmt"
	"sync"
)

var (
	// ErrStopped is the cancellation cause of a run stopped by the user
	ErrStopped = fmt.Errorf("analysis stopped by user: %w", context.Canceled)
	// ErrSuperseded is the cancellation cause of a run replaced by a newer one
	ErrSuperseded = fmt.Errorf("analysis superseded by a new run: %w", context.Canceled)
)

var defaultGuard = NewRunGuard()

// RunGuard allows at most one active run.
// Acquiring cancels the previous run before handing out a new context.
type RunGuard struct {
	mu     sync.Mutex
	cancel context.CancelCauseFunc
	token  uint64
}

func NewRunGuard() *RunGuard {
	return &RunGuard{}
}

// Acquire cancels any active run and returns the context of the new run.
// release must be called when the run ends; it is a no-op once another run has taken over.
func (g *RunGuard) Acquire(parent context.Context) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancelCause(parent)

	g.mu.Lock()
	if g.cancel != nil {
		g.cancel(ErrSuperseded)
	}
	g.token++
	token := g.token
	g.cancel = cancel
	g.mu.Unlock()

	return ctx, func() {
		g.mu.Lock()
		if g.token == token {
			g.cancel = nil
		}
		g.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Stop signals the active run to stop. It reports whether a run was active.
func (g *RunGuard) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel == nil {
		return false
	}
	g.cancel(ErrStopped)
	g.cancel = nil
	return true
}

// Active reports whether a run holds the guard
func (g *RunGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}
