// Package task supervises the background goroutines owned by a pipe, such as the
// active-push listener.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mickeygo/edgepipe/logger"
)

// startTimeout bounds how long Start waits for a goroutine to report that it runs.
const startTimeout = 5 * time.Second

// ErrStopped is returned by Start after Stop was called and before Wait completed.
var ErrStopped = errors.New("task: manager stopped")

// Func performs one iteration of a task. It returns true to keep running, or false
// to stop the goroutine.
type Func func(ctx context.Context) bool

// Manager manages the lifecycle of goroutines started for one pipe.
//
// Stop cancels the shared context; Wait blocks until every goroutine returned and
// then re-arms the manager so new tasks can be started.
type Manager struct {
	pctx   context.Context
	logger logger.Logger

	mu     sync.RWMutex // protects ctx and cancel
	ctx    context.Context
	cancel context.CancelFunc

	wg     sync.WaitGroup
	count  atomic.Int32
	taskMu sync.RWMutex // blocks task creation during Wait
}

// NewManager creates a Manager whose tasks are cancelled when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn in a new goroutine until fn returns false or the manager is stopped.
// onExit, when not nil, runs after the loop exits for any reason.
func (mgr *Manager) Start(name string, fn Func, onExit func()) error {
	ctx := mgr.context()
	if ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	started := make(chan struct{})
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "taskCount", mgr.Count())
		}()
		if onExit != nil {
			defer onExit()
		}

		close(started)
		mgr.runLoop(ctx, name, fn)
	}()

	select {
	case <-started:
		mgr.logger.Debug("task started", "name", name)
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// runLoop calls fn until it returns false, ctx is done, or fn panics.
func (mgr *Manager) runLoop(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(ctx) {
				return
			}
		}
	}
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait waits for all goroutines to terminate and re-arms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of currently running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
