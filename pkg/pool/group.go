// Copyright 2024 Nokia
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var ErrGroupClosed = errors.New("group closed for submit")

// GroupFunc is a unit of work submitted through a Group. submit allows
// spawning child tasks into the same group, even after CloseForSubmit.
type GroupFunc func(submit func(GroupFunc) error) error

// GroupMode controls group failure semantics.
type GroupMode int

const (
	// GroupFailFast: first error stops executing further tasks of the group.
	GroupFailFast GroupMode = iota
	// GroupTolerant: errors are collected, tasks continue.
	GroupTolerant
)

// --- errorCollector (per-group tolerant mode) ---

type errorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (ec *errorCollector) add(err error) {
	if err == nil {
		return
	}
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errs = append(ec.errs, err)
}

func (ec *errorCollector) snapshot() []error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]error, len(ec.errs))
	copy(out, ec.errs)
	return out
}

// Group is a logical view on a ThreadPool: it tracks the tasks submitted
// through it, applies its failure mode to them and lets the owner wait for
// just those tasks. Futures are not used; results travel through closures.
type Group struct {
	pool *ThreadPool
	mode GroupMode

	ec *errorCollector // non-nil for GroupTolerant

	closed   atomic.Bool
	firstErr atomic.Pointer[error]
	// inflight counts tasks submitted and not yet finished (or skipped)
	inflight atomic.Int64
	waitOnce sync.Once
	// done is closed once the group is closed for submit and inflight is zero
	done chan struct{}
}

// NewGroup creates a group submitting into p.
func (p *ThreadPool) NewGroup(mode GroupMode) *Group {
	g := &Group{
		pool: p,
		mode: mode,
		done: make(chan struct{}),
	}
	if mode == GroupTolerant {
		g.ec = &errorCollector{}
	}
	return g
}

// Submit queues fn on the underlying pool.
func (g *Group) Submit(fn GroupFunc) error {
	// Increment inflight BEFORE checking closed to avoid a race where
	// CloseForSubmit sees inflight=0 and signals done mid-submission.
	g.inflight.Add(1)
	if g.closed.Load() || g.failed() {
		g.decrementInflight()
		return ErrGroupClosed
	}
	return g.enqueue(fn)
}

// submitChild is handed to running tasks. It bypasses the CloseForSubmit
// guard but still honors fail-fast.
func (g *Group) submitChild(fn GroupFunc) error {
	if g.failed() {
		return ErrGroupClosed
	}
	g.inflight.Add(1)
	return g.enqueue(fn)
}

// enqueue expects inflight to be already incremented for fn.
func (g *Group) enqueue(fn GroupFunc) error {
	if fn == nil {
		g.decrementInflight()
		return ErrNilTask
	}
	_, err := g.pool.Submit(func() error {
		defer g.decrementInflight()
		// a fail-fast group skips whatever was queued after its first error
		if g.failed() {
			return nil
		}
		err := g.call(fn)
		if err != nil {
			g.record(err)
		}
		return err
	})
	if err != nil {
		g.decrementInflight()
		return err
	}
	return nil
}

// call runs fn, turning a panic into an error so the group records it.
func (g *Group) call(fn GroupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r, debug.Stack())
		}
	}()
	return fn(g.submitChild)
}

func (g *Group) record(err error) {
	switch g.mode {
	case GroupFailFast:
		ep := new(error)
		*ep = err
		g.firstErr.CompareAndSwap(nil, ep) // set only first
	case GroupTolerant:
		g.ec.add(err)
	}
}

func (g *Group) decrementInflight() {
	if remaining := g.inflight.Add(-1); remaining == 0 && g.closed.Load() {
		g.waitOnce.Do(func() {
			close(g.done)
		})
	}
}

// CloseForSubmit stops accepting top-level submissions.
func (g *Group) CloseForSubmit() {
	g.closed.Store(true)
	if g.inflight.Load() == 0 {
		g.waitOnce.Do(func() {
			close(g.done)
		})
	}
}

// Done is closed once the group is closed for submit and drained. It makes a
// Group usable with ThreadPool.Assist.
func (g *Group) Done() <-chan struct{} { return g.done }

// Wait blocks until the group has been closed for submit and every task
// submitted through it has finished or been skipped.
func (g *Group) Wait() {
	<-g.done
}

// CloseAndWait closes the group for submission and waits for it to drain.
func (g *Group) CloseAndWait() {
	g.CloseForSubmit()
	g.Wait()
}

func (g *Group) failed() bool {
	if p := g.firstErr.Load(); p != nil && *p != nil {
		return true
	}
	return false
}

// FirstError returns the error that stopped a fail-fast group, or nil.
func (g *Group) FirstError() error {
	if p := g.firstErr.Load(); p != nil && *p != nil {
		return *p
	}
	return nil
}

// Errors returns the collected errors of a tolerant group. For fail-fast
// groups it returns the first error, if any.
func (g *Group) Errors() []error {
	if g.ec == nil {
		if err := g.FirstError(); err != nil {
			return []error{err}
		}
		return nil
	}
	return g.ec.snapshot()
}
