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
	"context"
	"runtime/debug"
	"sync"
	"time"
)

// --- Task unit ---

// task is the type-erased unit stored in the work queue. fn is the packaged
// callable: it runs the user function, resolves the Future and reports the
// captured failure (if any) back to the pool for accounting.
type task struct {
	fn       func() error
	enqueued time.Time
}

func newTask(fn func() error) *task {
	return &task{fn: fn, enqueued: time.Now()}
}

// run invokes the packaged callable at most once.
func (t *task) run() error {
	fn := t.fn
	t.fn = nil
	if fn == nil {
		return nil
	}
	return fn()
}

// invoke calls fn and converts a returned error or a panic into a *TaskError.
func invoke[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = newPanicError(r, debug.Stack())
		}
	}()
	v, err = fn()
	if err != nil {
		var zero T
		return zero, &TaskError{Err: err}
	}
	return v, nil
}

// --- Completion handle ---

// Waiter is satisfied by every *Future regardless of its result type.
type Waiter interface {
	Done() <-chan struct{}
}

// Future is the one-shot completion handle of a submitted task.
// It is resolved exactly once, with either a value or a *TaskError.
// Nobody has to observe it: an uninspected failure is simply dropped.
type Future[T any] struct {
	once sync.Once
	done chan struct{}

	val T
	err error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done returns a channel closed once the task has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Get blocks until the task completed and returns its result.
// Calling it again returns the same result; the task is never re-run.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.val, f.err
}

// GetContext is Get bounded by ctx. The task keeps running if ctx ends first.
func (f *Future[T]) GetContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// GetTimeout is Get bounded by d; it returns ErrTimeout when d elapses first.
func (f *Future[T]) GetTimeout(d time.Duration) (T, error) {
	if !f.Wait(d) {
		var zero T
		return zero, ErrTimeout
	}
	return f.val, f.err
}

// Wait reports whether the task completed within d.
func (f *Future[T]) Wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-f.done:
		return true
	case <-timer.C:
		return false
	}
}

// Ready reports whether the task has completed.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Failed reports whether the task completed with a failure.
// It is false while the task is pending.
func (f *Future[T]) Failed() bool {
	return f.Ready() && f.err != nil
}
