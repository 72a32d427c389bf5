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
	"fmt"
)

var (
	// ErrNoActiveWorkers is returned by Submit when the pool has no live
	// workers or was interrupted. The task is neither queued nor run.
	ErrNoActiveWorkers = errors.New("no active workers; cannot accept new tasks")
	// ErrPoolNotStarted names the same condition as ErrNoActiveWorkers.
	ErrPoolNotStarted = ErrNoActiveWorkers

	ErrAlreadyStarted     = errors.New("thread pool already started")
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	ErrNilTask            = errors.New("nil task submitted")
	ErrTimeout            = errors.New("timeout waiting for task result")
	ErrQueueClosed        = errors.New("queue closed")

	// ErrTaskFailure matches every failure captured from a task body.
	ErrTaskFailure = errors.New("task failed")
)

// TaskError carries the failure of a task body to whoever inspects its Future.
// Error returns the original message unchanged.
type TaskError struct {
	Err      error
	Panicked bool
	// Stack is the goroutine stack at the time of the panic, nil otherwise.
	Stack []byte
}

func (e *TaskError) Error() string { return e.Err.Error() }

func (e *TaskError) Unwrap() error { return e.Err }

func (e *TaskError) Is(target error) bool { return target == ErrTaskFailure }

func newPanicError(v any, stack []byte) *TaskError {
	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("%v", v)
	}
	return &TaskError{Err: err, Panicked: true, Stack: stack}
}

// IsTaskPanic reports whether err was produced by a panicking task.
func IsTaskPanic(err error) bool {
	var te *TaskError
	return errors.As(err, &te) && te.Panicked
}
