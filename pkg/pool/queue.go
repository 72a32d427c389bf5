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
	"sync"
	"sync/atomic"
)

// noCopy may be embedded into structs which must not be copied after first use.
// go vet will warn on accidental copies (it looks for Lock methods).
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// node for single-lock queue (plain pointer; protected by mu)
type node[T any] struct {
	val  T
	next *node[T]
}

// WorkQueue is a single-mutex MPMC FIFO queue.
//
// The closed flag doubles as the pool's interrupt/shutdown flag. It is only
// ever written while mu is held, so a consumer blocked in Get cannot miss the
// wakeup that goes with it. Closed() reads it without the lock for fast-path
// checks. ThreadPool.WorkerCount reads its worker count the same way.
type WorkQueue[T any] struct {
	noCopy noCopy

	mu     sync.Mutex
	cond   *sync.Cond
	head   *node[T] // sentinel
	tail   *node[T]
	size   int
	closed atomic.Bool
}

// NewWorkQueue constructs a new, open queue.
func NewWorkQueue[T any]() *WorkQueue[T] {
	s := &node[T]{}
	q := &WorkQueue[T]{head: s, tail: s}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends v to the tail and wakes one waiting consumer.
// It fails with ErrQueueClosed once Close has been called.
func (q *WorkQueue[T]) Put(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return ErrQueueClosed
	}
	n := &node[T]{val: v}
	q.tail.next = n
	q.tail = n
	q.size++
	// signal one waiter (consumer checks under mu)
	q.cond.Signal()
	return nil
}

// Get blocks until an element is available or the queue is closed and empty.
// Elements queued before Close are still handed out; ok is false only once
// the queue is both closed and drained.
func (q *WorkQueue[T]) Get() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// wait while empty and not closed
	for q.head.next == nil && !q.closed.Load() {
		q.cond.Wait()
	}

	// empty + closed => done
	if q.head.next == nil {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// TryGet pops the head element without waiting.
func (q *WorkQueue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head.next == nil {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// pop expects q.mu to be held and the queue to be non-empty.
func (q *WorkQueue[T]) pop() T {
	n := q.head.next
	q.head.next = n.next
	if q.head.next == nil {
		q.tail = q.head
	}
	q.size--
	v := n.val
	// drop the reference so the popped value can be collected
	var zero T
	n.val = zero
	return v
}

// Len returns the number of queued elements.
func (q *WorkQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close rejects further Puts and wakes every waiting consumer.
func (q *WorkQueue[T]) Close() {
	q.mu.Lock()
	q.closed.Store(true)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the closed flag so the queue accepts Puts again.
func (q *WorkQueue[T]) Reopen() {
	q.mu.Lock()
	q.closed.Store(false)
	q.mu.Unlock()
}

// Closed reports whether Close was called since the last Reopen.
func (q *WorkQueue[T]) Closed() bool {
	return q.closed.Load()
}
