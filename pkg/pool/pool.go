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

// Package pool implements a fixed-size task-execution pool.
//
// Workers pull tasks from a shared FIFO queue. Every submission returns a
// Future through which the result, or the failure captured from the task
// body, is delivered. Callers waiting on a result can help drain the queue
// with ProcessTask instead of idling.
package pool

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the lifecycle state of a ThreadPool.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateInterrupted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateInterrupted:
		return "interrupted"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats is a point-in-time snapshot of a pool's counters.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Workers   int    `json:"workers"`
	Live      int    `json:"live"`
	Queued    int    `json:"queued"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Rejected  int64  `json:"rejected"`
}

// Option configures a ThreadPool.
type Option func(*ThreadPool)

// WithMetrics records the pool's activity in m, labeled with the pool name.
func WithMetrics(m *Metrics) Option {
	return func(p *ThreadPool) {
		p.metrics = m.forPool(p.name)
	}
}

// ThreadPool runs submitted tasks on a fixed set of worker goroutines.
//
// The zero value is not usable; create pools with New. Independent pools
// share no state. A pool can be started again after Stop.
type ThreadPool struct {
	name  string
	queue *WorkQueue[*task]

	// mu serializes Start and Stop. It is never taken by Submit, so task
	// bodies can submit while Stop is joining the workers.
	mu      sync.Mutex
	workers []string
	wg      sync.WaitGroup

	// active is the size of the worker set, live the number of worker
	// goroutines that have not returned yet. Both are read without mu.
	active  atomic.Int64
	live    atomic.Int64
	started atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	metrics *poolMetrics
	log     *log.Entry
}

// New creates a pool in the not-started state.
func New(name string, opts ...Option) *ThreadPool {
	p := &ThreadPool{
		name:  name,
		queue: NewWorkQueue[*task](),
		log:   log.WithField("pool", name),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the name given to New.
func (p *ThreadPool) Name() string { return p.name }

// Start spawns n workers. It fails if the pool already has workers.
// It returns once the workers are spawned, not once they are idle.
func (p *ThreadPool) Start(n int) error {
	if n < 1 {
		return ErrInvalidWorkerCount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) != 0 {
		return ErrAlreadyStarted
	}
	// reset the interrupt flag left behind by a previous Stop/Interrupt
	p.queue.Reopen()

	p.workers = make([]string, 0, n)
	p.wg.Add(n)
	p.live.Add(int64(n))
	for i := 0; i < n; i++ {
		name := workerName(p.name, i)
		p.workers = append(p.workers, name)
		go p.workerLoop(name)
	}
	p.active.Store(int64(n))
	p.started.Store(true)
	p.metrics.setWorkers(n)
	p.log.Infof("started with %d workers", n)
	return nil
}

// Stop rejects new submissions, lets the workers drain the queue and waits
// for all of them to exit. It is a no-op on a pool without workers.
//
// Stop must not be called from a task running on the same pool: it would
// wait for its own worker.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return
	}
	p.queue.Close()
	p.wg.Wait()
	p.log.Infof("stopped %d workers", len(p.workers))
	p.workers = nil
	p.active.Store(0)
	p.metrics.setWorkers(0)
}

// Close implements io.Closer. Owners defer it so that no worker outlives
// the pool.
func (p *ThreadPool) Close() error {
	p.Stop()
	return nil
}

// Interrupt rejects every later submission and wakes idle workers. Workers
// finish whatever is still queued and then exit; Stop joins them.
func (p *ThreadPool) Interrupt() {
	p.queue.Close()
	p.log.Debug("interrupted")
}

// accepting is the lock-free fast path of Submit; Put re-checks the flag
// under the queue lock.
func (p *ThreadPool) accepting() bool {
	return p.active.Load() > 0 && !p.queue.Closed()
}

// Submit queues fn and returns its completion handle.
// Use the package level Submit for callables that produce a value.
func (p *ThreadPool) Submit(fn func() error) (*Future[struct{}], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	return Submit(p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}

// Submit queues fn on p and returns its completion handle without waiting
// for it to run. It fails with ErrNoActiveWorkers when the pool is not
// started or was interrupted; fn is then never run.
//
// fn runs exactly once, on a worker or on a goroutine calling ProcessTask.
// An error returned by fn, or a panic raised by it, is delivered through the
// Future as a *TaskError and nowhere else.
func Submit[T any](p *ThreadPool, fn func() (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	if !p.accepting() {
		p.reject(false)
		return nil, ErrNoActiveWorkers
	}

	f := newFuture[T]()
	t := newTask(func() error {
		v, err := invoke(fn)
		f.resolve(v, err)
		return err
	})

	// counted before Put so Completed never overtakes Submitted
	p.submitted.Add(1)
	p.metrics.taskQueued()
	if err := p.queue.Put(t); err != nil {
		p.submitted.Add(-1)
		p.reject(true)
		return nil, ErrNoActiveWorkers
	}
	p.metrics.taskSubmitted()
	return f, nil
}

func (p *ThreadPool) reject(queued bool) {
	p.rejected.Add(1)
	p.metrics.taskRejected(queued)
}

// ProcessTask runs the task at the head of the queue on the calling
// goroutine. It reports whether a task was run.
func (p *ThreadPool) ProcessTask() bool {
	t, ok := p.queue.TryGet()
	if !ok {
		return false
	}
	p.execute(t)
	return true
}

// execute runs t without holding any pool lock.
func (p *ThreadPool) execute(t *task) {
	start := time.Now()
	p.metrics.taskDequeued(start.Sub(t.enqueued))
	err := t.run()
	p.metrics.taskDone(time.Since(start), err)
	if err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

// QueueSize returns the number of tasks waiting to be picked up.
func (p *ThreadPool) QueueSize() int {
	return p.queue.Len()
}

// WorkerCount returns the number of workers owned by the pool. Interrupted
// workers are counted until Stop has joined them. The count is written
// under mu by Start and Stop and read without it.
func (p *ThreadPool) WorkerCount() int {
	return int(p.active.Load())
}

// LiveWorkers returns the number of worker goroutines still running. After
// Interrupt it drops to zero once the queue is drained, before Stop joins.
func (p *ThreadPool) LiveWorkers() int {
	return int(p.live.Load())
}

// State returns the current lifecycle state.
func (p *ThreadPool) State() State {
	switch {
	case p.active.Load() > 0 && p.queue.Closed():
		return StateInterrupted
	case p.active.Load() > 0:
		return StateRunning
	case p.started.Load():
		return StateStopped
	}
	return StateNotStarted
}

// Stats returns a snapshot of the pool's counters.
func (p *ThreadPool) Stats() Stats {
	return Stats{
		Name:      p.name,
		State:     p.State().String(),
		Workers:   p.WorkerCount(),
		Live:      p.LiveWorkers(),
		Queued:    p.QueueSize(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
