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
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

const (
	numWorkersDefault = 3
	poolName          = "test"
	waitTimeout       = 30 * time.Second
)

func waitFor[T any](t *testing.T, futures []*Future[T], what string) {
	t.Helper()
	for i, f := range futures {
		if !f.Wait(waitTimeout) {
			t.Fatalf("timeout waiting for: %s, task index %d", what, i)
		}
	}
}

// blockWorkers occupies n workers with tasks that wait until release is
// called. It returns once every blocking task has actually started.
func blockWorkers(t *testing.T, p *ThreadPool, n int) (release func(), blocking []*Future[struct{}]) {
	t.Helper()
	blocker := make(chan struct{})
	ready := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		f, err := p.Submit(func() error {
			ready <- struct{}{}
			<-blocker
			return nil
		})
		if err != nil {
			t.Fatalf("submit blocking task: %v", err)
		}
		blocking = append(blocking, f)
	}
	for i := 0; i < n; i++ {
		select {
		case <-ready:
		case <-time.After(waitTimeout):
			t.Fatalf("timeout waiting for blocking task %d to start", i)
		}
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(blocker)
		}
	}, blocking
}

func startPool(t *testing.T, workers int) *ThreadPool {
	t.Helper()
	p := New(poolName)
	if err := p.Start(workers); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func TestSubmitBeforeStartFails(t *testing.T) {
	p := New(poolName)
	var ran atomic.Bool
	f, err := p.Submit(func() error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, ErrNoActiveWorkers) {
		t.Fatalf("expected ErrNoActiveWorkers, got %v", err)
	}
	if err.Error() != "no active workers; cannot accept new tasks" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if f != nil {
		t.Fatalf("expected nil future on rejected submit")
	}
	if p.QueueSize() != 0 {
		t.Fatalf("rejected task was queued")
	}
	if p.ProcessTask() {
		t.Fatalf("rejected task was runnable")
	}
	if ran.Load() {
		t.Fatalf("rejected task ran")
	}
}

func TestSubmitTasksCompleteSuccessfully(t *testing.T) {
	const numTasks = 50
	for _, workers := range []int{1, 2, numWorkersDefault, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := startPool(t, workers)
			var counter atomic.Int64
			futures := make([]*Future[struct{}], 0, numTasks)
			for i := 1; i <= numTasks; i++ {
				i := i
				f, err := p.Submit(func() error {
					counter.Add(int64(i))
					return nil
				})
				if err != nil {
					t.Fatal(err)
				}
				futures = append(futures, f)
			}
			waitFor(t, futures, "submitted tasks")
			want := int64(numTasks * (numTasks + 1) / 2)
			if got := counter.Load(); got != want {
				t.Fatalf("counter expected %d got %d", want, got)
			}
			if q := p.QueueSize(); q != 0 {
				t.Fatalf("queue size expected 0 got %d", q)
			}
		})
	}
}

func TestSingleAvailableWorkerExecutesAllTasks(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	release, blocking := blockWorkers(t, p, numWorkersDefault-1)
	defer release()

	const numTasks = 15
	counter := 0 // only the single free worker touches it
	futures := make([]*Future[struct{}], 0, numTasks)
	for i := 0; i < numTasks; i++ {
		f, err := p.Submit(func() error {
			counter++
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	waitFor(t, futures, "single worker tasks")
	if counter != numTasks {
		t.Fatalf("counter expected %d got %d", numTasks, counter)
	}

	release()
	waitFor(t, blocking, "blocking tasks")
	p.Stop()
	if n := p.WorkerCount(); n != 0 {
		t.Fatalf("expected 0 workers after stop, got %d", n)
	}
}

func TestWaitForTaskToFinish(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	var flag atomic.Bool
	f, err := p.Submit(func() error {
		time.Sleep(200 * time.Millisecond)
		flag.Store(true)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Wait(waitTimeout) {
		t.Fatal("task did not finish")
	}
	if !flag.Load() {
		t.Fatal("flag not set after task finished")
	}
}

func TestGetResultFromCompletedTask(t *testing.T) {
	p := startPool(t, numWorkersDefault)

	fb, err := Submit(p, func() (bool, error) { return true, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, err := fb.Get(); err != nil || !v {
		t.Fatalf("expected (true, nil) got (%v, %v)", v, err)
	}

	fs, err := Submit(p, func() (string, error) { return "true", nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, err := fs.Get(); err != nil || v != "true" {
		t.Fatalf("expected (\"true\", nil) got (%q, %v)", v, err)
	}
	if fs.Failed() {
		t.Fatal("successful task reported as failed")
	}
}

func TestTaskErrorPropagatesToFuture(t *testing.T) {
	p := startPool(t, numWorkersDefault)

	const numTasks = 5
	const errMsg = "something wrong happened"
	var runs atomic.Int64
	futures := make([]*Future[struct{}], 0, numTasks)
	for i := 0; i < numTasks; i++ {
		i := i
		f, err := p.Submit(func() error {
			runs.Add(1)
			return fmt.Errorf("%s%d", errMsg, i)
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}

	for i, f := range futures {
		want := fmt.Sprintf("%s%d", errMsg, i)
		_, err := f.Get()
		if err == nil || err.Error() != want {
			t.Fatalf("task %d: expected error %q got %v", i, want, err)
		}
		if !errors.Is(err, ErrTaskFailure) {
			t.Fatalf("task %d: error does not match ErrTaskFailure", i)
		}
		if !f.Failed() {
			t.Fatalf("task %d: Failed() is false", i)
		}
		// a second Get returns the same failure and does not re-run the task
		_, err2 := f.Get()
		if err2 == nil || err2.Error() != want {
			t.Fatalf("task %d: second Get returned %v", i, err2)
		}
	}
	if got := runs.Load(); got != numTasks {
		t.Fatalf("expected %d runs got %d", numTasks, got)
	}
}

func TestTaskErrorKeepsIdentity(t *testing.T) {
	p := startPool(t, 1)
	errSentinel := errors.New("sentinel")
	f, err := p.Submit(func() error { return fmt.Errorf("wrapped: %w", errSentinel) })
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.Get()
	if !errors.Is(err, errSentinel) {
		t.Fatalf("expected error to unwrap to sentinel, got %v", err)
	}
	if IsTaskPanic(err) {
		t.Fatal("returned error reported as panic")
	}
}

func TestTaskPanicPropagatesToFuture(t *testing.T) {
	p := startPool(t, 1)

	f, err := Submit(p, func() (int, error) { panic("boom") })
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.Get()
	if v != 0 {
		t.Fatalf("expected zero value got %d", v)
	}
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected panic message %q got %v", "boom", err)
	}
	if !IsTaskPanic(err) {
		t.Fatal("expected IsTaskPanic")
	}
	var te *TaskError
	if !errors.As(err, &te) || len(te.Stack) == 0 {
		t.Fatal("expected *TaskError with stack")
	}

	// the worker survived the panic
	f2, err := Submit(p, func() (int, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, err := f2.GetTimeout(waitTimeout); err != nil || v != 42 {
		t.Fatalf("expected (42, nil) got (%d, %v)", v, err)
	}
}

func TestProcessTasksManuallyWhenWorkersBusy(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	release, blocking := blockWorkers(t, p, numWorkersDefault)
	defer release()

	const numTasks = 20
	var counter atomic.Int64
	for i := 0; i < numTasks; i++ {
		if _, err := p.Submit(func() error {
			counter.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if q := p.QueueSize(); q != numTasks {
		t.Fatalf("queue size expected %d got %d", numTasks, q)
	}
	if got := counter.Load(); got != 0 {
		t.Fatalf("no task should have run yet, got %d", got)
	}

	for i := 0; i < numTasks; i++ {
		if !p.ProcessTask() {
			t.Fatalf("ProcessTask %d found an empty queue", i)
		}
	}
	if got := counter.Load(); got != numTasks {
		t.Fatalf("counter expected %d got %d", numTasks, got)
	}
	if q := p.QueueSize(); q != 0 {
		t.Fatalf("queue size expected 0 got %d", q)
	}
	if p.ProcessTask() {
		t.Fatal("ProcessTask on an empty queue reported work")
	}

	release()
	p.Stop()
	waitFor(t, blocking, "blocking tasks")
}

func TestRecursiveTaskSubmission(t *testing.T) {
	p := startPool(t, 1)

	signal := make(chan struct{})
	_, err := p.Submit(func() error {
		_, err := p.Submit(func() error {
			close(signal)
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-signal:
	case <-time.After(waitTimeout):
		t.Fatal("nested task did not run")
	}
	p.Stop()
}

func TestTaskSubmittedWhileBusyCompletes(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	release, blocking := blockWorkers(t, p, numWorkersDefault)

	f, err := Submit(p, func() (bool, error) { return true, nil })
	if err != nil {
		t.Fatal(err)
	}
	if q := p.QueueSize(); q != 1 {
		t.Fatalf("queue size expected 1 got %d", q)
	}

	// unblock the workers while Stop is already waiting for them
	go func() {
		time.Sleep(200 * time.Millisecond)
		release()
	}()
	p.Stop()

	v, err := f.Get()
	if err != nil || !v {
		t.Fatalf("expected (true, nil) got (%v, %v)", v, err)
	}
	waitFor(t, blocking, "blocking tasks")
	if n := p.WorkerCount(); n != 0 {
		t.Fatalf("expected 0 workers got %d", n)
	}
	if q := p.QueueSize(); q != 0 {
		t.Fatalf("expected empty queue after stop, got %d", q)
	}
}

func TestCongestionMoreWorkersThanCores(t *testing.T) {
	p := startPool(t, max(1, runtime.NumCPU()*2))

	const numTasks = 200
	var counter atomic.Int64
	futures := make([]*Future[struct{}], 0, numTasks)
	for i := 0; i < numTasks; i++ {
		f, err := p.Submit(func() error {
			counter.Add(1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	waitFor(t, futures, "congestion tasks")
	if got := counter.Load(); got != numTasks {
		t.Fatalf("counter expected %d got %d", numTasks, got)
	}
}

func TestInterruptBlocksNewSubmissions(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	release, _ := blockWorkers(t, p, numWorkersDefault)
	defer release()

	// queued before the interrupt: must still run
	var counter atomic.Int64
	queued := make([]*Future[struct{}], 0, 4)
	for i := 0; i < 4; i++ {
		f, err := p.Submit(func() error {
			counter.Add(1)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		queued = append(queued, f)
	}

	p.Interrupt()
	if s := p.State(); s != StateInterrupted {
		t.Fatalf("expected state %s got %s", StateInterrupted, s)
	}

	_, errAfter := p.Submit(func() error { return nil })
	_, errBefore := New(poolName).Submit(func() error { return nil })
	if errAfter == nil || errAfter != errBefore {
		t.Fatalf("expected the not-started error after interrupt, got %v (before start: %v)", errAfter, errBefore)
	}

	release()
	p.Stop()
	waitFor(t, queued, "tasks queued before interrupt")
	if got := counter.Load(); got != 4 {
		t.Fatalf("expected 4 queued tasks to run, got %d", got)
	}
}

func TestInterruptWorkersExitOnceDrained(t *testing.T) {
	p := startPool(t, 2)
	release, blocking := blockWorkers(t, p, 2)
	var counter atomic.Int64
	for i := 0; i < 3; i++ {
		if _, err := p.Submit(func() error {
			counter.Add(1)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.Interrupt()
	if got := p.LiveWorkers(); got != 2 {
		t.Fatalf("expected 2 live workers while busy, got %d", got)
	}
	release()
	waitFor(t, blocking, "blocking tasks")

	// no Stop yet: the workers drain the queue and return by themselves
	deadline := time.Now().Add(waitTimeout)
	for p.LiveWorkers() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("workers still running after interrupt: %d", p.LiveWorkers())
		}
		time.Sleep(time.Millisecond)
	}
	if got := counter.Load(); got != 3 {
		t.Fatalf("expected the 3 queued tasks to run before exit, got %d", got)
	}
	if p.QueueSize() != 0 {
		t.Fatalf("queue not drained: %d", p.QueueSize())
	}
	// the worker set is only cleared by Stop
	if p.WorkerCount() != 2 || p.State() != StateInterrupted {
		t.Fatalf("unexpected workers=%d state=%v", p.WorkerCount(), p.State())
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("Stop after Interrupt did not return")
	}
	if p.WorkerCount() != 0 || p.State() != StateStopped {
		t.Fatalf("unexpected workers=%d state=%v after Stop", p.WorkerCount(), p.State())
	}
}

func TestStopTwice(t *testing.T) {
	p := startPool(t, numWorkersDefault)
	p.Stop()
	p.Stop()
	if n := p.WorkerCount(); n != 0 {
		t.Fatalf("expected 0 workers got %d", n)
	}
	if s := p.State(); s != StateStopped {
		t.Fatalf("expected state %s got %s", StateStopped, s)
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := New(poolName)
	p.Stop()
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if s := p.State(); s != StateNotStarted {
		t.Fatalf("expected state %s got %s", StateNotStarted, s)
	}
}

func TestStartErrors(t *testing.T) {
	p := New(poolName)
	if err := p.Start(0); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Fatalf("expected ErrInvalidWorkerCount got %v", err)
	}
	if err := p.Start(2); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	if err := p.Start(2); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted got %v", err)
	}
	if n := p.WorkerCount(); n != 2 {
		t.Fatalf("expected 2 workers got %d", n)
	}
}

func TestRestartAfterStop(t *testing.T) {
	p := New(poolName)
	for round := 1; round <= 3; round++ {
		if err := p.Start(round); err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if n := p.WorkerCount(); n != round {
			t.Fatalf("round %d: expected %d workers got %d", round, round, n)
		}
		f, err := Submit(p, func() (int, error) { return round, nil })
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		if v, err := f.Get(); err != nil || v != round {
			t.Fatalf("round %d: got (%d, %v)", round, v, err)
		}
		p.Stop()
	}
}

func TestStateTransitions(t *testing.T) {
	p := New(poolName)
	if s := p.State(); s != StateNotStarted {
		t.Fatalf("expected %s got %s", StateNotStarted, s)
	}
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	if s := p.State(); s != StateRunning {
		t.Fatalf("expected %s got %s", StateRunning, s)
	}
	p.Interrupt()
	if s := p.State(); s != StateInterrupted {
		t.Fatalf("expected %s got %s", StateInterrupted, s)
	}
	p.Stop()
	if s := p.State(); s != StateStopped {
		t.Fatalf("expected %s got %s", StateStopped, s)
	}
	if err := p.Start(1); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()
	if s := p.State(); s != StateRunning {
		t.Fatalf("expected %s after restart got %s", StateRunning, s)
	}
}

func TestIndependentPools(t *testing.T) {
	a := startPool(t, 1)
	b := New("other")
	if err := b.Start(1); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	release, _ := blockWorkers(t, a, 1)
	defer release()

	// b keeps working while a is saturated and then interrupted
	a.Interrupt()
	f, err := Submit(b, func() (string, error) { return b.Name(), nil })
	if err != nil {
		t.Fatal(err)
	}
	if v, err := f.GetTimeout(waitTimeout); err != nil || v != "other" {
		t.Fatalf("expected (other, nil) got (%q, %v)", v, err)
	}
}

func TestNilTask(t *testing.T) {
	p := startPool(t, 1)
	if _, err := p.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask got %v", err)
	}
	if _, err := Submit[int](p, nil); !errors.Is(err, ErrNilTask) {
		t.Fatalf("expected ErrNilTask got %v", err)
	}
}

func TestStats(t *testing.T) {
	p := New(poolName)
	_, _ = p.Submit(func() error { return nil })
	if err := p.Start(2); err != nil {
		t.Fatal(err)
	}
	ok, _ := p.Submit(func() error { return nil })
	bad, _ := p.Submit(func() error { return errors.New("bad") })
	waitFor(t, []*Future[struct{}]{ok, bad}, "stats tasks")
	p.Stop()

	st := p.Stats()
	if st.Name != poolName || st.State != "stopped" {
		t.Fatalf("unexpected identity in stats: %+v", st)
	}
	if st.Submitted != 2 || st.Completed != 1 || st.Failed != 1 || st.Rejected != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.Workers != 0 || st.Live != 0 || st.Queued != 0 {
		t.Fatalf("unexpected gauges: %+v", st)
	}
}

func TestStatsCompletedNeverExceedsSubmitted(t *testing.T) {
	p := startPool(t, 4)
	const numTasks = 2000
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		for i := 0; i < numTasks; i++ {
			if _, err := p.Submit(func() error { return nil }); err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
		}
	}()
	for {
		st := p.Stats()
		if st.Completed+st.Failed > st.Submitted {
			t.Fatalf("more tasks finished than submitted: %+v", st)
		}
		select {
		case <-submitted:
			p.Stop()
			st = p.Stats()
			if st.Submitted != numTasks || st.Completed != numTasks {
				t.Fatalf("unexpected final counters: %+v", st)
			}
			return
		default:
		}
	}
}

func TestWaitAll(t *testing.T) {
	p := startPool(t, 2)
	futures := make([]*Future[int], 0, 10)
	for i := 0; i < 10; i++ {
		i := i
		f, err := Submit(p, func() (int, error) { return i, nil })
		if err != nil {
			t.Fatal(err)
		}
		futures = append(futures, f)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := WaitAll(ctx, futures...); err != nil {
		t.Fatal(err)
	}
	for i, f := range futures {
		if v, _ := f.Get(); v != i {
			t.Fatalf("future %d returned %d", i, v)
		}
	}
}

func TestWaitAllTimeout(t *testing.T) {
	p := startPool(t, 1)
	release, blocking := blockWorkers(t, p, 1)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitAll(ctx, blocking...)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}

func TestAssistDrainsQueueWhileWaiting(t *testing.T) {
	p := startPool(t, 1)
	release, _ := blockWorkers(t, p, 1)
	defer release()

	// the only worker is busy: the result is produced by the assisting caller
	f, err := Submit(p, func() (string, error) { return "assisted", nil })
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := p.Assist(ctx, f); err != nil {
		t.Fatal(err)
	}
	if v, err := f.Get(); err != nil || v != "assisted" {
		t.Fatalf("expected (assisted, nil) got (%q, %v)", v, err)
	}
}

func TestAssistHonorsContext(t *testing.T) {
	p := startPool(t, 1)
	release, blocking := blockWorkers(t, p, 1)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := p.Assist(ctx, blocking[0]); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}
}
