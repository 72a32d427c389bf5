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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestWorkQueue_FIFO(t *testing.T) {
	q := NewWorkQueue[int]()
	for i := 0; i < 5; i++ {
		if err := q.Put(i); err != nil {
			t.Fatal(err)
		}
	}
	if n := q.Len(); n != 5 {
		t.Fatalf("expected len 5 got %d", n)
	}
	got := make([]int, 0, 5)
	for i := 0; i < 3; i++ {
		v, ok := q.Get()
		if !ok {
			t.Fatal("Get on non-empty queue failed")
		}
		got = append(got, v)
	}
	for {
		v, ok := q.TryGet()
		if !ok {
			break
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4}, got); diff != "" {
		t.Fatalf("dequeue order mismatch (-want +got):\n%s", diff)
	}
	if n := q.Len(); n != 0 {
		t.Fatalf("expected len 0 got %d", n)
	}
}

func TestWorkQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewWorkQueue[string]()
	_ = q.Put("a")
	_ = q.Put("b")
	q.Close()

	if err := q.Put("c"); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed got %v", err)
	}
	// queued elements are still handed out after Close
	for _, want := range []string{"a", "b"} {
		v, ok := q.Get()
		if !ok || v != want {
			t.Fatalf("expected (%q, true) got (%q, %v)", want, v, ok)
		}
	}
	if _, ok := q.Get(); ok {
		t.Fatal("Get on closed and empty queue returned an element")
	}
	if !q.Closed() {
		t.Fatal("Closed() false after Close")
	}

	q.Reopen()
	if q.Closed() {
		t.Fatal("Closed() true after Reopen")
	}
	if err := q.Put("d"); err != nil {
		t.Fatalf("Put after Reopen: %v", err)
	}
	if v, ok := q.TryGet(); !ok || v != "d" {
		t.Fatalf("expected (d, true) got (%q, %v)", v, ok)
	}
}

func TestWorkQueue_CloseWakesWaiters(t *testing.T) {
	q := NewWorkQueue[int]()
	const waiters = 4
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			_, _ = q.Get()
		}()
	}
	time.Sleep(50 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("waiters were not woken by Close")
	}
}

// stress: many producers and consumers, nothing lost, nothing duplicated.
func TestWorkQueue_Stress(t *testing.T) {
	q := NewWorkQueue[int]()
	const producers = 8
	const consumers = 16
	const perProducer = 5000
	total := int64(producers * perProducer)

	var putErrors int64
	var consumed int64
	seen := make([]atomic.Int32, total)

	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Get()
				if !ok {
					return
				}
				seen[v].Add(1)
				atomic.AddInt64(&consumed, 1)
			}
		}()
	}

	var pwg sync.WaitGroup
	pwg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				if err := q.Put(base*perProducer + i); err != nil {
					atomic.AddInt64(&putErrors, 1)
				}
			}
		}(p)
	}
	pwg.Wait()

	// Close only stops the consumers once everything queued was handed out
	q.Close()
	wg.Wait()

	if pe := atomic.LoadInt64(&putErrors); pe != 0 {
		t.Fatalf("Put returned errors: %d", pe)
	}
	if c := atomic.LoadInt64(&consumed); c != total {
		t.Fatalf("consumed %d, want %d", c, total)
	}
	for i := range seen {
		if n := seen[i].Load(); n != 1 {
			t.Fatalf("element %d consumed %d times", i, n)
		}
	}
	if n := q.Len(); n != 0 {
		t.Fatalf("expected empty queue got %d", n)
	}
}
