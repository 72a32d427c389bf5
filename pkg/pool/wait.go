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
	"fmt"
	"time"
)

// assistPollInterval bounds how long Assist sleeps on an empty queue before
// looking for new work again.
const assistPollInterval = 5 * time.Millisecond

// WaitAll blocks until every future has completed or ctx is done. Task
// failures are not reported; inspect the futures for those.
func WaitAll[T any](ctx context.Context, futures ...*Future[T]) error {
	for i, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for task index %d: %w", i, ctx.Err())
		}
	}
	return nil
}

// Assist waits for w to complete while running queued tasks on the calling
// goroutine. A caller blocked on a result thereby helps the workers instead
// of idling, which avoids starvation when every worker is itself waiting.
func (p *ThreadPool) Assist(ctx context.Context, w Waiter) error {
	for {
		select {
		case <-w.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if p.ProcessTask() {
			continue
		}
		timer := time.NewTimer(assistPollInterval)
		select {
		case <-w.Done():
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
