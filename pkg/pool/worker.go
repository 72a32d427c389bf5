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

import "strconv"

func workerName(pool string, i int) string {
	return pool + "_pool_" + strconv.Itoa(i)
}

// workerLoop waits for work, runs it outside the queue lock and repeats.
// It only returns once the interrupt flag is set and the queue is empty, so
// nothing queued before Stop is abandoned.
func (p *ThreadPool) workerLoop(name string) {
	defer p.wg.Done()
	defer p.live.Add(-1)
	l := p.log.WithField("worker", name)
	l.Debug("thread start")
	for {
		t, ok := p.queue.Get()
		if !ok {
			l.Debug("thread exit")
			return
		}
		p.execute(t)
	}
}
