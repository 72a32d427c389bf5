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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "workpool"
	poolLabel        = "pool"
)

// Metrics holds the Prometheus collectors shared by all pools registered
// against the same registry. Series are labeled with the pool name.
type Metrics struct {
	submitted *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	queued    *prometheus.GaugeVec
	workers   *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
	wait      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks accepted by the pool",
		}, []string{poolLabel}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that ran without failure",
		}, []string{poolLabel}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that returned an error or panicked",
		}, []string{poolLabel}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tasks_rejected_total",
			Help:      "Total number of submissions rejected because the pool was not running",
		}, []string{poolLabel}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_size",
			Help:      "Number of tasks waiting in the work queue",
		}, []string{poolLabel}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "workers",
			Help:      "Number of live worker goroutines",
		}, []string{poolLabel}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_duration_seconds",
			Help:      "Time spent executing task bodies",
			Buckets:   prometheus.DefBuckets,
		}, []string{poolLabel}),
		wait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "task_queue_wait_seconds",
			Help:      "Time tasks spent queued before a worker or caller picked them up",
			Buckets:   prometheus.DefBuckets,
		}, []string{poolLabel}),
	}
	reg.MustRegister(
		m.submitted,
		m.completed,
		m.failed,
		m.rejected,
		m.queued,
		m.workers,
		m.duration,
		m.wait,
	)
	return m
}

// poolMetrics is the per-pool view of Metrics. A nil *poolMetrics is valid
// and records nothing.
type poolMetrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	rejected  prometheus.Counter
	queued    prometheus.Gauge
	workers   prometheus.Gauge
	duration  prometheus.Observer
	wait      prometheus.Observer
}

func (m *Metrics) forPool(name string) *poolMetrics {
	if m == nil {
		return nil
	}
	return &poolMetrics{
		submitted: m.submitted.WithLabelValues(name),
		completed: m.completed.WithLabelValues(name),
		failed:    m.failed.WithLabelValues(name),
		rejected:  m.rejected.WithLabelValues(name),
		queued:    m.queued.WithLabelValues(name),
		workers:   m.workers.WithLabelValues(name),
		duration:  m.duration.WithLabelValues(name),
		wait:      m.wait.WithLabelValues(name),
	}
}

// taskQueued is called before the task is put on the queue so the gauge
// never goes negative when a worker dequeues it right away.
func (m *poolMetrics) taskQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

func (m *poolMetrics) taskSubmitted() {
	if m == nil {
		return
	}
	m.submitted.Inc()
}

// taskRejected undoes taskQueued when queued is true.
func (m *poolMetrics) taskRejected(queued bool) {
	if m == nil {
		return
	}
	m.rejected.Inc()
	if queued {
		m.queued.Dec()
	}
}

func (m *poolMetrics) taskDequeued(wait time.Duration) {
	if m == nil {
		return
	}
	m.queued.Dec()
	m.wait.Observe(wait.Seconds())
}

func (m *poolMetrics) taskDone(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(took.Seconds())
	if err != nil {
		m.failed.Inc()
		return
	}
	m.completed.Inc()
}

func (m *poolMetrics) setWorkers(n int) {
	if m == nil {
		return
	}
	m.workers.Set(float64(n))
}
