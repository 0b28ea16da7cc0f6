// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry is the ambient observability layer that scrapes the
// scheduler's and KV manager's read-only atomics into Prometheus and
// exposes an optional per-tenant admit/deny counter hook. Nothing in this
// package participates in admission decisions; the core emits no
// formatted metrics of its own, per the external-interfaces contract.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"runner/internal/scheduler"
)

// Metrics mirrors the scheduler Handle's observability surface as
// Prometheus gauges and counts admission outcomes.
type Metrics struct {
	queueDepth     prometheus.Gauge
	lastBatchSize  prometheus.Gauge
	kvUsedBlocks   prometheus.Gauge
	kvCapacity     prometheus.Gauge
	admitsTotal    prometheus.Counter
	deniesTotal    prometheus.Counter
	emptyRepliesTo prometheus.Counter
}

// NewMetrics registers the runner's Prometheus collectors against reg. A
// nil reg registers against the default global registry, matching the
// teacher's eager, process-wide registration style.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_queue_depth",
			Help: "Number of requests pending in the scheduler's queue as of the last tick.",
		}),
		lastBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_last_batch_size",
			Help: "Size of the most recently dispatched non-empty batch.",
		}),
		kvUsedBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_kv_used_blocks",
			Help: "Blocks currently reserved against the paged KV manager.",
		}),
		kvCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_kv_capacity_blocks",
			Help: "Total blocks available to the paged KV manager.",
		}),
		admitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_admissions_total",
			Help: "Total requests admitted into the scheduler's queue.",
		}),
		deniesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_admission_denials_total",
			Help: "Total requests denied admission for insufficient KV capacity.",
		}),
		emptyRepliesTo: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_empty_replies_total",
			Help: "Total replies collapsed to an empty string (backend error or abandonment).",
		}),
	}
	reg.MustRegister(m.queueDepth, m.lastBatchSize, m.kvUsedBlocks, m.kvCapacity,
		m.admitsTotal, m.deniesTotal, m.emptyRepliesTo)
	return m
}

// Sample copies the scheduler handle's current atomics into the gauges.
// Call this periodically (e.g. on every /metrics scrape or a short
// ticker) — it is cheap, snapshot-only, and safe to call concurrently.
func (m *Metrics) Sample(h *scheduler.Handle) {
	m.queueDepth.Set(float64(h.QueueDepth()))
	m.lastBatchSize.Set(float64(h.LastBatchSize()))
	m.kvUsedBlocks.Set(float64(h.KV().UsedBlocks()))
	m.kvCapacity.Set(float64(h.KV().CapacityBlocks()))
}

// ObserveAdmission records an admission outcome.
func (m *Metrics) ObserveAdmission(admitted bool) {
	if admitted {
		m.admitsTotal.Inc()
	} else {
		m.deniesTotal.Inc()
	}
}

// ObserveReply records whether a reply collapsed to empty.
func (m *Metrics) ObserveReply(text string) {
	if text == "" {
		m.emptyRepliesTo.Inc()
	}
}
