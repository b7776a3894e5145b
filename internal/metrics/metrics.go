// Package metrics exposes Prometheus instrumentation for ingestion and lifecycle changes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "incidentd"

// Ingest outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeMerged   = "merged"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Failure stages for the async pipeline.
const (
	StageDecode  = "decode"
	StageHandle  = "handle"
	StageEnqueue = "enqueue"
)

// Metrics groups every collector the service records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	eventsIngested *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	ingestFailures *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Error events processed by the dedup engine, by outcome",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Incident status transitions applied",
		}, []string{"from", "to"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_conflicts_total",
			Help:      "Optimistic concurrency conflicts that forced a reload",
		}, []string{"operation"}),
		ingestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Asynchronous ingest payloads that failed, by stage",
		}, []string{"stage"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_queue_depth",
			Help:      "Payloads waiting in the ingest queue",
		}),
	}
	reg.MustRegister(m.eventsIngested, m.transitions, m.conflicts, m.ingestFailures, m.queueDepth)
	return m
}

// EventIngested counts one event by outcome.
func (m *Metrics) EventIngested(outcome string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Conflict(operation string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) IngestFailure(stage string) {
	if m == nil {
		return
	}
	m.ingestFailures.WithLabelValues(stage).Inc()
}

// SetQueueDepth reports how many payloads wait in the queue.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
