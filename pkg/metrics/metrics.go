// Package metrics exposes Prometheus counters for workflow processing.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts trigger ingestion, executions and action outcomes.
type Metrics interface {
	IncTriggerEvents(triggerType string, matched int)
	IncExecutionsStarted(triggerType string)
	IncExecutionsFinished(status string)
	IncExecutionsSuspended()
	IncExecutionsRequeued(reason string)
	IncActionOutcome(actionType string, success bool)
	ObserveExecutionDuration(status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncTriggerEvents(string, int)             {}
func (Noop) IncExecutionsStarted(string)              {}
func (Noop) IncExecutionsFinished(string)             {}
func (Noop) IncExecutionsSuspended()                  {}
func (Noop) IncExecutionsRequeued(string)             {}
func (Noop) IncActionOutcome(string, bool)            {}
func (Noop) ObserveExecutionDuration(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	triggerEvents       *prometheus.CounterVec
	triggerMatches      *prometheus.CounterVec
	executionsStarted   *prometheus.CounterVec
	executionsFinished  *prometheus.CounterVec
	executionsSuspended prometheus.Counter
	executionsRequeued  *prometheus.CounterVec
	actionOutcomes      *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	once                sync.Once
}

// NewProm builds the collectors and registers them with registerer.
func NewProm(namespace string, registerer prometheus.Registerer) *Prom {
	p := &Prom{
		triggerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_events_total",
			Help:      "Trigger events received by trigger type",
		}, []string{"trigger_type"}),
		triggerMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_matches_total",
			Help:      "Workflows matched by trigger type",
		}, []string{"trigger_type"}),
		executionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_started_total",
			Help:      "Executions created by trigger type",
		}, []string{"trigger_type"}),
		executionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Executions reaching a terminal status",
		}, []string{"status"}),
		executionsSuspended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_suspended_total",
			Help:      "Executions parked on a wait action",
		}),
		executionsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_requeued_total",
			Help:      "Executions queued again by the resumer",
		}, []string{"reason"}),
		actionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_outcomes_total",
			Help:      "Action outcomes by action type and result",
		}, []string{"action_type", "result"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time from trigger to terminal status",
			Buckets:   prometheus.ExponentialBuckets(0.05, 4, 10),
		}, []string{"status"}),
	}

	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	p.once.Do(func() {
		registerer.MustRegister(
			p.triggerEvents,
			p.triggerMatches,
			p.executionsStarted,
			p.executionsFinished,
			p.executionsSuspended,
			p.executionsRequeued,
			p.actionOutcomes,
			p.executionDuration,
		)
	})

	return p
}

func (p *Prom) IncTriggerEvents(triggerType string, matched int) {
	p.triggerEvents.WithLabelValues(triggerType).Inc()
	p.triggerMatches.WithLabelValues(triggerType).Add(float64(matched))
}

func (p *Prom) IncExecutionsStarted(triggerType string) {
	p.executionsStarted.WithLabelValues(triggerType).Inc()
}

func (p *Prom) IncExecutionsFinished(status string) {
	p.executionsFinished.WithLabelValues(status).Inc()
}

func (p *Prom) IncExecutionsSuspended() {
	p.executionsSuspended.Inc()
}

func (p *Prom) IncExecutionsRequeued(reason string) {
	p.executionsRequeued.WithLabelValues(reason).Inc()
}

func (p *Prom) IncActionOutcome(actionType string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}

	p.actionOutcomes.WithLabelValues(actionType, result).Inc()
}

func (p *Prom) ObserveExecutionDuration(status string, durationSeconds float64) {
	p.executionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
