package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_ingested_total",
			Help: "Total number of authentication events ingested",
		},
		[]string{"format"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_rejected_total",
			Help: "Total number of input lines that could not be parsed",
		},
		[]string{"format"},
	)

	FindingsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_findings_emitted_total",
			Help: "Total number of findings emitted by the signal engine",
		},
		[]string{"rule", "severity"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_events_skipped_total",
			Help: "Total number of events a rule could not evaluate",
		},
		[]string{"rule"},
	)

	LinesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_lines_suppressed_total",
			Help: "Total number of generated lines dropped for naming unknown entities",
		},
		[]string{"stage"},
	)

	CommandsRepaired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_commands_repaired_total",
			Help: "Total number of item commands filled by the repair engine",
		},
		[]string{"source"},
	)

	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_generation_requests_total",
			Help: "Total number of text generation calls",
		},
		[]string{"result"},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_generation_duration_seconds",
			Help:    "Time taken by text generation calls",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_generation_circuit_breaker_state",
			Help: "Generation circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_publish_failures_total",
			Help: "Total number of failed finding or run persistence attempts",
		},
		[]string{"sink"},
	)
)
