// Package metrics holds the process-wide Prometheus collectors shared by
// every pipeline component, registered via promauto the way the teacher's
// internal/metrics package does: package-level vars, one file, no
// per-component sub-registries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesEnqueued counts Ruleset matches submitted into an Action's
	// Batch Queue.
	MessagesEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_messages_enqueued_total",
			Help: "Total number of messages enqueued into an action's batch queue",
		},
		[]string{"ruleset", "action"},
	)

	// ActionResults counts do_action outcomes by result code.
	ActionResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_action_results_total",
			Help: "Total number of do_action results by outcome",
		},
		[]string{"action", "result"},
	)

	// ActionState reports the current Action state as a gauge: 0=RDY,
	// 1=SUSPENDED, 2=DISABLED.
	ActionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rsyslog_core_action_state",
			Help: "Current action state (0=RDY, 1=SUSPENDED, 2=DISABLED)",
		},
		[]string{"action"},
	)

	// QueueDepth reports in-memory batch queue occupancy.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rsyslog_core_queue_depth",
			Help: "Current in-memory occupancy of an action's batch queue",
		},
		[]string{"action"},
	)

	// QueueSpilled counts messages spilled to the on-disk spool. No package
	// in this module increments it.
	QueueSpilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_queue_spilled_total",
			Help: "Total number of messages spilled to the disk-assist spool",
		},
		[]string{"action"},
	)

	// RetryAttempts counts SUSPENDED→retry attempts.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_retry_attempts_total",
			Help: "Total number of retry (try_resume) attempts",
		},
		[]string{"action"},
	)

	// FilterEvaluations counts Filter.Evaluate calls by whether they
	// matched. No package in this module increments it.
	FilterEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_filter_evaluations_total",
			Help: "Total number of filter evaluations by outcome",
		},
		[]string{"ruleset", "matched"},
	)

	// VMExecErrors counts expression VM execution errors by kind. No
	// package in this module increments it.
	VMExecErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_vm_exec_errors_total",
			Help: "Total number of expression VM execution errors",
		},
		[]string{"kind"},
	)

	// TransportBytesSent counts bytes written to a forwarding transport.
	TransportBytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_transport_bytes_sent_total",
			Help: "Total bytes sent by a forwarding transport",
		},
		[]string{"action", "proto"},
	)

	// TransportCompressionSaved counts bytes saved by compression (only
	// incremented when compression actually shrank the payload).
	TransportCompressionSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rsyslog_core_transport_compression_saved_bytes_total",
			Help: "Total bytes saved by compressing forwarding transport payloads",
		},
		[]string{"action"},
	)

	// TransportConnState reports connection state: 0=NOT_CONNECTED,
	// 1=CONNECTING, 2=READY.
	TransportConnState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rsyslog_core_transport_conn_state",
			Help: "Current forwarding transport connection state",
		},
		[]string{"action"},
	)

	// ProcessingDuration times ruleset/action/module stages. No package in
	// this module observes into it.
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rsyslog_core_processing_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "stage"},
	)
)
