// Package metrics provides in-process Prometheus instrumentation for the
// coordinator and worker binaries. It does not implement an external
// metric-collection pipeline (that is an out-of-scope collaborator); it
// only exposes a /metrics endpoint the way the teacher's api server does.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Coordinator / catalog metrics
	SharedPlansTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxmesh_shared_plans_total",
			Help: "Number of shared query plans by status",
		},
		[]string{"status"},
	)

	QueriesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxmesh_queries_total",
			Help: "Number of submitted queries by status",
		},
		[]string{"status"},
	)

	TopologyNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxmesh_topology_nodes_total",
			Help: "Number of worker nodes registered with the coordinator",
		},
	)

	// Deployment metrics (C7)
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_deployments_total",
			Help: "Total number of deployment attempts by outcome",
		},
		[]string{"outcome"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxmesh_deployment_duration_seconds",
			Help:    "Time to deploy a shared plan update across affected workers",
			Buckets: prometheus.DefBuckets,
		},
	)

	RPCRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_rpc_retries_total",
			Help: "Total number of RPC retry attempts by method",
		},
		[]string{"method"},
	)

	// Pipeline runtime metrics (C3)
	TasksScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_tasks_scheduled_total",
			Help: "Total number of tasks scheduled by queue kind",
		},
		[]string{"queue"},
	)

	EOSTokensInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxmesh_eos_tokens_in_flight",
			Help: "Current end-of-stream token counter per sub-plan",
		},
		[]string{"sub_plan_id"},
	)

	ReconfigurationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_reconfigurations_total",
			Help: "Total number of reconfiguration messages broadcast by kind",
		},
		[]string{"kind"},
	)

	// Network exchange metrics (C2)
	BackpressureEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_backpressure_events_total",
			Help: "Total number of backpressure signals raised by the buffer pool",
		},
		[]string{"pool"},
	)

	NetworkBuffersSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_network_buffers_sent_total",
			Help: "Total number of data buffers sent over network partitions",
		},
		[]string{"partition"},
	)

	// Join engine metrics (C5)
	JoinWindowsFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_join_windows_fired_total",
			Help: "Total number of join windows fired by variant",
		},
		[]string{"variant"},
	)

	JoinWindowsDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxmesh_join_windows_discarded_total",
			Help: "Total number of join windows discarded without firing (failure EOS)",
		},
		[]string{"variant"},
	)

	JoinWindowLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxmesh_join_window_lock_wait_seconds",
			Help:    "Time spent acquiring a window's per-window lock and appending to it on the join build path",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		SharedPlansTotal,
		QueriesTotal,
		TopologyNodesTotal,
		DeploymentsTotal,
		DeploymentDuration,
		RPCRetriesTotal,
		TasksScheduled,
		EOSTokensInFlight,
		ReconfigurationsTotal,
		BackpressureEventsTotal,
		NetworkBuffersSent,
		JoinWindowsFiredTotal,
		JoinWindowsDiscardedTotal,
		JoinWindowLockWait,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording them to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
