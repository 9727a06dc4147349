package dag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodeExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsflow_node_executions_total",
		Help: "Node executions by operation type and terminal status.",
	}, []string{"operation", "status"})

	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsflow_node_duration_seconds",
		Help:    "Time spent running a node's operation.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"operation"})

	activeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tsflow_active_nodes",
		Help: "Nodes currently executing.",
	})

	workflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tsflow_workflow_runs_total",
		Help: "Execution passes by aggregate workflow status.",
	}, []string{"status"})
)
