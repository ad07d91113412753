package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// routingDecisions counts Select calls.
	// Labels: outcome (selected, empty_registry, none_admitted)
	routingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicamesh",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Total routing decisions by outcome",
	}, []string{"outcome"})

	// deniedCandidates counts candidates skipped because their breaker refused.
	// Labels: node
	deniedCandidates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicamesh",
		Subsystem: "router",
		Name:      "denied_candidates_total",
		Help:      "Candidates skipped because their circuit breaker denied admission",
	}, []string{"node"})

	// faultsReported counts faults fed back into breakers.
	// Labels: node
	faultsReported = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicamesh",
		Subsystem: "breaker",
		Name:      "faults_total",
		Help:      "Total faults registered against a node",
	}, []string{"node"})

	// breakerState exposes the breaker state per node (0 closed, 1 open, 2 half-open).
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "replicamesh",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state per node: 0 closed, 1 open, 2 half-open",
	}, []string{"node"})

	// nodeScore exposes the predicted performance score per node.
	nodeScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "replicamesh",
		Subsystem: "balancer",
		Name:      "node_score",
		Help:      "Predicted performance score per node",
	}, []string{"node"})

	// measurementFailures counts measurements the predictor rejected.
	measurementFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "replicamesh",
		Subsystem: "balancer",
		Name:      "measurement_failures_total",
		Help:      "Measurements rejected by the aggregation strategy",
	}, []string{"node"})
)

// forgetNode drops every per-node series.
func forgetNode(nodeID string) {
	deniedCandidates.DeleteLabelValues(nodeID)
	faultsReported.DeleteLabelValues(nodeID)
	breakerState.DeleteLabelValues(nodeID)
	nodeScore.DeleteLabelValues(nodeID)
	measurementFailures.DeleteLabelValues(nodeID)
}
