// Package router picks the nodes a request should go to: the best predicted
// performers whose circuit breakers still admit traffic.
package router

import (
	"errors"
	"fmt"

	"ReplicaMesh/internal/balancer"
	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/logger"
)

// ErrNoAdmittedNode is returned when nodes are registered but every breaker denies.
var ErrNoAdmittedNode = errors.New("no admitted node")

// Config holds the settings applied to every registered node.
type Config struct {
	Coefficients []float64           // Coefficients weight the predictor state; nil means zeros
	Aggregator   balancer.Aggregator // Aggregator folds measurements; nil means MeanAggregator
	DefaultScore float64             // DefaultScore is reported when a measurement is rejected
}

// Router combines the load balancer ranking with breaker admission and
// feeds request outcomes back into both.
type Router struct {
	cfg      Config
	lb       *balancer.LoadBalancer
	breakers *breaker.Registry
}

// New creates a router over lb and breakers.
func New(cfg Config, lb *balancer.LoadBalancer, breakers *breaker.Registry) *Router {
	return &Router{cfg: cfg, lb: lb, breakers: breakers}
}

// Balancer returns the underlying load balancer.
func (r *Router) Balancer() *balancer.LoadBalancer {
	return r.lb
}

// Breakers returns the underlying breaker registry.
func (r *Router) Breakers() *breaker.Registry {
	return r.breakers
}

// Register makes nodeID routable at addr. Registering a known node only
// updates its address.
func (r *Router) Register(nodeID, addr string) {
	if desc, err := r.lb.Get(nodeID); err == nil {
		desc.SetAddr(addr)
		return
	}

	coefficients := append([]float64(nil), r.cfg.Coefficients...)
	if len(coefficients) == 0 {
		coefficients = nil
	}

	predictor := balancer.NewPredictor(coefficients, r.cfg.Aggregator)
	r.lb.Add(nodeID, balancer.NewNodeDescriptor(addr, predictor))
	r.breakers.Add(nodeID)

	breakerState.WithLabelValues(nodeID).Set(float64(breaker.Closed))
	nodeScore.WithLabelValues(nodeID).Set(predictor.Score())

	logger.Info("node registered", "node", nodeID, "addr", addr)
}

// Unregister forgets nodeID.
func (r *Router) Unregister(nodeID string) error {
	if err := r.lb.Delete(nodeID); err != nil {
		return err
	}

	_ = r.breakers.Remove(nodeID)
	forgetNode(nodeID)

	logger.Info("node unregistered", "node", nodeID)

	return nil
}

// Addr returns the address nodeID registered with.
func (r *Router) Addr(nodeID string) (string, error) {
	desc, err := r.lb.Get(nodeID)
	if err != nil {
		return "", err
	}

	return desc.Addr(), nil
}

// Select returns up to k nodes ranked by score, skipping nodes whose breaker
// denies admission. Breakers are only consulted until k nodes are found.
func (r *Router) Select(k int) ([]balancer.NodeScore, error) {
	ranked, err := r.lb.BestNodes(r.lb.Len())
	if err != nil {
		routingDecisions.WithLabelValues("empty_registry").Inc()
		return nil, err
	}

	if k <= 0 {
		return []balancer.NodeScore{}, nil
	}

	selected := make([]balancer.NodeScore, 0, min(k, len(ranked)))

	for _, ns := range ranked {
		if len(selected) == k {
			break
		}

		allowed := r.breakers.IsAllowed(ns.NodeID)
		r.observeBreaker(ns.NodeID)

		if !allowed {
			deniedCandidates.WithLabelValues(ns.NodeID).Inc()
			continue
		}

		selected = append(selected, ns)
	}

	if len(selected) == 0 {
		routingDecisions.WithLabelValues("none_admitted").Inc()
		return nil, fmt.Errorf("%w: %d candidates", ErrNoAdmittedNode, len(ranked))
	}

	routingDecisions.WithLabelValues("selected").Inc()

	return selected, nil
}

// PlaceObject returns the replication admitted nodes that should hold
// objectID, by rendezvous hashing.
func (r *Router) PlaceObject(objectID []byte, replication int) ([]string, error) {
	ids := r.lb.NodeIDs()
	if len(ids) == 0 {
		return nil, balancer.ErrEmptyRegistry
	}

	admitted := make([]string, 0, len(ids))
	for _, id := range ids {
		if r.breakers.IsAllowed(id) {
			admitted = append(admitted, id)
		}
		r.observeBreaker(id)
	}

	if len(admitted) == 0 {
		return nil, fmt.Errorf("%w: %d candidates", ErrNoAdmittedNode, len(ids))
	}

	return Holders(objectID, replication, admitted), nil
}

// ReportMeasurement feeds a performance sample for nodeID into its predictor
// and returns the resulting score. A rejected sample leaves the score as it
// was and is returned with the error.
func (r *Router) ReportMeasurement(nodeID string, values []float64) (float64, error) {
	score, err := r.lb.UpdateNode(nodeID, values)
	if errors.Is(err, balancer.ErrUnknownNode) {
		return 0, err
	}

	if err != nil {
		measurementFailures.WithLabelValues(nodeID).Inc()
		logger.Warn("measurement rejected", "node", nodeID, "error", err)
		return score, err
	}

	nodeScore.WithLabelValues(nodeID).Set(score)

	return score, nil
}

// ReportFault registers a fault of the given score against nodeID now.
// It returns false when the fault opened the breaker.
func (r *Router) ReportFault(nodeID string, score uint64) (bool, error) {
	if _, err := r.breakers.Get(nodeID); err != nil {
		return false, err
	}

	ok := r.breakers.RegisterFault(nodeID, score)
	faultsReported.WithLabelValues(nodeID).Inc()
	r.observeBreaker(nodeID)

	return ok, nil
}

// ApplyFault registers a fault observed elsewhere, keeping its timestamp.
// It returns false when the fault opened the breaker.
func (r *Router) ApplyFault(nodeID string, f breaker.Fault) (bool, error) {
	cb, err := r.breakers.Get(nodeID)
	if err != nil {
		return false, err
	}

	ok := cb.RegisterFault(f)
	faultsReported.WithLabelValues(nodeID).Inc()
	r.observeBreaker(nodeID)

	return ok, nil
}

// observeBreaker publishes the current breaker state of nodeID.
func (r *Router) observeBreaker(nodeID string) {
	cb, err := r.breakers.Get(nodeID)
	if err != nil {
		return
	}

	breakerState.WithLabelValues(nodeID).Set(float64(cb.State()))
}
