package balancer

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrUnknownNode is returned for operations on an unregistered node id.
	ErrUnknownNode = errors.New("unknown node")

	// ErrEmptyRegistry is returned by BestNodes when no node is registered.
	ErrEmptyRegistry = errors.New("no nodes registered")
)

// NodeDescriptor binds a node address to its performance predictor.
// Thread-safe: the predictor is only touched under mu.
type NodeDescriptor struct {
	addr      string
	predictor *Predictor
	mu        sync.Mutex
}

// NewNodeDescriptor creates a descriptor for addr backed by predictor.
func NewNodeDescriptor(addr string, predictor *Predictor) *NodeDescriptor {
	return &NodeDescriptor{addr: addr, predictor: predictor}
}

// Addr returns the node address.
func (d *NodeDescriptor) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.addr
}

// SetAddr replaces the node address.
func (d *NodeDescriptor) SetAddr(addr string) {
	d.mu.Lock()
	d.addr = addr
	d.mu.Unlock()
}

// UpdatePerformanceScore folds values into the predictor and returns the new
// score, or def when the predictor rejects the measurement.
func (d *NodeDescriptor) UpdatePerformanceScore(values []float64, def float64) float64 {
	score, err := d.update(values)
	if err != nil {
		return def
	}

	return score
}

// update folds values into the predictor and returns the resulting score.
// On error the score reflects the previous state.
func (d *NodeDescriptor) update(values []float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.predictor.UpdateState(values)

	return d.predictor.Score(), err
}

// Score returns the current performance score.
func (d *NodeDescriptor) Score() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.predictor.Score()
}

// State returns a copy of the predictor state.
func (d *NodeDescriptor) State() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.predictor.State()
}

// Reset clears the predictor.
func (d *NodeDescriptor) Reset() {
	d.mu.Lock()
	d.predictor.Reset()
	d.mu.Unlock()
}

// NodeScore pairs a node id with a score snapshot.
type NodeScore struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// LoadBalancer ranks registered nodes by predicted performance.
// Iteration order is registration order, which breaks score ties.
// Thread-safe: the registry is guarded by mu.
type LoadBalancer struct {
	descriptors map[string]*NodeDescriptor
	order       []string
	mu          sync.RWMutex
}

// NewLoadBalancer creates an empty load balancer.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{descriptors: make(map[string]*NodeDescriptor)}
}

// Add registers desc under nodeID. Re-adding a node replaces its descriptor
// and keeps its position.
func (lb *LoadBalancer) Add(nodeID string, desc *NodeDescriptor) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, ok := lb.descriptors[nodeID]; !ok {
		lb.order = append(lb.order, nodeID)
	}

	lb.descriptors[nodeID] = desc
}

// Delete unregisters nodeID.
func (lb *LoadBalancer) Delete(nodeID string) error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if _, ok := lb.descriptors[nodeID]; !ok {
		return ErrUnknownNode
	}

	delete(lb.descriptors, nodeID)

	for i, id := range lb.order {
		if id == nodeID {
			lb.order = append(lb.order[:i], lb.order[i+1:]...)
			break
		}
	}

	return nil
}

// Get returns the descriptor registered under nodeID.
func (lb *LoadBalancer) Get(nodeID string) (*NodeDescriptor, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	desc, ok := lb.descriptors[nodeID]
	if !ok {
		return nil, ErrUnknownNode
	}

	return desc, nil
}

// NodeIDs returns the registered ids in registration order.
func (lb *LoadBalancer) NodeIDs() []string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	return append([]string(nil), lb.order...)
}

// Len returns the number of registered nodes.
func (lb *LoadBalancer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	return len(lb.order)
}

// UpdateNode forwards a measurement to nodeID's descriptor and returns its
// resulting score. An ErrAggregation error leaves the previous score in place.
func (lb *LoadBalancer) UpdateNode(nodeID string, values []float64) (float64, error) {
	desc, err := lb.Get(nodeID)
	if err != nil {
		return 0, err
	}

	return desc.update(values)
}

// BestNodes returns up to k nodes ordered by descending score.
// Fewer than k are returned when fewer are registered.
func (lb *LoadBalancer) BestNodes(k int) ([]NodeScore, error) {
	lb.mu.RLock()
	scores := make([]NodeScore, 0, len(lb.order))
	for _, id := range lb.order {
		scores = append(scores, NodeScore{NodeID: id, Score: lb.descriptors[id].Score()})
	}
	lb.mu.RUnlock()

	if len(scores) == 0 {
		return nil, ErrEmptyRegistry
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	if k < 0 {
		k = 0
	}

	if k > len(scores) {
		k = len(scores)
	}

	return scores[:k], nil
}

// Reset unregisters every node.
func (lb *LoadBalancer) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, desc := range lb.descriptors {
		desc.Reset()
	}

	lb.descriptors = make(map[string]*NodeDescriptor)
	lb.order = nil
}
