package breaker

import (
	"errors"
	"sort"
	"sync"
	"time"

	"ReplicaMesh/internal/logger"
)

// recoveryBuffer is the capacity of the recovery trigger channel.
const recoveryBuffer = 64

// ErrUnknownNode is returned for operations on an unregistered node id.
var ErrUnknownNode = errors.New("unknown node")

// Registry owns one CircuitBreaker per node id and fans out recovery triggers.
// Thread-safe: the map is guarded by mu, each breaker locks itself.
type Registry struct {
	cfg        Config
	breakers   map[string]*CircuitBreaker
	recoveries chan string
	listeners  []func(nodeID string)
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry; new breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:        cfg,
		breakers:   make(map[string]*CircuitBreaker),
		recoveries: make(chan string, recoveryBuffer),
	}
}

// Recoveries returns the channel receiving node ids whose breaker opened.
// Triggers are dropped when the channel is full.
func (r *Registry) Recoveries() <-chan string {
	return r.recoveries
}

// OnRecovery subscribes fn to recovery triggers of every breaker,
// including breakers added later.
func (r *Registry) OnRecovery(fn func(nodeID string)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Add creates a breaker for nodeID, or returns the existing one.
func (r *Registry) Add(nodeID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[nodeID]; ok {
		return b
	}

	b := New(nodeID, r.cfg)
	b.OnRecovery(r.publish)
	r.breakers[nodeID] = b

	return b
}

// publish forwards a trigger to the channel and registry subscribers.
func (r *Registry) publish(nodeID string) {
	select {
	case r.recoveries <- nodeID:
	default:
		logger.Warn("recovery trigger dropped", "node", nodeID)
	}

	r.mu.RLock()
	listeners := make([]func(string), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(nodeID)
	}
}

// Get returns the breaker for nodeID.
func (r *Registry) Get(nodeID string) (*CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.breakers[nodeID]
	if !ok {
		return nil, ErrUnknownNode
	}

	return b, nil
}

// Remove drops the breaker for nodeID.
func (r *Registry) Remove(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[nodeID]; !ok {
		return ErrUnknownNode
	}

	delete(r.breakers, nodeID)

	return nil
}

// IsAllowed consults the node's breaker. Unknown nodes are never admitted.
func (r *Registry) IsAllowed(nodeID string) bool {
	b, err := r.Get(nodeID)
	if err != nil {
		return false
	}

	return b.IsAllowed()
}

// RegisterFault records a fault of the given score against nodeID, timestamped now.
// Returns false when the node is not (or no longer) admitted.
func (r *Registry) RegisterFault(nodeID string, score uint64) bool {
	b, err := r.Get(nodeID)
	if err != nil {
		return false
	}

	now := time.Now
	if r.cfg.Now != nil {
		now = r.cfg.Now
	}

	return b.RegisterFault(Fault{At: now(), Score: score})
}

// SetBanned bans or unbans nodeID.
func (r *Registry) SetBanned(nodeID string, banned bool) error {
	b, err := r.Get(nodeID)
	if err != nil {
		return err
	}

	b.SetBanned(banned)

	return nil
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	NodeID     string `json:"node_id"`
	State      string `json:"state"`
	Banned     bool   `json:"banned"`
	FaultTotal uint64 `json:"fault_total"`
}

// States returns the status of every breaker sorted by node id.
func (r *Registry) States() []BreakerStatus {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	out := make([]BreakerStatus, len(breakers))
	for i, b := range breakers {
		out[i] = BreakerStatus{
			NodeID:     b.NodeID(),
			State:      b.State().String(),
			Banned:     b.Banned(),
			FaultTotal: b.TotalFaultScore(),
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NodeID < out[j].NodeID
	})

	return out
}
