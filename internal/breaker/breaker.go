package breaker

import (
	"sync"
	"time"

	"ReplicaMesh/internal/logger"
)

// State is the admission state of a circuit breaker.
type State int

const (
	Closed   State = iota // Closed admits requests and accumulates faults
	Open                  // Open denies requests until faults decay
	HalfOpen              // HalfOpen admits probe traffic; any fault reopens
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds breaker tuning. Zero fields take the defaults.
type Config struct {
	Threshold    uint64           // Threshold is the decayed total that opens the breaker
	ForgetWindow time.Duration    // ForgetWindow is the decay span of a single fault
	Now          func() time.Time // Now is the clock; tests substitute a fake
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}

	if c.ForgetWindow == 0 {
		c.ForgetWindow = DefaultForgetWindow
	}

	if c.Now == nil {
		c.Now = time.Now
	}

	return c
}

// CircuitBreaker gates traffic to a single remote node.
// Thread-safe: all methods lock the breaker.
type CircuitBreaker struct {
	cfg       Config
	stat      *Statistic
	state     State
	banned    bool
	listeners []func(nodeID string) // listeners receive recovery triggers
	mu        sync.Mutex
}

// New creates a closed breaker for nodeID.
func New(nodeID string, cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()

	return &CircuitBreaker{
		cfg:   cfg,
		stat:  newStatistic(nodeID, cfg.ForgetWindow),
		state: Closed,
	}
}

// NodeID returns the node this breaker protects.
func (b *CircuitBreaker) NodeID() string {
	return b.stat.nodeID
}

// OnRecovery subscribes fn to recovery triggers.
// Each trigger runs fn in its own goroutine.
func (b *CircuitBreaker) OnRecovery(fn func(nodeID string)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// RegisterFault records a fault and reports whether the node is still admitted.
func (b *CircuitBreaker) RegisterFault(f Fault) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.stat.add(f)

		total := b.stat.total(b.cfg.Now())
		if total < b.cfg.Threshold {
			return true
		}

		b.trip(total)

		return false

	case HalfOpen:
		// Any fault while probing counts as a full-threshold fault.
		f.Score = b.cfg.Threshold
		b.stat.add(f)
		b.trip(b.cfg.Threshold)

		return false
	}

	return true
}

// trip moves the breaker to Open and emits a recovery trigger unless banned.
// Caller must hold mu.
func (b *CircuitBreaker) trip(total uint64) {
	prev := b.state
	b.state = Open

	logger.Warn("circuit opened",
		"node", b.stat.nodeID,
		"from", prev.String(),
		"fault_total", total,
		"threshold", b.cfg.Threshold,
	)

	if b.banned {
		return
	}

	nodeID := b.stat.nodeID
	for _, fn := range b.listeners {
		go fn(nodeID)
	}
}

// IsAllowed reports whether a request may be sent to the node now.
// It may move Open to HalfOpen or HalfOpen to Closed as faults decay.
func (b *CircuitBreaker) IsAllowed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.banned {
		return false
	}

	switch b.state {
	case Closed:
		return true

	case HalfOpen:
		if total := b.stat.total(b.cfg.Now()); float64(total) < 0.5*float64(b.cfg.Threshold) {
			b.state = Closed
			logger.Info("circuit closed", "node", b.stat.nodeID, "fault_total", total)
		}

		return true

	default:
		if total := b.stat.total(b.cfg.Now()); total < b.cfg.Threshold {
			b.state = HalfOpen
			logger.Info("circuit half-open", "node", b.stat.nodeID, "fault_total", total)
			return true
		}

		return false
	}
}

// SetBanned bans or unbans the node. Banning forces Open and silences
// recovery triggers; unbanning leaves the state to decay normally.
func (b *CircuitBreaker) SetBanned(banned bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if banned {
		b.state = Open
	}
	b.banned = banned
}

// Banned reports whether the node is banned.
func (b *CircuitBreaker) Banned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.banned
}

// State returns the current state without evaluating decay.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// TotalFaultScore returns the decayed fault total at the current time.
func (b *CircuitBreaker) TotalFaultScore() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stat.total(b.cfg.Now())
}

// Reset clears faults and the ban and returns the breaker to Closed.
// Subscriptions are kept.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.banned = false
	b.stat.reset()
}
