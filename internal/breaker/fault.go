package breaker

import (
	"math"
	"math/bits"
	"time"
)

const (
	// DefaultThreshold is the decayed fault total that opens a breaker.
	DefaultThreshold = 1_000_000

	// DefaultForgetWindow is how long a fault keeps contributing to the total.
	DefaultForgetWindow = 1_000_000 * time.Millisecond

	// MaxScore bounds a single fault's score. Larger scores are clamped.
	MaxScore = 1 << 53
)

// Fault is a single failure observed against a node.
type Fault struct {
	At    time.Time // At is when the fault happened
	Score uint64    // Score is the undecayed weight of the fault
}

// impact returns the fault's contribution at now.
// The contribution falls linearly from Score to 0 over window.
// Negative elapsed time (clock skew) counts as zero.
func (f Fault) impact(now time.Time, window time.Duration) uint64 {
	elapsed := now.Sub(f.At)
	if elapsed < 0 {
		elapsed = 0
	}

	if elapsed >= window || window <= 0 {
		return 0
	}

	remaining := float64(window-elapsed) / float64(window)

	return uint64(remaining * float64(ClampScore(f.Score)))
}

// Statistic holds the faults recorded against one node.
// Not safe for concurrent use; the owning CircuitBreaker serializes access.
type Statistic struct {
	nodeID string
	faults []Fault
	window time.Duration
}

// newStatistic creates an empty statistic for nodeID.
func newStatistic(nodeID string, window time.Duration) *Statistic {
	return &Statistic{nodeID: nodeID, window: window}
}

// add appends a fault.
func (s *Statistic) add(f Fault) {
	s.faults = append(s.faults, f)
}

// total returns the decayed fault total at now and drops faults
// that no longer contribute.
func (s *Statistic) total(now time.Time) uint64 {
	var sum uint64

	kept := s.faults[:0]
	for _, f := range s.faults {
		impact := f.impact(now, s.window)
		if impact == 0 {
			continue
		}

		sum = addSaturating(sum, impact)
		kept = append(kept, f)
	}

	// Zero the dropped tail so the backing array does not pin old entries.
	for i := len(kept); i < len(s.faults); i++ {
		s.faults[i] = Fault{}
	}
	s.faults = kept

	return sum
}

// len returns the number of faults currently retained.
func (s *Statistic) len() int {
	return len(s.faults)
}

// reset drops all faults.
func (s *Statistic) reset() {
	s.faults = nil
}

// ClampScore bounds score to MaxScore.
func ClampScore(score uint64) uint64 {
	return min(score, MaxScore)
}

// addSaturating returns a+b, stopping at math.MaxUint64.
func addSaturating(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return sum
}
