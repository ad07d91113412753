package balancer

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultStateSize is the length of the predictor state vector.
	DefaultStateSize = 5

	// WindowSize is the number of measurements a predictor retains.
	WindowSize = 10
)

// ErrAggregation is returned when a measurement window cannot be folded into a state.
var ErrAggregation = errors.New("aggregation failed")

// Measurement is one timestamped sample vector reported for a node.
type Measurement struct {
	At     time.Time
	Values []float64
}

// Aggregator folds a measurement window into a state vector of the given size.
// Implementations must be deterministic pure functions of their input.
type Aggregator interface {
	Aggregate(window []Measurement, size int) ([]float64, error)
}

// MeanAggregator sets each state component to the mean of that
// component across the window. Short vectors contribute zero.
type MeanAggregator struct{}

// Aggregate implements Aggregator.
func (MeanAggregator) Aggregate(window []Measurement, size int) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("%w: empty window", ErrAggregation)
	}

	state := make([]float64, size)

	for _, m := range window {
		for i := 0; i < size && i < len(m.Values); i++ {
			v := m.Values[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite value at component %d", ErrAggregation, i)
			}

			state[i] += v
		}
	}

	n := float64(len(window))
	for i := range state {
		state[i] /= n
	}

	return state, nil
}

// Predictor turns a sliding window of measurements into a performance score.
// Not safe for concurrent use; NodeDescriptor serializes access.
type Predictor struct {
	state        []float64
	coefficients []float64
	window       []Measurement
	aggregator   Aggregator
	now          func() time.Time
}

// NewPredictor creates a predictor whose state has len(coefficients) components.
// A nil aggregator selects MeanAggregator.
func NewPredictor(coefficients []float64, aggregator Aggregator) *Predictor {
	if aggregator == nil {
		aggregator = MeanAggregator{}
	}

	if len(coefficients) == 0 {
		coefficients = make([]float64, DefaultStateSize)
	}

	return &Predictor{
		state:        make([]float64, len(coefficients)),
		coefficients: append([]float64(nil), coefficients...),
		window:       make([]Measurement, 0, WindowSize),
		aggregator:   aggregator,
		now:          time.Now,
	}
}

// UpdateState appends a measurement, evicting the oldest when the window is
// full, and recomputes the state. On failure the window and state are left
// as they were before the call.
func (p *Predictor) UpdateState(values []float64) error {
	prev := p.Window()

	if len(p.window) >= WindowSize {
		copy(p.window, p.window[1:])
		p.window[len(p.window)-1] = Measurement{}
		p.window = p.window[:len(p.window)-1]
	}

	p.window = append(p.window, Measurement{
		At:     p.now(),
		Values: append([]float64(nil), values...),
	})

	state, err := p.aggregator.Aggregate(p.window, len(p.state))
	if err == nil && len(state) != len(p.state) {
		err = fmt.Errorf("%w: state size %d, want %d", ErrAggregation, len(state), len(p.state))
	}

	if err != nil {
		p.window = append(p.window[:0], prev...)
		return err
	}

	p.state = state

	return nil
}

// Score returns the dot product of the state and the coefficients.
func (p *Predictor) Score() float64 {
	var score float64

	for i := 0; i < len(p.state) && i < len(p.coefficients); i++ {
		score += p.state[i] * p.coefficients[i]
	}

	return score
}

// SetState overwrites the state vector.
func (p *Predictor) SetState(state []float64) {
	p.state = append([]float64(nil), state...)
}

// State returns a copy of the state vector.
func (p *Predictor) State() []float64 {
	return append([]float64(nil), p.state...)
}

// SetCoefficients overwrites the state-to-score coefficients.
func (p *Predictor) SetCoefficients(coefficients []float64) {
	p.coefficients = append([]float64(nil), coefficients...)
}

// Coefficients returns a copy of the coefficients.
func (p *Predictor) Coefficients() []float64 {
	return append([]float64(nil), p.coefficients...)
}

// Window returns a copy of the retained measurements, oldest first.
func (p *Predictor) Window() []Measurement {
	out := make([]Measurement, len(p.window))
	copy(out, p.window)

	return out
}

// Reset zeroes the state and drops all measurements. Coefficients are kept.
func (p *Predictor) Reset() {
	p.state = make([]float64, len(p.state))
	clear(p.window)
	p.window = p.window[:0]
}
