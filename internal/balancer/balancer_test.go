package balancer

import (
	"errors"
	"math"
	"testing"
)

// fixedDescriptor returns a descriptor whose score is exactly score.
func fixedDescriptor(addr string, score float64) *NodeDescriptor {
	p := NewPredictor([]float64{1}, nil)
	p.SetState([]float64{score})

	return NewNodeDescriptor(addr, p)
}

// failingAggregator always rejects the window.
type failingAggregator struct{}

func (failingAggregator) Aggregate([]Measurement, int) ([]float64, error) {
	return nil, ErrAggregation
}

func TestPredictorWindowEvictsOldest(t *testing.T) {
	p := NewPredictor([]float64{1, 0, 0, 0, 0}, nil)

	for i := 1; i <= WindowSize+1; i++ {
		if err := p.UpdateState([]float64{float64(i)}); err != nil {
			t.Fatalf("UpdateState(%d): %v", i, err)
		}
	}

	window := p.Window()
	if len(window) != WindowSize {
		t.Fatalf("window size: got %d, want %d", len(window), WindowSize)
	}

	if window[0].Values[0] != 2 {
		t.Errorf("oldest retained: got %v, want 2", window[0].Values[0])
	}

	if window[WindowSize-1].Values[0] != 11 {
		t.Errorf("newest retained: got %v, want 11", window[WindowSize-1].Values[0])
	}

	// Mean of 2..11.
	if got := p.Score(); got != 6.5 {
		t.Errorf("score: got %v, want 6.5", got)
	}
}

func TestPredictorScoreIsPure(t *testing.T) {
	p := NewPredictor([]float64{0.5, 2, -1, 0, 1}, nil)

	if err := p.UpdateState([]float64{4, 1, 3, 9, 2}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	first := p.Score()
	second := p.Score()

	if first != second {
		t.Errorf("score changed between calls: %v then %v", first, second)
	}

	// 0.5*4 + 2*1 - 1*3 + 0*9 + 1*2
	if first != 3 {
		t.Errorf("score: got %v, want 3", first)
	}
}

func TestPredictorMeanAcrossWindow(t *testing.T) {
	p := NewPredictor([]float64{1, 1}, nil)

	p.UpdateState([]float64{2, 10})
	p.UpdateState([]float64{4})

	state := p.State()
	if state[0] != 3 || state[1] != 5 {
		t.Errorf("state: got %v, want [3 5]", state)
	}
}

func TestPredictorFailureKeepsPreviousState(t *testing.T) {
	p := NewPredictor([]float64{1}, nil)

	if err := p.UpdateState([]float64{8}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	err := p.UpdateState([]float64{math.NaN()})
	if !errors.Is(err, ErrAggregation) {
		t.Fatalf("UpdateState(NaN): got %v, want ErrAggregation", err)
	}

	if p.Score() != 8 {
		t.Errorf("score after failure: got %v, want 8", p.Score())
	}

	if len(p.Window()) != 1 {
		t.Errorf("window after failure: got %d entries, want 1", len(p.Window()))
	}

	if err := p.UpdateState([]float64{4}); err != nil {
		t.Fatalf("UpdateState after failure: %v", err)
	}

	if p.Score() != 6 {
		t.Errorf("score: got %v, want 6", p.Score())
	}
}

func TestPredictorReset(t *testing.T) {
	p := NewPredictor([]float64{1, 2}, nil)
	p.UpdateState([]float64{1, 1})

	p.Reset()

	if p.Score() != 0 || len(p.Window()) != 0 {
		t.Errorf("reset predictor: score %v, window %d", p.Score(), len(p.Window()))
	}

	if c := p.Coefficients(); len(c) != 2 || c[1] != 2 {
		t.Errorf("coefficients should survive reset: %v", c)
	}
}

func TestNewPredictorDefaultStateSize(t *testing.T) {
	p := NewPredictor(nil, nil)

	if len(p.State()) != DefaultStateSize {
		t.Errorf("state size: got %d, want %d", len(p.State()), DefaultStateSize)
	}
}

func TestUpdatePerformanceScoreDefaultOnFailure(t *testing.T) {
	d := NewNodeDescriptor("10.0.0.1:9000", NewPredictor([]float64{1}, failingAggregator{}))

	if got := d.UpdatePerformanceScore([]float64{5}, -1); got != -1 {
		t.Errorf("got %v, want default -1", got)
	}

	ok := NewNodeDescriptor("10.0.0.2:9000", NewPredictor([]float64{2}, nil))
	if got := ok.UpdatePerformanceScore([]float64{5}, -1); got != 10 {
		t.Errorf("got %v, want 10", got)
	}
}

func TestBestNodesOrdersByScore(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Add("A", fixedDescriptor("a", 5))
	lb.Add("B", fixedDescriptor("b", 9))
	lb.Add("C", fixedDescriptor("c", 1))

	best, err := lb.BestNodes(2)
	if err != nil {
		t.Fatalf("BestNodes: %v", err)
	}

	if len(best) != 2 || best[0].NodeID != "B" || best[1].NodeID != "A" {
		t.Errorf("BestNodes(2): got %+v, want [B A]", best)
	}
}

func TestBestNodesClampsAndBreaksTiesByRegistration(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Add("x", fixedDescriptor("x", 3))
	lb.Add("y", fixedDescriptor("y", 3))
	lb.Add("z", fixedDescriptor("z", 7))

	best, err := lb.BestNodes(10)
	if err != nil {
		t.Fatalf("BestNodes: %v", err)
	}

	want := []string{"z", "x", "y"}
	if len(best) != len(want) {
		t.Fatalf("BestNodes(10): got %d nodes, want %d", len(best), len(want))
	}

	for i, id := range want {
		if best[i].NodeID != id {
			t.Errorf("best[%d]: got %q, want %q", i, best[i].NodeID, id)
		}
	}

	empty, err := lb.BestNodes(0)
	if err != nil || len(empty) != 0 {
		t.Errorf("BestNodes(0): got %v, %v", empty, err)
	}
}

func TestBestNodesEmptyRegistry(t *testing.T) {
	lb := NewLoadBalancer()

	if _, err := lb.BestNodes(1); !errors.Is(err, ErrEmptyRegistry) {
		t.Errorf("got %v, want ErrEmptyRegistry", err)
	}
}

func TestUpdateNode(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Add("n1", NewNodeDescriptor("addr", NewPredictor([]float64{1}, nil)))

	if _, err := lb.UpdateNode("missing", []float64{1}); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("UpdateNode(missing): got %v, want ErrUnknownNode", err)
	}

	score, err := lb.UpdateNode("n1", []float64{4})
	if err != nil {
		t.Fatalf("UpdateNode: %v", err)
	}

	if score != 4 {
		t.Errorf("score: got %v, want 4", score)
	}
}

func TestLoadBalancerLifecycle(t *testing.T) {
	lb := NewLoadBalancer()
	lb.Add("a", fixedDescriptor("a1", 1))
	lb.Add("b", fixedDescriptor("b1", 2))
	lb.Add("a", fixedDescriptor("a2", 3))

	if ids := lb.NodeIDs(); len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("NodeIDs: got %v, want [a b]", ids)
	}

	d, err := lb.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if d.Addr() != "a2" {
		t.Errorf("re-added descriptor: got addr %q, want a2", d.Addr())
	}

	if err := lb.Delete("a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if err := lb.Delete("a"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("second Delete: got %v, want ErrUnknownNode", err)
	}

	if _, err := lb.Get("a"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Get after Delete: got %v, want ErrUnknownNode", err)
	}

	lb.Reset()

	if lb.Len() != 0 {
		t.Errorf("Len after Reset: got %d, want 0", lb.Len())
	}
}
