package router

import (
	"errors"
	"testing"
	"time"

	"ReplicaMesh/internal/balancer"
	"ReplicaMesh/internal/breaker"
)

const testThreshold = 1000

// newTestRouter registers nodes with scores A:5, B:9, C:1.
func newTestRouter(t *testing.T) (*Router, *time.Time) {
	t.Helper()

	now := time.Unix(1_000_000, 0)
	cfg := breaker.Config{
		Threshold:    testThreshold,
		ForgetWindow: time.Second,
		Now:          func() time.Time { return now },
	}

	r := New(Config{Coefficients: []float64{1, 0, 0, 0, 0}}, balancer.NewLoadBalancer(), breaker.NewRegistry(cfg))

	scores := []struct {
		id    string
		score float64
	}{{"A", 5}, {"B", 9}, {"C", 1}}

	for _, s := range scores {
		r.Register(s.id, s.id+":4000")

		got, err := r.ReportMeasurement(s.id, []float64{s.score, 0, 0, 0, 0})
		if err != nil {
			t.Fatalf("measure %s: %v", s.id, err)
		}

		if got != s.score {
			t.Fatalf("score %s: got %v, want %v", s.id, got, s.score)
		}
	}

	return r, &now
}

func ids(scores []balancer.NodeScore) []string {
	out := make([]string, len(scores))
	for i, s := range scores {
		out[i] = s.NodeID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectByScore(t *testing.T) {
	r, _ := newTestRouter(t)

	got, err := r.Select(2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if want := []string{"B", "A"}; !equalIDs(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}

	got, err = r.Select(10)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if want := []string{"B", "A", "C"}; !equalIDs(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}

	got, err = r.Select(0)
	if err != nil || len(got) != 0 {
		t.Errorf("k=0: got %v, %v", got, err)
	}
}

func TestSelectSkipsOpenBreaker(t *testing.T) {
	r, _ := newTestRouter(t)

	ok, err := r.ReportFault("B", testThreshold)
	if err != nil {
		t.Fatalf("fault: %v", err)
	}

	if ok {
		t.Fatal("fault at threshold should open the breaker")
	}

	got, err := r.Select(2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if want := []string{"A", "C"}; !equalIDs(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestSelectReadmitsAfterDecay(t *testing.T) {
	r, now := newTestRouter(t)

	if _, err := r.ReportFault("B", testThreshold); err != nil {
		t.Fatalf("fault: %v", err)
	}

	*now = now.Add(2 * time.Second)

	got, err := r.Select(1)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	if want := []string{"B"}; !equalIDs(ids(got), want) {
		t.Errorf("got %v, want %v", ids(got), want)
	}
}

func TestSelectNoneAdmitted(t *testing.T) {
	r, _ := newTestRouter(t)

	for _, id := range []string{"A", "B", "C"} {
		if _, err := r.ReportFault(id, testThreshold); err != nil {
			t.Fatalf("fault %s: %v", id, err)
		}
	}

	if _, err := r.Select(1); !errors.Is(err, ErrNoAdmittedNode) {
		t.Fatalf("got %v, want ErrNoAdmittedNode", err)
	}

	if _, err := r.PlaceObject([]byte("obj"), 2); !errors.Is(err, ErrNoAdmittedNode) {
		t.Fatalf("place: got %v, want ErrNoAdmittedNode", err)
	}
}

func TestSelectEmptyRegistry(t *testing.T) {
	r := New(Config{}, balancer.NewLoadBalancer(), breaker.NewRegistry(breaker.Config{}))

	if _, err := r.Select(1); !errors.Is(err, balancer.ErrEmptyRegistry) {
		t.Fatalf("got %v, want ErrEmptyRegistry", err)
	}
}

func TestSelectNeverReturnsDenied(t *testing.T) {
	r, _ := newTestRouter(t)

	if err := r.Breakers().SetBanned("A", true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	for k := 1; k <= 3; k++ {
		got, err := r.Select(k)
		if err != nil {
			t.Fatalf("select %d: %v", k, err)
		}

		for _, ns := range got {
			if ns.NodeID == "A" {
				t.Fatalf("k=%d: banned node selected", k)
			}
		}
	}
}

func TestRegisterTwiceUpdatesAddr(t *testing.T) {
	r, _ := newTestRouter(t)

	r.Register("A", "10.0.0.1:5000")

	addr, err := r.Addr("A")
	if err != nil {
		t.Fatalf("addr: %v", err)
	}

	if addr != "10.0.0.1:5000" {
		t.Errorf("addr: got %q", addr)
	}

	if r.Balancer().Len() != 3 {
		t.Errorf("len: got %d, want 3", r.Balancer().Len())
	}

	// the score must survive re-registration
	best, _ := r.Select(1)
	if best[0].NodeID != "B" {
		t.Errorf("best: got %s, want B", best[0].NodeID)
	}
}

func TestUnregister(t *testing.T) {
	r, _ := newTestRouter(t)

	if err := r.Unregister("B"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	if r.Breakers().IsAllowed("B") {
		t.Error("unregistered node should not be admitted")
	}

	if err := r.Unregister("B"); !errors.Is(err, balancer.ErrUnknownNode) {
		t.Errorf("second unregister: got %v, want ErrUnknownNode", err)
	}

	if _, err := r.ReportFault("B", 1); !errors.Is(err, breaker.ErrUnknownNode) {
		t.Errorf("fault: got %v, want ErrUnknownNode", err)
	}
}

func TestReportMeasurementRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	if _, err := r.ReportMeasurement("ghost", []float64{1}); !errors.Is(err, balancer.ErrUnknownNode) {
		t.Fatalf("got %v, want ErrUnknownNode", err)
	}
}

func TestPlaceObjectExcludesDenied(t *testing.T) {
	r, _ := newTestRouter(t)

	all, err := r.PlaceObject([]byte("object-1"), 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if len(all) != 3 {
		t.Fatalf("got %d holders, want 3", len(all))
	}

	if _, err := r.ReportFault(all[0], testThreshold); err != nil {
		t.Fatalf("fault: %v", err)
	}

	rest, err := r.PlaceObject([]byte("object-1"), 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	if want := all[1:]; !equalIDs(rest, want) {
		t.Errorf("got %v, want %v", rest, want)
	}
}

func TestApplyFaultKeepsTimestamp(t *testing.T) {
	r, now := newTestRouter(t)

	stale := breaker.Fault{At: now.Add(-2 * time.Second), Score: testThreshold}
	if ok, err := r.ApplyFault("A", stale); err != nil || !ok {
		t.Fatalf("stale fault: ok=%v err=%v", ok, err)
	}

	if !r.Breakers().IsAllowed("A") {
		t.Fatal("a fault older than the window should not open the breaker")
	}

	fresh := breaker.Fault{At: *now, Score: testThreshold}
	if ok, _ := r.ApplyFault("A", fresh); ok {
		t.Error("fresh fault at threshold should open the breaker")
	}

	if _, err := r.ApplyFault("ghost", fresh); !errors.Is(err, breaker.ErrUnknownNode) {
		t.Errorf("got %v, want breaker.ErrUnknownNode", err)
	}
}
