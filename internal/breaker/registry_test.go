package breaker

import (
	"errors"
	"testing"
	"time"
)

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry(Config{})

	a := r.Add("n1")
	b := r.Add("n1")

	if a != b {
		t.Error("Add should return the existing breaker")
	}
}

func TestRegistryUnknownNode(t *testing.T) {
	r := NewRegistry(Config{})

	if _, err := r.Get("missing"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Get: got %v, want ErrUnknownNode", err)
	}

	if r.IsAllowed("missing") {
		t.Error("unknown node should not be admitted")
	}

	if r.RegisterFault("missing", 10) {
		t.Error("fault on unknown node should report not admitted")
	}

	if err := r.Remove("missing"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Remove: got %v, want ErrUnknownNode", err)
	}

	if err := r.SetBanned("missing", true); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SetBanned: got %v, want ErrUnknownNode", err)
	}
}

func TestRegistryPublishesRecoveries(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(Config{Now: clock.Now})

	called := make(chan string, 1)
	r.OnRecovery(func(nodeID string) {
		called <- nodeID
	})

	r.Add("n1")
	r.Add("n2")

	if r.RegisterFault("n2", DefaultThreshold) {
		t.Fatal("threshold fault should deny")
	}

	select {
	case id := <-r.Recoveries():
		if id != "n2" {
			t.Errorf("channel trigger: got %q, want n2", id)
		}
	case <-time.After(time.Second):
		t.Fatal("no trigger on channel")
	}

	select {
	case id := <-called:
		if id != "n2" {
			t.Errorf("callback trigger: got %q, want n2", id)
		}
	case <-time.After(time.Second):
		t.Fatal("no callback trigger")
	}

	if r.IsAllowed("n2") {
		t.Error("n2 should be denied")
	}

	if !r.IsAllowed("n1") {
		t.Error("n1 should be admitted")
	}
}

func TestRegistryStatesSorted(t *testing.T) {
	r := NewRegistry(Config{})

	r.Add("c")
	r.Add("a")
	r.Add("b")

	if err := r.SetBanned("b", true); err != nil {
		t.Fatalf("SetBanned: %v", err)
	}

	states := r.States()
	if len(states) != 3 {
		t.Fatalf("states: got %d, want 3", len(states))
	}

	for i, want := range []string{"a", "b", "c"} {
		if states[i].NodeID != want {
			t.Errorf("states[%d]: got %q, want %q", i, states[i].NodeID, want)
		}
	}

	if !states[1].Banned || states[1].State != "open" {
		t.Errorf("banned node status: %+v", states[1])
	}
}
