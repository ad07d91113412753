package integration

import (
	"testing"
	"time"
)

// TestTreeReplication runs root -> mid -> {leaf-a, leaf-b}, submits through
// a leaf and checks versions reach a holder and roll up to the primary.
func TestTreeReplication(t *testing.T) {
	c := NewCluster(t, 18100, 19100)

	root := c.Start("root", "primary", nil, "-replication", "1")
	mid := c.Start("mid", "internal", root)
	leafA := c.Start("leaf-a", "leaf", mid)
	c.Start("leaf-b", "leaf", mid)

	// mid is the primary's only peer, so it receives every update
	for i := uint64(1); i <= 3; i++ {
		req, err := leafA.Client().Update("leaf-a", "")
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}

		if req.Version != i {
			t.Fatalf("update %d stamped %d", i, req.Version)
		}
	}

	for v := uint64(1); v <= 3; v++ {
		WaitForCount(t, mid, "mid", v, 1, 10*time.Second)
		WaitForCount(t, root, "root", v, 1, 10*time.Second)
	}

	status, err := root.Client().Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.Latest != 3 {
		t.Errorf("latest: got %d, want 3", status.Latest)
	}

	if _, err := leafA.Client().Delete("leaf-a", 2); err != nil {
		t.Fatalf("delete: %v", err)
	}

	WaitForCount(t, mid, "mid", 2, 0, 10*time.Second)
	WaitForCount(t, root, "root", 2, 0, 10*time.Second)
}

// TestPrimaryRestartKeepsCounters stops the primary and checks the next
// update continues from the persisted version.
func TestPrimaryRestartKeepsCounters(t *testing.T) {
	c := NewCluster(t, 18200, 19200)

	root := c.Start("root", "primary", nil)

	for i := 0; i < 2; i++ {
		if _, err := root.Client().Update("client", ""); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	root.Stop()

	again := c.Start("root", "primary", nil)

	req, err := again.Client().Update("client", "")
	if err != nil {
		t.Fatalf("update after restart: %v", err)
	}

	if req.Version != 3 {
		t.Errorf("version after restart: got %d, want 3", req.Version)
	}
}
