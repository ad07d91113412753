package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ReplicaMesh/internal/api"
	"ReplicaMesh/internal/replica"
)

// newTestNode serves the API of a primary named root.
func newTestNode(t *testing.T) (*Client, *replica.Tree) {
	t.Helper()

	tree := replica.NewTree()

	primary, err := tree.SetPrimary("root")
	if err != nil {
		t.Fatalf("set primary: %v", err)
	}

	srv := httptest.NewServer(api.New(":0", api.Backends{Queue: primary, Holders: tree}).Handler())
	t.Cleanup(srv.Close)

	return New(strings.TrimPrefix(srv.URL, "http://")), tree
}

func TestHealth(t *testing.T) {
	c, _ := newTestNode(t)

	if err := c.Health(); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestUpdateThenStatus(t *testing.T) {
	c, _ := newTestNode(t)

	for i := 1; i <= 3; i++ {
		req, err := c.Update("leaf-1", "10.0.0.1:4000")
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}

		if req.Version != uint64(i) {
			t.Errorf("update %d: got version %d", i, req.Version)
		}
	}

	read, err := c.Read("leaf-2", "")
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if read.Version != 3 {
		t.Errorf("read stamped %d, want 3", read.Version)
	}

	status, err := c.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	if status.Latest != 3 || len(status.Pending) != 4 {
		t.Errorf("status: got %+v", status)
	}

	if status.Pending[3].Type != "read" {
		t.Errorf("last pending: got %+v", status.Pending[3])
	}
}

func TestDeleteUnknownVersion(t *testing.T) {
	c, _ := newTestNode(t)

	_, err := c.Delete("leaf-1", 8)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want StatusError", err)
	}

	if se.Code != http.StatusUnprocessableEntity || se.Message == "" {
		t.Errorf("status error: got %+v", se)
	}
}

func TestHolder(t *testing.T) {
	c, tree := newTestNode(t)

	in, err := tree.Internal("root")
	if err != nil {
		t.Fatalf("internal: %v", err)
	}
	in.SetChild(replica.ChildDesc{NodeID: "leaf-1", Available: map[replica.Version]uint64{5: 2}})

	info, err := c.Holder("root")
	if err != nil {
		t.Fatalf("holder: %v", err)
	}

	if info.Kind != "primary" || info.Count(5) != 2 {
		t.Errorf("holder: got %+v", info)
	}

	if _, err := c.Holder("nobody"); err == nil {
		t.Error("expected error for unknown holder")
	}
}

func TestUnavailableEndpoints(t *testing.T) {
	c, _ := newTestNode(t)

	var se *StatusError

	if _, err := c.Nodes(2); !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("nodes: got %v", err)
	}

	if _, err := c.Breakers(); !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("breakers: got %v", err)
	}
}

func TestUnreachableNode(t *testing.T) {
	c := New("127.0.0.1:1")

	if err := c.Health(); err == nil {
		t.Error("expected error for unreachable node")
	}
}
