package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ReplicaMesh/internal/replica"
)

// newTestLedger creates a temporary ledger for testing.
func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()

	dir := t.TempDir()

	l, err := Open(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}

	t.Cleanup(func() { l.Close() })

	return l, dir
}

func TestDescriptorVersions(t *testing.T) {
	l, _ := newTestLedger(t)

	created := time.UnixMilli(1_700_000_000_000)

	for _, v := range []replica.Version{3, 1, 256} {
		d := replica.Descriptor{Version: v, ReplicaID: "r", CreatedAt: created, Payload: []byte("ignored")}
		if err := l.SaveDescriptorVersion("leaf-a", d); err != nil {
			t.Fatalf("save %d: %v", v, err)
		}
	}

	// another holder sharing a prefix must not leak in
	if err := l.SaveDescriptorVersion("leaf-ab", replica.Descriptor{Version: 9}); err != nil {
		t.Fatalf("save other: %v", err)
	}

	got, err := l.LoadVersions("leaf-a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := []replica.Version{1, 3, 256}
	if len(got) != len(want) {
		t.Fatalf("got %d descriptors, want %d", len(got), len(want))
	}

	for i, d := range got {
		if d.Version != want[i] {
			t.Errorf("descriptor %d: got version %d, want %d", i, d.Version, want[i])
		}

		if d.Payload != nil {
			t.Errorf("descriptor %d: payload should not be stored", i)
		}

		if !d.CreatedAt.Equal(created) {
			t.Errorf("descriptor %d: got created %v, want %v", i, d.CreatedAt, created)
		}
	}

	if err := l.DeleteDescriptorVersion("leaf-a", 3); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err = l.LoadVersions("leaf-a")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}

	if len(got) != 2 {
		t.Errorf("after delete: got %d descriptors, want 2", len(got))
	}
}

func TestChildReports(t *testing.T) {
	l, _ := newTestLedger(t)

	c := replica.ChildDesc{NodeID: "child-1", Addr: "10.0.0.2:4000", Available: map[replica.Version]uint64{1: 2, 7: 1}}
	if err := l.SaveChildReport("mid", c); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := l.SaveChildReport("mid", replica.ChildDesc{NodeID: "child-0"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := l.LoadChildReports("mid")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got) != 2 || got[0].NodeID != "child-0" || got[1].NodeID != "child-1" {
		t.Fatalf("got %+v", got)
	}

	if got[1].Addr != c.Addr || got[1].Available[1] != 2 || got[1].Available[7] != 1 {
		t.Errorf("child-1: got %+v", got[1])
	}

	if err := l.DeleteChildReport("mid", "child-0"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, _ = l.LoadChildReports("mid")
	if len(got) != 1 {
		t.Errorf("after delete: got %d children, want 1", len(got))
	}
}

func TestPrimaryCounters(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, _, ok, err := l.LoadPrimaryCounters(); err != nil || ok {
		t.Fatalf("empty ledger: ok %v err %v", ok, err)
	}

	if err := l.SavePrimaryCounters(12, 4); err != nil {
		t.Fatalf("save: %v", err)
	}

	latest, deleted, ok, err := l.LoadPrimaryCounters()
	if err != nil || !ok {
		t.Fatalf("load: ok %v err %v", ok, err)
	}

	if latest != 12 || deleted != 4 {
		t.Errorf("got (%d, %d), want (12, 4)", latest, deleted)
	}
}

func TestSnapshotBlob(t *testing.T) {
	l, _ := newTestLedger(t)

	if data, err := l.LoadSnapshot(); err != nil || data != nil {
		t.Fatalf("empty ledger: data %v err %v", data, err)
	}

	tree := replica.NewTree()
	if _, err := tree.SetPrimary("root"); err != nil {
		t.Fatalf("primary: %v", err)
	}

	snap := replica.ExportSnapshot(tree)
	if err := l.SaveSnapshot(snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := l.LoadSnapshot()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if string(got) != string(snap) {
		t.Fatal("snapshot differs after round trip")
	}
}

func TestInvalidIDs(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.SaveDescriptorVersion("", replica.Descriptor{Version: 1}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("empty id: got %v, want ErrInvalidID", err)
	}

	if err := l.SaveChildReport("mid", replica.ChildDesc{NodeID: "a\x00b"}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("NUL id: got %v, want ErrInvalidID", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := l.SaveDescriptorVersion("leaf", replica.Descriptor{Version: 5}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	got, err := l.LoadVersions("leaf")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got) != 1 || got[0].Version != 5 {
		t.Errorf("got %+v, want version 5", got)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("db dir: %v", err)
	}
}

func TestPrefixUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("d:"), []byte("d;")},
		{[]byte{'a', 0xff}, []byte{'b'}},
		{[]byte{0xff, 0xff}, nil},
	}

	for _, tt := range tests {
		got := prefixUpperBound(tt.prefix)
		if string(got) != string(tt.want) {
			t.Errorf("prefixUpperBound(%q): got %q, want %q", tt.prefix, got, tt.want)
		}
	}
}
