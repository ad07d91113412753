package replica

import (
	"errors"
	"testing"
	"time"

	"ReplicaMesh/internal/types"
)

func populatedTree(t *testing.T) *Tree {
	t.Helper()

	tree, root := buildTree(t)
	root.SetAutoDelete(true)

	created := time.UnixMilli(1_700_000_000_000)

	l1, _, _ := tree.Holder("l1")
	l1.SetDescriptor(1, Descriptor{ReplicaID: "r-1", CreatedAt: created, Payload: []byte("payload")})
	l1.SetDescriptor(2, Descriptor{ReplicaID: "r-2", CreatedAt: created})

	if err := tree.ReportUp("l1"); err != nil {
		t.Fatalf("report: %v", err)
	}

	// a remote child that is not part of the local tree
	root.SetChild(ChildDesc{NodeID: "remote", Addr: "10.0.0.9:4000", Available: map[Version]uint64{2: 4}})

	for i := 0; i < 2; i++ {
		if _, err := root.RegisterNewRequest(Request{Type: Update, NodeID: "w", NodeAddr: "w:1"}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	return tree
}

func TestSnapshotRoundTrip(t *testing.T) {
	tree := populatedTree(t)

	restored, err := ImportSnapshot(ExportSnapshot(tree))
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if got, want := restored.IDs(), tree.IDs(); len(got) != len(want) {
		t.Fatalf("ids: got %v, want %v", got, want)
	}

	root, err := restored.Primary()
	if err != nil {
		t.Fatalf("primary: %v", err)
	}

	if root.LatestVersion() != 2 || !root.AutoDelete() {
		t.Errorf("counters: latest %d, auto-delete %v", root.LatestVersion(), root.AutoDelete())
	}

	if got := len(root.PendingRequests()); got != 2 {
		t.Errorf("pending: got %d, want 2", got)
	}

	if got := root.CountVersion(2); got != 5 {
		t.Errorf("count v2: got %d, want 5", got)
	}

	if parent, _ := restored.Parent("l1"); parent != "mid" {
		t.Errorf("l1 parent: got %q, want mid", parent)
	}

	l1, kind, err := restored.Holder("l1")
	if err != nil || kind != KindLeaf {
		t.Fatalf("l1: kind %v err %v", kind, err)
	}

	d, err := l1.Descriptor(1)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}

	if d.ReplicaID != "r-1" || d.CreatedAt.UnixMilli() != 1_700_000_000_000 {
		t.Errorf("descriptor: got %+v", d)
	}

	if d.Payload != nil {
		t.Error("payload must not be part of a snapshot")
	}

	remote, err := root.Child("remote")
	if err != nil {
		t.Fatalf("remote child: %v", err)
	}

	if remote.Addr != "10.0.0.9:4000" || remote.Available[2] != 4 {
		t.Errorf("remote child: got %+v", remote)
	}
}

func TestSnapshotDeterministic(t *testing.T) {
	tree := populatedTree(t)

	a := ExportSnapshot(tree)
	b := ExportSnapshot(tree)

	if string(a) != string(b) {
		t.Fatal("exporting the same tree twice should give identical bytes")
	}
}

func TestSnapshotRejectsTamperedData(t *testing.T) {
	data := ExportSnapshot(populatedTree(t))

	snap := types.GetRootAsTreeSnapshot(data, 0)
	if !snap.MutateLatestVersion(99) {
		t.Fatal("mutate failed")
	}

	if _, err := ImportSnapshot(data); !errors.Is(err, ErrChecksum) {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	if _, err := ImportSnapshot([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for garbage")
	}
}

func TestSnapshotCompression(t *testing.T) {
	data := ExportSnapshot(populatedTree(t))

	compressed, err := CompressSnapshot(data)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	decompressed, err := DecompressSnapshot(compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if string(decompressed) != string(data) {
		t.Fatal("decompressed data differs")
	}

	if _, err := ImportSnapshot(decompressed); err != nil {
		t.Fatalf("import: %v", err)
	}
}
