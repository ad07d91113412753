package replica

import (
	"errors"
	"testing"
)

// buildTree creates root -> mid -> {l1, l2} and root -> l3.
func buildTree(t *testing.T) (*Tree, *PrimaryHolder) {
	t.Helper()

	tree := NewTree()

	root, err := tree.SetPrimary("root")
	if err != nil {
		t.Fatalf("set primary: %v", err)
	}

	if _, err := tree.AddInternal("mid"); err != nil {
		t.Fatalf("add internal: %v", err)
	}

	for _, id := range []string{"l1", "l2", "l3"} {
		if _, err := tree.AddLeaf(id); err != nil {
			t.Fatalf("add leaf %s: %v", id, err)
		}
	}

	links := [][2]string{{"root", "mid"}, {"mid", "l1"}, {"mid", "l2"}, {"root", "l3"}}
	for _, l := range links {
		if err := tree.Link(l[0], l[1], l[1]+":4000"); err != nil {
			t.Fatalf("link %s -> %s: %v", l[0], l[1], err)
		}
	}

	return tree, root
}

func TestTreeReportUpCountsWholeBranch(t *testing.T) {
	tree, root := buildTree(t)

	for _, id := range []string{"l1", "l2", "l3", "mid"} {
		h, _, err := tree.Holder(id)
		if err != nil {
			t.Fatalf("holder %s: %v", id, err)
		}
		h.SetDescriptor(1, Descriptor{ReplicaID: id})
	}
	root.SetDescriptor(1, Descriptor{})

	for _, id := range []string{"l1", "l2", "l3"} {
		if err := tree.ReportUp(id); err != nil {
			t.Fatalf("report up %s: %v", id, err)
		}
	}

	if got := root.CountVersion(1); got != 5 {
		t.Errorf("root count: got %d, want 5", got)
	}

	mid, err := tree.Internal("mid")
	if err != nil {
		t.Fatalf("internal: %v", err)
	}

	if got := mid.CountVersion(1); got != 3 {
		t.Errorf("mid count: got %d, want 3", got)
	}
}

func TestTreeReportIsOneLevel(t *testing.T) {
	tree, root := buildTree(t)

	h, _, _ := tree.Holder("l1")
	h.SetDescriptor(2, Descriptor{})

	if err := tree.Report("l1"); err != nil {
		t.Fatalf("report: %v", err)
	}

	if got := root.CountVersion(2); got != 0 {
		t.Errorf("root should not see l1 before mid reports, got %d", got)
	}

	if err := tree.Report("mid"); err != nil {
		t.Fatalf("report mid: %v", err)
	}

	if got := root.CountVersion(2); got != 1 {
		t.Errorf("root count: got %d, want 1", got)
	}
}

func TestTreeSinglePrimary(t *testing.T) {
	tree, _ := buildTree(t)

	if _, err := tree.SetPrimary("other"); !errors.Is(err, ErrHolderExists) {
		t.Fatalf("got %v, want ErrHolderExists", err)
	}

	if _, err := tree.AddLeaf("l1"); !errors.Is(err, ErrHolderExists) {
		t.Fatalf("got %v, want ErrHolderExists", err)
	}
}

func TestTreeLinkErrors(t *testing.T) {
	tree, _ := buildTree(t)

	if err := tree.Link("l1", "l2", ""); !errors.Is(err, ErrNotInternal) {
		t.Errorf("leaf parent: got %v, want ErrNotInternal", err)
	}

	if err := tree.Link("mid", "root", ""); !errors.Is(err, ErrCycle) {
		t.Errorf("ancestor under descendant: got %v, want ErrCycle", err)
	}

	if err := tree.Link("mid", "mid", ""); !errors.Is(err, ErrCycle) {
		t.Errorf("self link: got %v, want ErrCycle", err)
	}

	if err := tree.Link("ghost", "l1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing parent: got %v, want ErrNotFound", err)
	}
}

func TestTreeRelinkMovesChild(t *testing.T) {
	tree, root := buildTree(t)

	if err := tree.Link("root", "l1", "l1:5000"); err != nil {
		t.Fatalf("relink: %v", err)
	}

	mid, _ := tree.Internal("mid")
	if _, err := mid.Child("l1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old parent still has l1: %v", err)
	}

	c, err := root.Child("l1")
	if err != nil {
		t.Fatalf("new parent: %v", err)
	}

	if c.Addr != "l1:5000" {
		t.Errorf("addr: got %q, want l1:5000", c.Addr)
	}

	if parent, _ := tree.Parent("l1"); parent != "root" {
		t.Errorf("parent: got %q, want root", parent)
	}
}

func TestTreeRelinkSameParentKeepsReport(t *testing.T) {
	tree, _ := buildTree(t)

	l1, _, _ := tree.Holder("l1")
	l1.SetDescriptor(7, Descriptor{Version: 7})

	if err := tree.Report("l1"); err != nil {
		t.Fatalf("report: %v", err)
	}

	if err := tree.Link("mid", "l1", "l1:6000"); err != nil {
		t.Fatalf("relink: %v", err)
	}

	mid, _ := tree.Internal("mid")
	c, err := mid.Child("l1")
	if err != nil {
		t.Fatalf("child: %v", err)
	}

	if c.Addr != "l1:6000" {
		t.Errorf("addr: got %q, want l1:6000", c.Addr)
	}

	if c.Available[7] != 1 {
		t.Errorf("report lost on relink: got %v", c.Available)
	}

	if got := mid.CountVersion(7); got != 1 {
		t.Errorf("CountVersion: got %d, want 1", got)
	}
}

func TestTreeRemove(t *testing.T) {
	tree, root := buildTree(t)

	if err := tree.Remove("mid"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := root.Child("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("root still lists mid: %v", err)
	}

	for _, id := range []string{"l1", "l2"} {
		if parent, _ := tree.Parent(id); parent != "" {
			t.Errorf("%s parent: got %q, want root-less", id, parent)
		}
	}

	if err := tree.Remove("root"); err != nil {
		t.Fatalf("remove root: %v", err)
	}

	if _, err := tree.Primary(); !errors.Is(err, ErrNotFound) {
		t.Errorf("primary: got %v, want ErrNotFound", err)
	}
}

func TestTreeInternalOfLeaf(t *testing.T) {
	tree, _ := buildTree(t)

	if _, err := tree.Internal("l1"); !errors.Is(err, ErrNotInternal) {
		t.Fatalf("got %v, want ErrNotInternal", err)
	}

	if _, err := tree.Internal("root"); err != nil {
		t.Fatalf("primary should act as internal: %v", err)
	}
}
