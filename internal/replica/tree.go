package replica

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrHolderExists is returned when adding a holder id twice.
	ErrHolderExists = errors.New("holder already exists")

	// ErrNotInternal is returned when linking under a holder that cannot have children.
	ErrNotInternal = errors.New("holder cannot have children")

	// ErrCycle is returned when a link would make a holder its own ancestor.
	ErrCycle = errors.New("link would create a cycle")
)

// Kind identifies the role of a holder in the tree.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindInternal
	KindPrimary
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	case KindPrimary:
		return "primary"
	default:
		return "unknown"
	}
}

// Holder is the capability every tree member shares.
type Holder interface {
	NodeID() string
	SetDescriptor(v Version, d Descriptor)
	Descriptor(v Version) (Descriptor, error)
	DeleteDescriptor(v Version) error
	ContainsVersion(v Version) bool
	Versions() []Version
	Availability() map[Version]uint64
}

// aggregator is implemented by holders that track children.
type aggregator interface {
	Holder
	SetChild(desc ChildDesc)
	Child(id string) (ChildDesc, error)
	DeleteChild(id string) error
	ChildIDs() []string
	ReportChildVersions(id string, available map[Version]uint64) error
}

// treeEntry is one arena slot.
type treeEntry struct {
	kind   Kind
	holder Holder
	parent string // parent is the id of the parent holder, empty at the root
}

// Tree is an arena of holders keyed by node id. Parent and child relations
// are stored as ids, never as references between holders.
// Thread-safe: guarded by mu.
type Tree struct {
	entries map[string]*treeEntry
	primary string
	mu      sync.RWMutex
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{entries: make(map[string]*treeEntry)}
}

// AddLeaf adds a leaf holder.
func (t *Tree) AddLeaf(id string) (*VersionStore, error) {
	s := NewVersionStore(id)
	if err := t.add(id, KindLeaf, s); err != nil {
		return nil, err
	}

	return s, nil
}

// AddInternal adds an internal holder.
func (t *Tree) AddInternal(id string) (*InternalHolder, error) {
	h := NewInternalHolder(id)
	if err := t.add(id, KindInternal, h); err != nil {
		return nil, err
	}

	return h, nil
}

// SetPrimary adds the primary holder. A tree has at most one.
func (t *Tree) SetPrimary(id string) (*PrimaryHolder, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.primary != "" {
		return nil, fmt.Errorf("%w: primary is %s", ErrHolderExists, t.primary)
	}

	if _, ok := t.entries[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrHolderExists, id)
	}

	p := NewPrimaryHolder(id)
	t.entries[id] = &treeEntry{kind: KindPrimary, holder: p}
	t.primary = id

	return p, nil
}

func (t *Tree) add(id string, kind Kind, h Holder) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; ok {
		return fmt.Errorf("%w: %s", ErrHolderExists, id)
	}

	t.entries[id] = &treeEntry{kind: kind, holder: h}

	return nil
}

// Holder returns the holder for id and its kind.
func (t *Tree) Holder(id string) (Holder, Kind, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, 0, ErrNotFound
	}

	return e.holder, e.kind, nil
}

// Internal returns the holder for id when it can have children.
// The primary qualifies through its embedded InternalHolder.
func (t *Tree) Internal(id string) (*InternalHolder, error) {
	h, _, err := t.Holder(id)
	if err != nil {
		return nil, err
	}

	switch v := h.(type) {
	case *InternalHolder:
		return v, nil
	case *PrimaryHolder:
		return v.InternalHolder, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotInternal, id)
	}
}

// Primary returns the primary holder.
func (t *Tree) Primary() (*PrimaryHolder, error) {
	t.mu.RLock()
	id := t.primary
	t.mu.RUnlock()

	if id == "" {
		return nil, ErrNotFound
	}

	h, _, err := t.Holder(id)
	if err != nil {
		return nil, err
	}

	return h.(*PrimaryHolder), nil
}

// Parent returns the parent id of id, empty for roots.
func (t *Tree) Parent(id string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return "", ErrNotFound
	}

	return e.parent, nil
}

// setParent records parent as id's parent without touching the parent's
// children. Used when children were restored separately.
func (t *Tree) setParent(id, parent string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}

	if _, ok := t.entries[parent]; !ok {
		return fmt.Errorf("parent %s: %w", parent, ErrNotFound)
	}

	e.parent = parent

	return nil
}

// IDs returns every holder id, sorted.
func (t *Tree) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Link makes childID a direct child of parentID reachable at addr.
// A child new to parentID starts with an empty report; relinking under the
// same parent only updates the address.
func (t *Tree) Link(parentID, childID, addr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.entries[parentID]
	if !ok {
		return fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}

	child, ok := t.entries[childID]
	if !ok {
		return fmt.Errorf("child %s: %w", childID, ErrNotFound)
	}

	agg, ok := parent.holder.(aggregator)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInternal, parentID)
	}

	for id := parentID; id != ""; id = t.entries[id].parent {
		if id == childID {
			return fmt.Errorf("%w: %s under %s", ErrCycle, childID, parentID)
		}
	}

	if child.parent != "" && child.parent != parentID {
		if prev, ok := t.entries[child.parent].holder.(aggregator); ok {
			_ = prev.DeleteChild(childID)
		}
	}

	desc := ChildDesc{NodeID: childID, Addr: addr}
	if child.parent == parentID {
		if prev, err := agg.Child(childID); err == nil {
			desc.Available = prev.Available
		}
	}

	agg.SetChild(desc)
	child.parent = parentID

	return nil
}

// Report pushes childID's current availability to its parent, as the child
// would when sending a version report. Counts therefore climb one level per
// report.
func (t *Tree) Report(childID string) error {
	t.mu.RLock()
	child, ok := t.entries[childID]
	if !ok {
		t.mu.RUnlock()
		return ErrNotFound
	}

	if child.parent == "" {
		t.mu.RUnlock()
		return nil
	}

	parent := t.entries[child.parent].holder.(aggregator)
	holder := child.holder
	t.mu.RUnlock()

	return parent.ReportChildVersions(childID, holder.Availability())
}

// ReportUp reports childID to its parent and keeps reporting each ancestor
// until the root, so the root's counts cover the whole branch.
func (t *Tree) ReportUp(childID string) error {
	id := childID

	for {
		parent, err := t.Parent(id)
		if err != nil {
			return err
		}

		if parent == "" {
			return nil
		}

		if err := t.Report(id); err != nil {
			return err
		}

		id = parent
	}
}

// Remove deletes holder id and unlinks it from its parent.
// Children of a removed holder become roots.
func (t *Tree) Remove(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return ErrNotFound
	}

	if e.parent != "" {
		if agg, ok := t.entries[e.parent].holder.(aggregator); ok {
			_ = agg.DeleteChild(id)
		}
	}

	for _, other := range t.entries {
		if other.parent == id {
			other.parent = ""
		}
	}

	delete(t.entries, id)

	if t.primary == id {
		t.primary = ""
	}

	return nil
}
