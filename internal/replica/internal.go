package replica

import (
	"math"
	"math/bits"
	"sort"
	"sync"
)

// ChildDesc is what a holder knows about one direct child: its address and
// the availability counts it last reported. It never points at the child.
type ChildDesc struct {
	NodeID    string
	Addr      string
	Available map[Version]uint64
}

// clone returns a deep copy.
func (c ChildDesc) clone() ChildDesc {
	avail := make(map[Version]uint64, len(c.Available))
	for v, n := range c.Available {
		avail[v] = n
	}
	c.Available = avail

	return c
}

// InternalHolder is a VersionStore that also aggregates its children's reports.
type InternalHolder struct {
	*VersionStore

	children map[string]ChildDesc
	cmu      sync.RWMutex // cmu guards children
}

// NewInternalHolder creates an internal holder for nodeID with no children.
func NewInternalHolder(nodeID string) *InternalHolder {
	return &InternalHolder{
		VersionStore: NewVersionStore(nodeID),
		children:     make(map[string]ChildDesc),
	}
}

// SetChild inserts or replaces the descriptor of a direct child.
func (h *InternalHolder) SetChild(desc ChildDesc) {
	desc = desc.clone()

	h.cmu.Lock()
	h.children[desc.NodeID] = desc
	h.cmu.Unlock()
}

// Child returns a copy of the descriptor of child id.
func (h *InternalHolder) Child(id string) (ChildDesc, error) {
	h.cmu.RLock()
	defer h.cmu.RUnlock()

	desc, ok := h.children[id]
	if !ok {
		return ChildDesc{}, ErrNotFound
	}

	return desc.clone(), nil
}

// DeleteChild forgets child id.
func (h *InternalHolder) DeleteChild(id string) error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	if _, ok := h.children[id]; !ok {
		return ErrNotFound
	}

	delete(h.children, id)

	return nil
}

// ChildIDs returns the ids of all direct children, sorted.
func (h *InternalHolder) ChildIDs() []string {
	h.cmu.RLock()
	ids := make([]string, 0, len(h.children))
	for id := range h.children {
		ids = append(ids, id)
	}
	h.cmu.RUnlock()

	sort.Strings(ids)

	return ids
}

// ReportChildVersions replaces the availability counts reported by child id.
func (h *InternalHolder) ReportChildVersions(id string, available map[Version]uint64) error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	desc, ok := h.children[id]
	if !ok {
		return ErrNotFound
	}

	desc.Available = make(map[Version]uint64, len(available))
	for v, n := range available {
		if n > 0 {
			desc.Available[v] = n
		}
	}
	h.children[id] = desc

	return nil
}

// BranchContainsVersion returns the sorted ids of children whose last report
// includes v.
func (h *InternalHolder) BranchContainsVersion(v Version) []string {
	h.cmu.RLock()
	var ids []string
	for id, desc := range h.children {
		if _, ok := desc.Available[v]; ok {
			ids = append(ids, id)
		}
	}
	h.cmu.RUnlock()

	sort.Strings(ids)

	return ids
}

// CountVersion returns the local copy (0 or 1) plus every direct child's last
// reported count for v. Grandchildren are only visible through what the
// children reported.
func (h *InternalHolder) CountVersion(v Version) uint64 {
	var total uint64
	if h.ContainsVersion(v) {
		total++
	}

	h.cmu.RLock()
	for _, desc := range h.children {
		total = addCount(total, desc.Available[v])
	}
	h.cmu.RUnlock()

	return total
}

// Availability returns what this holder reports to its own parent:
// its local copies plus the counts its children reported.
func (h *InternalHolder) Availability() map[Version]uint64 {
	avail := h.VersionStore.Availability()

	h.cmu.RLock()
	for _, desc := range h.children {
		for v, n := range desc.Available {
			avail[v] = addCount(avail[v], n)
		}
	}
	h.cmu.RUnlock()

	return avail
}

// addCount returns a+b, stopping at math.MaxUint64.
func addCount(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}

	return sum
}

// Reset drops descriptors and children.
func (h *InternalHolder) Reset() {
	h.VersionStore.Reset()

	h.cmu.Lock()
	h.children = make(map[string]ChildDesc)
	h.cmu.Unlock()
}
