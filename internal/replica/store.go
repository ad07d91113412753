package replica

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a descriptor, child or holder is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidVersion is returned when deleting a version no holder has.
	ErrInvalidVersion = errors.New("invalid replica version")

	// ErrQueueEmpty is returned when retrieving from an empty request queue.
	ErrQueueEmpty = errors.New("request queue empty")

	// ErrInvalidRequest is returned for requests of an unknown type.
	ErrInvalidRequest = errors.New("invalid request type")
)

// Version is a replica version number. Only Update requests advance it.
type Version = uint64

// Descriptor describes one replica version held locally.
// The holder that stores it takes ownership of Payload.
type Descriptor struct {
	CreatedAt time.Time
	ReplicaID string
	Version   Version
	Payload   []byte
}

// VersionStore is the leaf role: the versions a single node holds.
// Thread-safe: guarded by mu.
type VersionStore struct {
	nodeID      string
	descriptors map[Version]Descriptor
	mu          sync.RWMutex
}

// NewVersionStore creates an empty store for nodeID.
func NewVersionStore(nodeID string) *VersionStore {
	return &VersionStore{
		nodeID:      nodeID,
		descriptors: make(map[Version]Descriptor),
	}
}

// NodeID returns the id of the node holding this store.
func (s *VersionStore) NodeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.nodeID
}

// SetNodeID changes the holder id.
func (s *VersionStore) SetNodeID(nodeID string) {
	s.mu.Lock()
	s.nodeID = nodeID
	s.mu.Unlock()
}

// SetDescriptor inserts or overwrites the descriptor for v.
func (s *VersionStore) SetDescriptor(v Version, d Descriptor) {
	d.Version = v

	s.mu.Lock()
	s.descriptors[v] = d
	s.mu.Unlock()
}

// Descriptor returns the descriptor for v.
func (s *VersionStore) Descriptor(v Version) (Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptors[v]
	if !ok {
		return Descriptor{}, ErrNotFound
	}

	return d, nil
}

// DeleteDescriptor removes the descriptor for v and releases its payload.
func (s *VersionStore) DeleteDescriptor(v Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.descriptors[v]; !ok {
		return ErrNotFound
	}

	delete(s.descriptors, v)

	return nil
}

// ContainsVersion reports whether v is held locally.
func (s *VersionStore) ContainsVersion(v Version) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.descriptors[v]

	return ok
}

// Versions returns the locally held versions in ascending order.
func (s *VersionStore) Versions() []Version {
	s.mu.RLock()
	versions := make([]Version, 0, len(s.descriptors))
	for v := range s.descriptors {
		versions = append(versions, v)
	}
	s.mu.RUnlock()

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions
}

// Availability returns what this node reports to its parent:
// one copy of every locally held version.
func (s *VersionStore) Availability() map[Version]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	avail := make(map[Version]uint64, len(s.descriptors))
	for v := range s.descriptors {
		avail[v] = 1
	}

	return avail
}

// Reset drops every descriptor.
func (s *VersionStore) Reset() {
	s.mu.Lock()
	s.descriptors = make(map[Version]Descriptor)
	s.mu.Unlock()
}
