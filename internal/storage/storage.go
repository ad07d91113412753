// Package storage persists replica version bookkeeping in Pebble.
// Replica payloads are never written.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	flatbuffers "github.com/google/flatbuffers/go"

	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/types"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// keySep separates the holder id from the rest of a key.
	keySep = 0x00
)

// Key prefixes.
var (
	prefixDescriptor = []byte("d:") // d:<holder>\x00<version BE> -> ReplicaEntry
	prefixChild      = []byte("c:") // c:<holder>\x00<child> -> ChildEntry
	keyCounters      = []byte("p:counters")
	keySnapshot      = []byte("s:latest")
)

// ErrInvalidID is returned for holder or child ids the key layout cannot hold.
var ErrInvalidID = errors.New("invalid id")

// Ledger stores which versions each holder has, the last report of every
// child and the primary's counters, so a node can restart without losing
// its place in the tree.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk.
type Ledger struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// Open opens or creates a ledger at path and starts the WAL sync loop.
func Open(path string) (*Ledger, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(8 << 20), // 8 MB cache
		MemTableSize:                4 << 20,                  // 4 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble:\n%w", err)
	}

	l := &Ledger{
		db:       db,
		stopSync: make(chan struct{}),
	}

	l.startSyncLoop()

	return l, nil
}

// SaveDescriptorVersion records that holderID holds d.Version.
func (l *Ledger) SaveDescriptorVersion(holderID string, d replica.Descriptor) error {
	key, err := descriptorKey(holderID, d.Version)
	if err != nil {
		return err
	}

	builder := flatbuffers.NewBuilder(64)
	rid := builder.CreateString(d.ReplicaID)

	types.ReplicaEntryStart(builder)
	types.ReplicaEntryAddVersion(builder, d.Version)
	types.ReplicaEntryAddReplicaId(builder, rid)
	types.ReplicaEntryAddCreatedMs(builder, d.CreatedAt.UnixMilli())
	builder.Finish(types.ReplicaEntryEnd(builder))

	return l.db.Set(key, builder.FinishedBytes(), pebble.NoSync)
}

// DeleteDescriptorVersion forgets that holderID holds v.
func (l *Ledger) DeleteDescriptorVersion(holderID string, v replica.Version) error {
	key, err := descriptorKey(holderID, v)
	if err != nil {
		return err
	}

	return l.db.Delete(key, pebble.NoSync)
}

// LoadVersions returns the descriptors recorded for holderID in ascending
// version order. Payloads are always nil.
func (l *Ledger) LoadVersions(holderID string) ([]replica.Descriptor, error) {
	prefix, err := holderPrefix(prefixDescriptor, holderID)
	if err != nil {
		return nil, err
	}

	var out []replica.Descriptor

	err = l.iteratePrefix(prefix, func(_, value []byte) error {
		d, err := decodeDescriptor(value)
		if err != nil {
			return err
		}

		out = append(out, d)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load versions of %s:\n%w", holderID, err)
	}

	return out, nil
}

// SaveChildReport records the address and last report of one child of holderID.
func (l *Ledger) SaveChildReport(holderID string, c replica.ChildDesc) error {
	key, err := childKey(holderID, c.NodeID)
	if err != nil {
		return err
	}

	return l.db.Set(key, encodeChild(c), pebble.NoSync)
}

// DeleteChildReport forgets child childID of holderID.
func (l *Ledger) DeleteChildReport(holderID, childID string) error {
	key, err := childKey(holderID, childID)
	if err != nil {
		return err
	}

	return l.db.Delete(key, pebble.NoSync)
}

// LoadChildReports returns every child recorded for holderID, ordered by id.
func (l *Ledger) LoadChildReports(holderID string) ([]replica.ChildDesc, error) {
	prefix, err := holderPrefix(prefixChild, holderID)
	if err != nil {
		return nil, err
	}

	var out []replica.ChildDesc

	err = l.iteratePrefix(prefix, func(_, value []byte) error {
		c, err := decodeChild(value)
		if err != nil {
			return err
		}

		out = append(out, c)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load children of %s:\n%w", holderID, err)
	}

	return out, nil
}

// SavePrimaryCounters records the primary's latest and recently deleted versions.
func (l *Ledger) SavePrimaryCounters(latest, recentDeleted replica.Version) error {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], latest)
	binary.BigEndian.PutUint64(buf[8:], recentDeleted)

	return l.db.Set(keyCounters, buf[:], pebble.NoSync)
}

// LoadPrimaryCounters returns the saved counters. ok is false when none
// were ever saved.
func (l *Ledger) LoadPrimaryCounters() (latest, recentDeleted replica.Version, ok bool, err error) {
	value, err := l.get(keyCounters)
	if err != nil {
		return 0, 0, false, err
	}

	if value == nil {
		return 0, 0, false, nil
	}

	if len(value) != 16 {
		return 0, 0, false, fmt.Errorf("invalid counters length: %d", len(value))
	}

	return binary.BigEndian.Uint64(value[:8]), binary.BigEndian.Uint64(value[8:]), true, nil
}

// SaveSnapshot compresses and stores a tree snapshot, replacing the previous one.
// The write is synced before returning.
func (l *Ledger) SaveSnapshot(data []byte) error {
	compressed, err := replica.CompressSnapshot(data)
	if err != nil {
		return fmt.Errorf("compress snapshot:\n%w", err)
	}

	return l.db.Set(keySnapshot, compressed, pebble.Sync)
}

// LoadSnapshot returns the last stored snapshot, or nil if none exists.
func (l *Ledger) LoadSnapshot() ([]byte, error) {
	compressed, err := l.get(keySnapshot)
	if err != nil || compressed == nil {
		return nil, err
	}

	data, err := replica.DecompressSnapshot(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	return data, nil
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing to ensure durability.
func (l *Ledger) Close() error {
	close(l.stopSync)
	l.wg.Wait()

	if err := l.sync(); err != nil {
		return err
	}

	return l.db.Close()
}

// get returns a copy of the value for key, nil when absent.
func (l *Ledger) get(key []byte) ([]byte, error) {
	value, closer, err := l.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// Copy the value since it's invalid after closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// iteratePrefix calls fn for each pair under prefix, in key order.
func (l *Ledger) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (l *Ledger) startSyncLoop() {
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = l.sync()
			case <-l.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (l *Ledger) sync() error {
	return l.db.LogData(nil, pebble.Sync)
}

// holderPrefix returns prefix + holderID + separator.
func holderPrefix(prefix []byte, holderID string) ([]byte, error) {
	if err := validateID(holderID); err != nil {
		return nil, err
	}

	key := make([]byte, 0, len(prefix)+len(holderID)+1)
	key = append(key, prefix...)
	key = append(key, holderID...)
	key = append(key, keySep)

	return key, nil
}

func descriptorKey(holderID string, v replica.Version) ([]byte, error) {
	key, err := holderPrefix(prefixDescriptor, holderID)
	if err != nil {
		return nil, err
	}

	return binary.BigEndian.AppendUint64(key, v), nil
}

func childKey(holderID, childID string) ([]byte, error) {
	if err := validateID(childID); err != nil {
		return nil, err
	}

	key, err := holderPrefix(prefixChild, holderID)
	if err != nil {
		return nil, err
	}

	return append(key, childID...), nil
}

// validateID rejects ids that would break the key layout.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}

	for i := 0; i < len(id); i++ {
		if id[i] == keySep {
			return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidID, id)
		}
	}

	return nil
}

func decodeDescriptor(value []byte) (d replica.Descriptor, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("malformed descriptor record")
		}
	}()

	e := types.GetRootAsReplicaEntry(value, 0)

	return replica.Descriptor{
		CreatedAt: time.UnixMilli(e.CreatedMs()),
		ReplicaID: string(e.ReplicaId()),
		Version:   e.Version(),
	}, nil
}

func encodeChild(c replica.ChildDesc) []byte {
	builder := flatbuffers.NewBuilder(128)

	versions := make([]uint64, 0, len(c.Available))
	for v := range c.Available {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	types.ChildEntryStartCountsVector(builder, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		builder.PrependUint64(c.Available[versions[i]])
	}
	counts := builder.EndVector(len(versions))

	types.ChildEntryStartVersionsVector(builder, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		builder.PrependUint64(versions[i])
	}
	vers := builder.EndVector(len(versions))

	id := builder.CreateString(c.NodeID)
	addr := builder.CreateString(c.Addr)

	types.ChildEntryStart(builder)
	types.ChildEntryAddNodeId(builder, id)
	types.ChildEntryAddAddr(builder, addr)
	types.ChildEntryAddVersions(builder, vers)
	types.ChildEntryAddCounts(builder, counts)
	builder.Finish(types.ChildEntryEnd(builder))

	return builder.FinishedBytes()
}

func decodeChild(value []byte) (c replica.ChildDesc, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("malformed child record")
		}
	}()

	e := types.GetRootAsChildEntry(value, 0)

	if e.VersionsLength() != e.CountsLength() {
		return replica.ChildDesc{}, fmt.Errorf("child record: %d versions, %d counts",
			e.VersionsLength(), e.CountsLength())
	}

	c = replica.ChildDesc{
		NodeID:    string(e.NodeId()),
		Addr:      string(e.Addr()),
		Available: make(map[replica.Version]uint64, e.VersionsLength()),
	}

	for i := 0; i < e.VersionsLength(); i++ {
		c.Available[e.Versions(i)] = e.Counts(i)
	}

	return c, nil
}
