package replica

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"ReplicaMesh/internal/types"
)

// snapshotFormat is the current snapshot format version.
const snapshotFormat = 1

// ErrChecksum is returned when a snapshot does not match its checksum.
var ErrChecksum = errors.New("snapshot checksum mismatch")

// holderState is the canonical form of one holder inside a snapshot.
type holderState struct {
	id       string
	kind     Kind
	parent   string
	replicas []Descriptor // replicas sorted by version, payloads dropped
	children []ChildDesc  // children sorted by node id
}

// treeState is the canonical form of a whole tree.
type treeState struct {
	format        uint32
	primary       string
	latest        Version
	recentDeleted Version
	autoDelete    bool
	holders       []holderState // holders sorted by id
	pending       []Request     // pending keeps queue order
}

// ExportSnapshot serializes the tree: every holder with its descriptors,
// children reports and parent, plus the primary's counters and queue.
// Replica payloads are not included.
func ExportSnapshot(t *Tree) []byte {
	state := captureTree(t)
	checksum := computeChecksum(state)

	return buildSnapshot(state, checksum)
}

// ImportSnapshot verifies data and rebuilds the tree it describes.
func ImportSnapshot(data []byte) (tree *Tree, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			tree = nil
			retErr = fmt.Errorf("malformed snapshot")
		}
	}()

	snap := types.GetRootAsTreeSnapshot(data, 0)

	if snap.Format() != snapshotFormat {
		return nil, fmt.Errorf("unsupported snapshot format: %d", snap.Format())
	}

	stored := snap.ChecksumBytes()
	if len(stored) != 32 {
		return nil, fmt.Errorf("invalid checksum length: %d", len(stored))
	}

	state, err := parseSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot:\n%w", err)
	}

	computed := computeChecksum(state)
	if !bytes.Equal(computed[:], stored) {
		return nil, ErrChecksum
	}

	return restoreTree(state)
}

// CompressSnapshot compresses snapshot data using zstd.
func CompressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// DecompressSnapshot decompresses zstd-compressed snapshot data.
func DecompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}

// captureTree copies the tree into canonical order.
func captureTree(t *Tree) treeState {
	state := treeState{format: snapshotFormat}

	for _, id := range t.IDs() {
		h, kind, err := t.Holder(id)
		if err != nil {
			continue
		}

		parent, _ := t.Parent(id)
		hs := holderState{id: id, kind: kind, parent: parent}

		for _, v := range h.Versions() {
			d, err := h.Descriptor(v)
			if err != nil {
				continue
			}
			d.Payload = nil
			hs.replicas = append(hs.replicas, d)
		}

		if kind != KindLeaf {
			in, err := t.Internal(id)
			if err == nil {
				for _, cid := range in.ChildIDs() {
					if c, err := in.Child(cid); err == nil {
						hs.children = append(hs.children, c)
					}
				}
			}
		}

		state.holders = append(state.holders, hs)
	}

	if p, err := t.Primary(); err == nil {
		state.primary = p.NodeID()
		state.latest = p.LatestVersion()
		state.recentDeleted = p.RecentDeletedVersion()
		state.autoDelete = p.AutoDelete()
		state.pending = p.PendingRequests()
	}

	return state
}

// restoreTree rebuilds a tree from canonical state.
func restoreTree(state treeState) (*Tree, error) {
	t := NewTree()

	for _, hs := range state.holders {
		var h Holder

		switch hs.kind {
		case KindLeaf:
			s, err := t.AddLeaf(hs.id)
			if err != nil {
				return nil, err
			}
			h = s

		case KindInternal:
			in, err := t.AddInternal(hs.id)
			if err != nil {
				return nil, err
			}
			h = in

		case KindPrimary:
			if hs.id != state.primary {
				return nil, fmt.Errorf("holder %s marked primary, snapshot primary is %s", hs.id, state.primary)
			}

			p, err := t.SetPrimary(hs.id)
			if err != nil {
				return nil, err
			}
			p.restore(state.latest, state.recentDeleted, state.autoDelete, state.pending)
			h = p

		default:
			return nil, fmt.Errorf("holder %s: unknown kind %d", hs.id, hs.kind)
		}

		for _, d := range hs.replicas {
			h.SetDescriptor(d.Version, d)
		}
	}

	// children may be remote nodes absent from this tree, so their reports
	// are restored directly and parent ids only where both ends are local
	for _, hs := range state.holders {
		if len(hs.children) > 0 {
			in, err := t.Internal(hs.id)
			if err != nil {
				return nil, err
			}

			for _, c := range hs.children {
				in.SetChild(c)
			}
		}

		if hs.parent != "" {
			if err := t.setParent(hs.id, hs.parent); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
	}

	return t, nil
}

// computeChecksum hashes the canonical state.
// Strings are length-prefixed and integers big-endian.
func computeChecksum(state treeState) [32]byte {
	hasher := blake3.New()

	var buf [8]byte

	writeUint32 := func(n uint32) {
		binary.BigEndian.PutUint32(buf[:4], n)
		hasher.Write(buf[:4])
	}
	writeUint64 := func(n uint64) {
		binary.BigEndian.PutUint64(buf[:], n)
		hasher.Write(buf[:])
	}
	writeString := func(s string) {
		writeUint32(uint32(len(s)))
		hasher.Write([]byte(s))
	}

	writeUint32(state.format)
	writeString(state.primary)
	writeUint64(state.latest)
	writeUint64(state.recentDeleted)

	if state.autoDelete {
		hasher.Write([]byte{1})
	} else {
		hasher.Write([]byte{0})
	}

	writeUint32(uint32(len(state.holders)))
	for _, hs := range state.holders {
		writeString(hs.id)
		hasher.Write([]byte{byte(hs.kind)})
		writeString(hs.parent)

		writeUint32(uint32(len(hs.replicas)))
		for _, d := range hs.replicas {
			writeUint64(d.Version)
			writeString(d.ReplicaID)
			writeUint64(uint64(d.CreatedAt.UnixMilli()))
		}

		writeUint32(uint32(len(hs.children)))
		for _, c := range hs.children {
			writeString(c.NodeID)
			writeString(c.Addr)

			versions, counts := splitAvailability(c.Available)
			writeUint32(uint32(len(versions)))
			for i := range versions {
				writeUint64(versions[i])
				writeUint64(counts[i])
			}
		}
	}

	writeUint32(uint32(len(state.pending)))
	for _, r := range state.pending {
		hasher.Write([]byte{byte(r.Type)})
		writeString(r.NodeID)
		writeString(r.NodeAddr)
		writeUint64(r.Version)
	}

	var checksum [32]byte
	hasher.Sum(checksum[:0])

	return checksum
}

// buildSnapshot writes the canonical state as a TreeSnapshot table.
func buildSnapshot(state treeState, checksum [32]byte) []byte {
	builder := flatbuffers.NewBuilder(1024)

	holderOffsets := make([]flatbuffers.UOffsetT, len(state.holders))
	for i, hs := range state.holders {
		holderOffsets[i] = buildHolderEntry(builder, hs)
	}

	types.TreeSnapshotStartHoldersVector(builder, len(holderOffsets))
	for i := len(holderOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(holderOffsets[i])
	}
	holdersVector := builder.EndVector(len(holderOffsets))

	pendingOffsets := make([]flatbuffers.UOffsetT, len(state.pending))
	for i, r := range state.pending {
		pendingOffsets[i] = buildRequestEntry(builder, r)
	}

	types.TreeSnapshotStartPendingVector(builder, len(pendingOffsets))
	for i := len(pendingOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(pendingOffsets[i])
	}
	pendingVector := builder.EndVector(len(pendingOffsets))

	primaryOffset := builder.CreateString(state.primary)
	checksumOffset := builder.CreateByteVector(checksum[:])

	types.TreeSnapshotStart(builder)
	types.TreeSnapshotAddFormat(builder, state.format)
	types.TreeSnapshotAddPrimaryId(builder, primaryOffset)
	types.TreeSnapshotAddLatestVersion(builder, state.latest)
	types.TreeSnapshotAddRecentDeleted(builder, state.recentDeleted)
	types.TreeSnapshotAddAutoDelete(builder, state.autoDelete)
	types.TreeSnapshotAddHolders(builder, holdersVector)
	types.TreeSnapshotAddPending(builder, pendingVector)
	types.TreeSnapshotAddChecksum(builder, checksumOffset)
	offset := types.TreeSnapshotEnd(builder)
	builder.Finish(offset)

	return builder.FinishedBytes()
}

func buildHolderEntry(builder *flatbuffers.Builder, hs holderState) flatbuffers.UOffsetT {
	replicaOffsets := make([]flatbuffers.UOffsetT, len(hs.replicas))
	for i, d := range hs.replicas {
		rid := builder.CreateString(d.ReplicaID)

		types.ReplicaEntryStart(builder)
		types.ReplicaEntryAddVersion(builder, d.Version)
		types.ReplicaEntryAddReplicaId(builder, rid)
		types.ReplicaEntryAddCreatedMs(builder, d.CreatedAt.UnixMilli())
		replicaOffsets[i] = types.ReplicaEntryEnd(builder)
	}

	types.HolderEntryStartReplicasVector(builder, len(replicaOffsets))
	for i := len(replicaOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(replicaOffsets[i])
	}
	replicasVector := builder.EndVector(len(replicaOffsets))

	childOffsets := make([]flatbuffers.UOffsetT, len(hs.children))
	for i, c := range hs.children {
		id := builder.CreateString(c.NodeID)
		addr := builder.CreateString(c.Addr)

		versions, counts := splitAvailability(c.Available)
		versionsVector := prependUint64s(builder, versions, types.ChildEntryStartVersionsVector)
		countsVector := prependUint64s(builder, counts, types.ChildEntryStartCountsVector)

		types.ChildEntryStart(builder)
		types.ChildEntryAddNodeId(builder, id)
		types.ChildEntryAddAddr(builder, addr)
		types.ChildEntryAddVersions(builder, versionsVector)
		types.ChildEntryAddCounts(builder, countsVector)
		childOffsets[i] = types.ChildEntryEnd(builder)
	}

	types.HolderEntryStartChildrenVector(builder, len(childOffsets))
	for i := len(childOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(childOffsets[i])
	}
	childrenVector := builder.EndVector(len(childOffsets))

	id := builder.CreateString(hs.id)
	parent := builder.CreateString(hs.parent)

	types.HolderEntryStart(builder)
	types.HolderEntryAddNodeId(builder, id)
	types.HolderEntryAddKind(builder, byte(hs.kind))
	types.HolderEntryAddParentId(builder, parent)
	types.HolderEntryAddReplicas(builder, replicasVector)
	types.HolderEntryAddChildren(builder, childrenVector)

	return types.HolderEntryEnd(builder)
}

func buildRequestEntry(builder *flatbuffers.Builder, r Request) flatbuffers.UOffsetT {
	id := builder.CreateString(r.NodeID)
	addr := builder.CreateString(r.NodeAddr)

	types.RequestMsgStart(builder)
	types.RequestMsgAddType(builder, byte(r.Type))
	types.RequestMsgAddNodeId(builder, id)
	types.RequestMsgAddNodeAddr(builder, addr)
	types.RequestMsgAddVersion(builder, r.Version)

	return types.RequestMsgEnd(builder)
}

func prependUint64s(builder *flatbuffers.Builder, values []uint64, start func(*flatbuffers.Builder, int) flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	start(builder, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		builder.PrependUint64(values[i])
	}

	return builder.EndVector(len(values))
}

// parseSnapshot reads the table back into canonical state, copying every
// string out of the FlatBuffers buffer.
func parseSnapshot(snap *types.TreeSnapshot) (treeState, error) {
	state := treeState{
		format:        snap.Format(),
		primary:       string(snap.PrimaryId()),
		latest:        snap.LatestVersion(),
		recentDeleted: snap.RecentDeleted(),
		autoDelete:    snap.AutoDelete(),
	}

	var he types.HolderEntry
	var re types.ReplicaEntry
	var ce types.ChildEntry
	var rm types.RequestMsg

	for i := 0; i < snap.HoldersLength(); i++ {
		if !snap.Holders(&he, i) {
			return treeState{}, fmt.Errorf("read holder %d", i)
		}

		hs := holderState{
			id:     string(he.NodeId()),
			kind:   Kind(he.Kind()),
			parent: string(he.ParentId()),
		}

		for j := 0; j < he.ReplicasLength(); j++ {
			if !he.Replicas(&re, j) {
				return treeState{}, fmt.Errorf("read replica %d of %s", j, hs.id)
			}

			hs.replicas = append(hs.replicas, Descriptor{
				CreatedAt: time.UnixMilli(re.CreatedMs()),
				ReplicaID: string(re.ReplicaId()),
				Version:   re.Version(),
			})
		}

		for j := 0; j < he.ChildrenLength(); j++ {
			if !he.Children(&ce, j) {
				return treeState{}, fmt.Errorf("read child %d of %s", j, hs.id)
			}

			if ce.VersionsLength() != ce.CountsLength() {
				return treeState{}, fmt.Errorf("child %s: %d versions, %d counts",
					ce.NodeId(), ce.VersionsLength(), ce.CountsLength())
			}

			avail := make(map[Version]uint64, ce.VersionsLength())
			for k := 0; k < ce.VersionsLength(); k++ {
				avail[ce.Versions(k)] = ce.Counts(k)
			}

			hs.children = append(hs.children, ChildDesc{
				NodeID:    string(ce.NodeId()),
				Addr:      string(ce.Addr()),
				Available: avail,
			})
		}

		state.holders = append(state.holders, hs)
	}

	for i := 0; i < snap.PendingLength(); i++ {
		if !snap.Pending(&rm, i) {
			return treeState{}, fmt.Errorf("read pending request %d", i)
		}

		state.pending = append(state.pending, Request{
			Type:     RequestType(rm.Type()),
			NodeID:   string(rm.NodeId()),
			NodeAddr: string(rm.NodeAddr()),
			Version:  rm.Version(),
		})
	}

	return state, nil
}

// splitAvailability returns versions ascending with their counts.
func splitAvailability(avail map[Version]uint64) ([]uint64, []uint64) {
	versions := make([]uint64, 0, len(avail))
	for v := range avail {
		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	counts := make([]uint64, len(versions))
	for i, v := range versions {
		counts[i] = avail[v]
	}

	return versions, counts
}
