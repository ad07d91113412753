// Package wire encodes the events exchanged between nodes.
// Every message is [1B kind][FlatBuffers table].
package wire

import (
	"fmt"
	"sort"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/types"
)

// Kind tags the table that follows it.
type Kind byte

const (
	KindHello         Kind = 0x01 // Hello announces the sender's node id
	KindRequest       Kind = 0x02 // Request carries a replica request
	KindFault         Kind = 0x03 // Fault reports a failure observed against a node
	KindMeasurement   Kind = 0x04 // Measurement reports a performance sample
	KindVersionReport Kind = 0x05 // VersionReport carries a child's availability counts
	KindAck           Kind = 0x06 // Ack answers a request with the stamped request
	KindError         Kind = 0x07 // Error answers a request that was rejected
)

// minMessageSize is the kind byte plus the smallest FlatBuffers root.
const minMessageSize = 1 + 8

// Message is a decoded event.
type Message interface {
	Kind() Kind
}

// Hello announces a node.
type Hello struct {
	NodeID string
	Addr   string
}

// RequestEvent carries a replica request.
type RequestEvent struct {
	Request replica.Request
}

// FaultEvent reports a fault observed against NodeID.
type FaultEvent struct {
	NodeID string
	Fault  breaker.Fault
}

// MeasurementEvent reports a performance sample for NodeID.
type MeasurementEvent struct {
	NodeID string
	Values []float64
}

// VersionReportEvent carries the availability counts reported by NodeID.
type VersionReportEvent struct {
	NodeID    string
	Available map[replica.Version]uint64
}

// AckEvent answers a request with the stamped version.
type AckEvent struct {
	Request replica.Request
}

// ErrorEvent answers a request that was rejected.
type ErrorEvent struct {
	Reason string
}

func (Hello) Kind() Kind              { return KindHello }
func (RequestEvent) Kind() Kind       { return KindRequest }
func (FaultEvent) Kind() Kind         { return KindFault }
func (MeasurementEvent) Kind() Kind   { return KindMeasurement }
func (VersionReportEvent) Kind() Kind { return KindVersionReport }
func (AckEvent) Kind() Kind           { return KindAck }
func (ErrorEvent) Kind() Kind         { return KindError }

// Encode serializes a message.
func Encode(msg Message) ([]byte, error) {
	builder := flatbuffers.NewBuilder(128)

	var root flatbuffers.UOffsetT

	switch m := msg.(type) {
	case Hello:
		root = buildHello(builder, m)
	case RequestEvent:
		root = buildRequest(builder, m.Request)
	case AckEvent:
		root = buildRequest(builder, m.Request)
	case ErrorEvent:
		// errors reuse the Hello layout with the reason in node_id
		root = buildHello(builder, Hello{NodeID: m.Reason})
	case FaultEvent:
		root = buildFault(builder, m)
	case MeasurementEvent:
		root = buildMeasurement(builder, m)
	case VersionReportEvent:
		root = buildVersionReport(builder, m)
	default:
		return nil, fmt.Errorf("unsupported message %T", msg)
	}

	builder.Finish(root)
	body := builder.FinishedBytes()

	out := make([]byte, 1+len(body))
	out[0] = byte(msg.Kind())
	copy(out[1:], body)

	return out, nil
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (msg Message, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			msg = nil
			retErr = fmt.Errorf("malformed message")
		}
	}()

	if len(data) < minMessageSize {
		return nil, fmt.Errorf("message too short: %d < %d", len(data), minMessageSize)
	}

	kind, body := Kind(data[0]), data[1:]

	switch kind {
	case KindHello:
		return decodeHello(body), nil

	case KindRequest:
		req, err := parseRequest(types.GetRootAsRequestMsg(body, 0))
		if err != nil {
			return nil, err
		}
		return RequestEvent{Request: req}, nil

	case KindAck:
		req, err := parseRequest(types.GetRootAsRequestMsg(body, 0))
		if err != nil {
			return nil, err
		}
		return AckEvent{Request: req}, nil

	case KindError:
		return ErrorEvent{Reason: decodeHello(body).NodeID}, nil

	case KindFault:
		return decodeFault(body), nil

	case KindMeasurement:
		return decodeMeasurement(body), nil

	case KindVersionReport:
		return decodeVersionReport(body)

	default:
		return nil, fmt.Errorf("unknown message kind: 0x%02x", byte(kind))
	}
}

func buildHello(b *flatbuffers.Builder, m Hello) flatbuffers.UOffsetT {
	id := b.CreateString(m.NodeID)
	addr := b.CreateString(m.Addr)

	types.HelloStart(b)
	types.HelloAddNodeId(b, id)
	types.HelloAddAddr(b, addr)

	return types.HelloEnd(b)
}

func decodeHello(body []byte) Hello {
	h := types.GetRootAsHello(body, 0)

	return Hello{NodeID: string(h.NodeId()), Addr: string(h.Addr())}
}

// buildRequest writes req as a RequestMsg table and returns its offset.
func buildRequest(b *flatbuffers.Builder, req replica.Request) flatbuffers.UOffsetT {
	id := b.CreateString(req.NodeID)
	addr := b.CreateString(req.NodeAddr)

	types.RequestMsgStart(b)
	types.RequestMsgAddType(b, byte(req.Type))
	types.RequestMsgAddNodeId(b, id)
	types.RequestMsgAddNodeAddr(b, addr)
	types.RequestMsgAddVersion(b, req.Version)

	return types.RequestMsgEnd(b)
}

// parseRequest converts a RequestMsg table, rejecting unknown request types.
func parseRequest(m *types.RequestMsg) (replica.Request, error) {
	t := replica.RequestType(m.Type())
	if t > replica.Delete {
		return replica.Request{}, fmt.Errorf("%w: %d", replica.ErrInvalidRequest, m.Type())
	}

	return replica.Request{
		Type:     t,
		NodeID:   string(m.NodeId()),
		NodeAddr: string(m.NodeAddr()),
		Version:  m.Version(),
	}, nil
}

func buildFault(b *flatbuffers.Builder, m FaultEvent) flatbuffers.UOffsetT {
	id := b.CreateString(m.NodeID)

	types.FaultMsgStart(b)
	types.FaultMsgAddNodeId(b, id)
	types.FaultMsgAddAtMs(b, m.Fault.At.UnixMilli())
	types.FaultMsgAddScore(b, m.Fault.Score)

	return types.FaultMsgEnd(b)
}

func decodeFault(body []byte) FaultEvent {
	f := types.GetRootAsFaultMsg(body, 0)

	return FaultEvent{
		NodeID: string(f.NodeId()),
		Fault: breaker.Fault{
			At:    time.UnixMilli(f.AtMs()),
			Score: breaker.ClampScore(f.Score()),
		},
	}
}

func buildMeasurement(b *flatbuffers.Builder, m MeasurementEvent) flatbuffers.UOffsetT {
	id := b.CreateString(m.NodeID)

	types.MeasurementMsgStartValuesVector(b, len(m.Values))
	for i := len(m.Values) - 1; i >= 0; i-- {
		b.PrependFloat64(m.Values[i])
	}
	values := b.EndVector(len(m.Values))

	types.MeasurementMsgStart(b)
	types.MeasurementMsgAddNodeId(b, id)
	types.MeasurementMsgAddValues(b, values)

	return types.MeasurementMsgEnd(b)
}

func decodeMeasurement(body []byte) MeasurementEvent {
	m := types.GetRootAsMeasurementMsg(body, 0)

	values := make([]float64, m.ValuesLength())
	for i := range values {
		values[i] = m.Values(i)
	}

	return MeasurementEvent{NodeID: string(m.NodeId()), Values: values}
}

func buildVersionReport(b *flatbuffers.Builder, m VersionReportEvent) flatbuffers.UOffsetT {
	id := b.CreateString(m.NodeID)
	versions, counts := sortedAvailability(m.Available)

	vecVersions := buildUint64Vector(b, versions, types.VersionReportMsgStartVersionsVector)
	vecCounts := buildUint64Vector(b, counts, types.VersionReportMsgStartCountsVector)

	types.VersionReportMsgStart(b)
	types.VersionReportMsgAddNodeId(b, id)
	types.VersionReportMsgAddVersions(b, vecVersions)
	types.VersionReportMsgAddCounts(b, vecCounts)

	return types.VersionReportMsgEnd(b)
}

func decodeVersionReport(body []byte) (Message, error) {
	r := types.GetRootAsVersionReportMsg(body, 0)

	if r.VersionsLength() != r.CountsLength() {
		return nil, fmt.Errorf("version report length mismatch: %d versions, %d counts",
			r.VersionsLength(), r.CountsLength())
	}

	avail := make(map[replica.Version]uint64, r.VersionsLength())
	for i := 0; i < r.VersionsLength(); i++ {
		avail[r.Versions(i)] = r.Counts(i)
	}

	return VersionReportEvent{NodeID: string(r.NodeId()), Available: avail}, nil
}

// sortedAvailability splits an availability map into parallel slices
// ordered by version.
func sortedAvailability(avail map[replica.Version]uint64) ([]uint64, []uint64) {
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

// buildUint64Vector writes values using the table's vector start function.
func buildUint64Vector(b *flatbuffers.Builder, values []uint64, start func(*flatbuffers.Builder, int) flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	start(b, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		b.PrependUint64(values[i])
	}

	return b.EndVector(len(values))
}
