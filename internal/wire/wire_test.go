package wire

import (
	"errors"
	"math"
	"testing"
	"time"

	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/replica"
)

func TestEncodeDecodeRequest(t *testing.T) {
	req := replica.Request{Type: replica.Update, NodeID: "n1", NodeAddr: "10.0.0.1:4000", Version: 7}

	data, err := Encode(RequestEvent{Request: req})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if Kind(data[0]) != KindRequest {
		t.Fatalf("kind: got 0x%02x, want 0x%02x", data[0], KindRequest)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev, ok := msg.(RequestEvent)
	if !ok {
		t.Fatalf("got %T, want RequestEvent", msg)
	}

	if ev.Request != req {
		t.Errorf("request: got %+v, want %+v", ev.Request, req)
	}
}

func TestEncodeDecodeFault(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)

	data, err := Encode(FaultEvent{NodeID: "n2", Fault: breaker.Fault{At: at, Score: 500}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev := msg.(FaultEvent)
	if ev.NodeID != "n2" || ev.Fault.Score != 500 || !ev.Fault.At.Equal(at) {
		t.Errorf("got %+v", ev)
	}
}

func TestDecodeClampsFaultScore(t *testing.T) {
	data, err := Encode(FaultEvent{NodeID: "n2", Fault: breaker.Fault{At: time.Now(), Score: math.MaxUint64}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if got := msg.(FaultEvent).Fault.Score; got != breaker.MaxScore {
		t.Errorf("score: got %d, want %d", got, breaker.MaxScore)
	}
}

func TestEncodeDecodeMeasurement(t *testing.T) {
	values := []float64{1.5, 0, -2, 3.25, 4}

	data, err := Encode(MeasurementEvent{NodeID: "n3", Values: values})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev := msg.(MeasurementEvent)
	if len(ev.Values) != len(values) {
		t.Fatalf("values: got %d, want %d", len(ev.Values), len(values))
	}

	for i := range values {
		if ev.Values[i] != values[i] {
			t.Errorf("values[%d]: got %v, want %v", i, ev.Values[i], values[i])
		}
	}
}

func TestEncodeDecodeVersionReport(t *testing.T) {
	avail := map[replica.Version]uint64{3: 2, 1: 5, 9: 1}

	data, err := Encode(VersionReportEvent{NodeID: "child", Available: avail})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev := msg.(VersionReportEvent)
	if ev.NodeID != "child" {
		t.Errorf("node: got %q, want child", ev.NodeID)
	}

	if len(ev.Available) != len(avail) {
		t.Fatalf("entries: got %d, want %d", len(ev.Available), len(avail))
	}

	for v, n := range avail {
		if ev.Available[v] != n {
			t.Errorf("version %d: got %d, want %d", v, ev.Available[v], n)
		}
	}
}

func TestEncodeDecodeHelloAndReplies(t *testing.T) {
	data, err := Encode(Hello{NodeID: "n4", Addr: "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("encode hello: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}

	if h := msg.(Hello); h.NodeID != "n4" || h.Addr != "127.0.0.1:9000" {
		t.Errorf("hello: got %+v", h)
	}

	data, err = Encode(ErrorEvent{Reason: "queue full"})
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	msg, err = Decode(data)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if e := msg.(ErrorEvent); e.Reason != "queue full" {
		t.Errorf("reason: got %q, want %q", e.Reason, "queue full")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	data, err := Encode(Hello{NodeID: "n"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	data[0] = 0x7f

	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	data, err := Encode(Hello{NodeID: "n"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if _, err := Decode(data[:4]); err == nil {
		t.Error("expected error for short message")
	}

	if _, err := Decode(nil); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestDecodeRecoversFromMalformedTable(t *testing.T) {
	data := []byte{byte(KindHello), 0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0}

	if _, err := Decode(data); err == nil {
		t.Fatal("expected error for malformed table")
	}
}

func TestDecodeRejectsInvalidRequestType(t *testing.T) {
	data, err := Encode(RequestEvent{Request: replica.Request{Type: replica.RequestType(9)}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	_, err = Decode(data)
	if !errors.Is(err, replica.ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected error for nil message")
	}
}
