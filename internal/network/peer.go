package network

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/wire"
)

const (
	// defaultRequestTimeout is the default timeout for Request calls.
	defaultRequestTimeout = 30 * time.Second

	// acceptIdleTimeout is how long receiveLoop waits before logging an idle peer.
	acceptIdleTimeout = 10 * time.Second
)

var (
	// ErrDenied is returned when the gate refuses a call to the peer.
	ErrDenied = errors.New("peer not admitted")

	// ErrPeerClosed is returned when calling a closed peer.
	ErrPeerClosed = errors.New("peer is closed")

	// ErrRejected wraps a rejection sent back by the remote handler.
	ErrRejected = errors.New("request rejected")
)

// Peer is a connection to a remote node identified by its node id.
type Peer struct {
	nodeID    string            // nodeID is the id announced in the remote hello
	publicKey ed25519.PublicKey // publicKey is the remote transport key
	address   string            // address is the remote advertised address
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
	mu        sync.Mutex // mu serializes uni stream sends
}

// NodeID returns the remote node id.
func (p *Peer) NodeID() string {
	return p.nodeID
}

// PublicKey returns the remote transport key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the remote advertised address.
func (p *Peer) Address() string {
	return p.address
}

// Send delivers msg on a new unidirectional stream.
func (p *Peer) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	return p.sendRaw(data)
}

func (p *Peer) sendRaw(data []byte) error {
	if err := p.admit(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(p.node.ctx)
	if err != nil {
		p.fault("open stream", err)
		return fmt.Errorf("open stream: %w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.Close()
		p.fault("write message", err)
		return fmt.Errorf("write message: %w", err)
	}

	return stream.Close()
}

// Request submits req to the remote node and waits for the stamped request
// it sends back. Transport failures and timeouts are reported to the gate;
// a remote rejection is returned as ErrRejected and is not a fault.
func (p *Peer) Request(ctx context.Context, req replica.Request) (replica.Request, error) {
	if err := p.admit(); err != nil {
		return replica.Request{}, err
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		p.fault("open stream", err)
		return replica.Request{}, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeEvent(stream, wire.RequestEvent{Request: req}); err != nil {
		p.fault("write request", err)
		return replica.Request{}, fmt.Errorf("write request:\n%w", err)
	}

	reply, err := readEvent(stream)
	if err != nil {
		p.fault("read response", err)
		return replica.Request{}, fmt.Errorf("read response:\n%w", err)
	}

	switch r := reply.(type) {
	case wire.AckEvent:
		return r.Request, nil
	case wire.ErrorEvent:
		return replica.Request{}, fmt.Errorf("%w: %s", ErrRejected, r.Reason)
	default:
		p.fault("unexpected response", fmt.Errorf("kind 0x%02x", byte(reply.Kind())))
		return replica.Request{}, fmt.Errorf("unexpected response kind 0x%02x", byte(reply.Kind()))
	}
}

// Close closes the connection without scheduling a reconnection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// admit checks the peer is open and the gate lets calls through.
func (p *Peer) admit() error {
	if p.closed.Load() {
		return ErrPeerClosed
	}

	if g := p.node.gate; g != nil && !g.IsAllowed(p.nodeID) {
		return fmt.Errorf("%w: %s", ErrDenied, p.nodeID)
	}

	return nil
}

// fault reports a failed call to the gate.
func (p *Peer) fault(op string, err error) {
	logger.Debug("peer call failed", "node", p.nodeID, "op", op, "error", err)

	if g := p.node.gate; g != nil {
		g.RegisterFault(p.nodeID, p.node.faultScore)
	}
}

// receiveLoop accepts incoming streams until the connection ends.
func (p *Peer) receiveLoop() {
	go p.acceptBidiStreams()

	for {
		ctx, cancel := context.WithTimeout(p.node.ctx, acceptIdleTimeout)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded && p.node.ctx.Err() == nil {
				continue
			}
			logger.Debug("receive loop ended", "node", p.nodeID, "error", err)
			break
		}

		go p.handleUniStream(stream)
	}

	p.handleDisconnect()
}

// acceptBidiStreams accepts request streams.
func (p *Peer) acceptBidiStreams() {
	for {
		stream, err := p.conn.AcceptStream(p.node.ctx)
		if err != nil {
			return
		}

		go p.handleBidiStream(stream)
	}
}

// handleBidiStream answers one request with an ack or a rejection.
func (p *Peer) handleBidiStream(stream *quic.Stream) {
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(defaultRequestTimeout))

	msg, err := readEvent(stream)
	if err != nil {
		logger.Debug("bad request stream", "node", p.nodeID, "error", err)
		return
	}

	req, ok := msg.(wire.RequestEvent)
	if !ok {
		writeEvent(stream, wire.ErrorEvent{Reason: fmt.Sprintf("unexpected kind 0x%02x", byte(msg.Kind()))})
		return
	}

	h := p.node.eventHandler()
	if h == nil {
		writeEvent(stream, wire.ErrorEvent{Reason: "no handler"})
		return
	}

	ack, err := h.HandleRequest(p, req)
	if err != nil {
		writeEvent(stream, wire.ErrorEvent{Reason: err.Error()})
		return
	}

	writeEvent(stream, ack)
}

// handleUniStream reads, deduplicates and dispatches one event.
func (p *Peer) handleUniStream(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("stream read error", "node", p.nodeID, "error", err)
		return
	}

	if !p.node.dedup.Check(p.nodeID, data) {
		logger.Debug("duplicate dropped", "node", p.nodeID, "bytes", len(data))
		return
	}

	msg, err := wire.Decode(data)
	if err != nil {
		logger.Debug("undecodable event", "node", p.nodeID, "error", err)
		return
	}

	h := p.node.eventHandler()
	if h == nil {
		return
	}

	switch ev := msg.(type) {
	case wire.FaultEvent:
		h.HandleFault(p, ev)
	case wire.MeasurementEvent:
		h.HandleMeasurement(p, ev)
	case wire.VersionReportEvent:
		h.HandleVersionReport(p, ev)
	case wire.RequestEvent:
		h.HandleApply(p, ev)
	default:
		logger.Debug("ignored event", "node", p.nodeID, "kind", byte(msg.Kind()))
	}
}

// handleDisconnect reports the end of the connection once.
func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return
	}

	p.node.handlePeerDisconnect(p)
}
