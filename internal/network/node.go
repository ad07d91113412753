// Package network connects replica holders over QUIC. Peers are identified
// by the node id they announce in a hello, and outbound calls pass through
// an optional admission gate.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/wire"
)

const (
	// defaultReconnectDelay is the default delay between reconnection attempts.
	defaultReconnectDelay = 5 * time.Second

	// maxReconnectDelay is the maximum delay between reconnection attempts.
	maxReconnectDelay = 60 * time.Second

	// handshakeTimeout bounds the hello exchange on a new connection.
	handshakeTimeout = 5 * time.Second

	// defaultFaultScore is reported to the gate for each failed call.
	defaultFaultScore = 250_000

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "replicamesh/1"
)

// Gate decides whether a node may be called and learns about failed calls.
// breaker.Registry satisfies it.
type Gate interface {
	IsAllowed(nodeID string) bool
	RegisterFault(nodeID string, score uint64) bool
}

// EventHandler receives decoded inbound events.
type EventHandler interface {
	// HandleRequest processes a request and returns the stamped request sent
	// back as an ack. An error is sent back as a rejection.
	HandleRequest(from *Peer, req wire.RequestEvent) (wire.AckEvent, error)
	// HandleApply processes a request pushed one-way by an upstream node.
	HandleApply(from *Peer, req wire.RequestEvent)
	HandleFault(from *Peer, ev wire.FaultEvent)
	HandleMeasurement(from *Peer, ev wire.MeasurementEvent)
	HandleVersionReport(from *Peer, ev wire.VersionReportEvent)
}

// Config holds the configuration for a Node.
type Config struct {
	NodeID         string             // NodeID is announced to every peer
	ListenAddr     string             // ListenAddr is the address to listen on (e.g., ":9000")
	AdvertiseAddr  string             // AdvertiseAddr is where peers reconnect; defaults to the listener address
	PrivateKey     ed25519.PrivateKey // PrivateKey secures the transport; generated when nil
	ReconnectDelay time.Duration      // ReconnectDelay is the initial delay between reconnection attempts
	Gate           Gate               // Gate admits outbound calls; nil admits everything
	FaultScore     uint64             // FaultScore is reported to Gate per failed call
	DedupTTL       time.Duration      // DedupTTL is how long a delivered message is remembered
}

// Node accepts and initiates connections and dispatches inbound events.
type Node struct {
	nodeID     string
	advertise  string
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config
	gate       Gate
	faultScore uint64

	listener *quic.Listener

	peers   map[string]*Peer // peers maps node id to peer
	peersMu sync.RWMutex

	knownAddrs   map[string]string // knownAddrs maps node id to its advertised address
	knownAddrsMu sync.RWMutex

	reconnectDelay time.Duration

	dedup *Dedup

	handler      EventHandler
	onConnect    func(*Peer)
	onDisconnect func(*Peer)
	handlersMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a new network node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}

	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}

	privateKey := cfg.PrivateKey
	if privateKey == nil {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		privateKey = priv
	}

	cert, err := generateCertificate(privateKey, cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == 0 {
		reconnectDelay = defaultReconnectDelay
	}

	faultScore := cfg.FaultScore
	if faultScore == 0 {
		faultScore = defaultFaultScore
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // peers are identified by their hello
		NextProtos:         []string{alpnProtocol},
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		nodeID:         cfg.NodeID,
		advertise:      cfg.AdvertiseAddr,
		listenAddr:     cfg.ListenAddr,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		gate:           cfg.Gate,
		faultScore:     faultScore,
		peers:          make(map[string]*Peer),
		knownAddrs:     make(map[string]string),
		reconnectDelay: reconnectDelay,
		dedup:          NewDedup(cfg.DedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// NodeID returns the id this node announces.
func (n *Node) NodeID() string {
	return n.nodeID
}

// Addr returns the listener's address. Returns empty string if not started.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// advertised returns the address peers should reconnect to.
func (n *Node) advertised() string {
	if n.advertise != "" {
		return n.advertise
	}

	return n.Addr()
}

// Start starts the node and begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	logger.Info("network listening", "node", n.nodeID, "addr", n.Addr())

	return nil
}

// Connect dials addr, exchanges hellos and returns the resulting peer.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	hello, err := n.dialHandshake(conn)
	if err != nil {
		conn.CloseWithError(1, "handshake failed")
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}

	if hello.Addr == "" {
		hello.Addr = addr
	}

	peer, err := n.setupPeer(conn, hello)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	n.callOnConnect(peer)

	return peer, nil
}

// dialHandshake sends our hello first and waits for the remote one.
func (n *Node) dialHandshake(conn *quic.Conn) (wire.Hello, error) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return wire.Hello{}, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(handshakeTimeout))

	if err := writeEvent(stream, wire.Hello{NodeID: n.nodeID, Addr: n.advertised()}); err != nil {
		return wire.Hello{}, err
	}

	return readHello(stream)
}

// acceptHandshake reads the remote hello and answers with ours.
func (n *Node) acceptHandshake(conn *quic.Conn) (wire.Hello, error) {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return wire.Hello{}, fmt.Errorf("accept stream: %w", err)
	}
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(handshakeTimeout))

	hello, err := readHello(stream)
	if err != nil {
		return wire.Hello{}, err
	}

	if err := writeEvent(stream, wire.Hello{NodeID: n.nodeID, Addr: n.advertised()}); err != nil {
		return wire.Hello{}, err
	}

	return hello, nil
}

// Broadcast sends msg to every connected peer the gate admits.
// It returns the last error encountered.
func (n *Node) Broadcast(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	var lastErr error

	for _, p := range n.Peers() {
		if err := p.sendRaw(data); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Peers returns the connected peers ordered by node id.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.peersMu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].nodeID < peers[j].nodeID })

	return peers
}

// Peer returns the connected peer announcing nodeID, or nil.
func (n *Node) Peer(nodeID string) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[nodeID]
}

// SetHandler sets the receiver of inbound events.
func (n *Node) SetHandler(h EventHandler) {
	n.handlersMu.Lock()
	n.handler = h
	n.handlersMu.Unlock()
}

// OnConnect sets the function called when a peer completes its handshake.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnDisconnect sets the function called when a peer disconnects.
func (n *Node) OnDisconnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onDisconnect = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	n.dedup.Close()
	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return // Listener closed
		}

		go n.handleIncoming(conn)
	}
}

// handleIncoming runs the handshake for an inbound connection.
func (n *Node) handleIncoming(conn *quic.Conn) {
	hello, err := n.acceptHandshake(conn)
	if err != nil {
		logger.Debug("inbound handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.CloseWithError(1, "handshake failed")
		return
	}

	peer, err := n.setupPeer(conn, hello)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return
	}

	n.callOnConnect(peer)
}

// setupPeer registers a peer for an established connection. An existing
// connection to the same node id is replaced without triggering a reconnect.
func (n *Node) setupPeer(conn *quic.Conn, hello wire.Hello) (*Peer, error) {
	pubKey, _, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("peer identity: %w", err)
	}

	if hello.NodeID == n.nodeID {
		return nil, fmt.Errorf("connected to self")
	}

	peer := &Peer{
		nodeID:    hello.NodeID,
		publicKey: pubKey,
		address:   hello.Addr,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	old := n.peers[peer.nodeID]
	n.peers[peer.nodeID] = peer
	n.peersMu.Unlock()

	if old != nil {
		old.closed.Store(true)
		old.conn.CloseWithError(0, "replaced")
	}

	if hello.Addr != "" {
		n.knownAddrsMu.Lock()
		n.knownAddrs[peer.nodeID] = hello.Addr
		n.knownAddrsMu.Unlock()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	logger.Debug("peer connected", "node", peer.nodeID, "addr", peer.address)

	return peer, nil
}

// handlePeerDisconnect removes p and schedules a reconnection.
func (n *Node) handlePeerDisconnect(p *Peer) {
	n.peersMu.Lock()
	if n.peers[p.nodeID] == p {
		delete(n.peers, p.nodeID)
	}
	n.peersMu.Unlock()

	n.callOnDisconnect(p)

	if n.ctx.Err() != nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.reconnectPeer(p.nodeID)
	}()
}

// reconnectPeer redials nodeID with exponential backoff until it is back.
func (n *Node) reconnectPeer(nodeID string) {
	delay := n.reconnectDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.knownAddrsMu.RLock()
		addr, ok := n.knownAddrs[nodeID]
		n.knownAddrsMu.RUnlock()

		if !ok {
			return
		}

		if n.Peer(nodeID) != nil {
			return // the remote side reconnected first
		}

		if _, err := n.Connect(addr); err == nil {
			return
		}

		logger.Debug("reconnect failed", "node", nodeID, "addr", addr, "retry", delay*2)

		delay = min(delay*2, maxReconnectDelay)
	}
}

// Forget stops reconnecting to nodeID and closes any live connection.
func (n *Node) Forget(nodeID string) {
	n.knownAddrsMu.Lock()
	delete(n.knownAddrs, nodeID)
	n.knownAddrsMu.Unlock()

	n.peersMu.Lock()
	p := n.peers[nodeID]
	delete(n.peers, nodeID)
	n.peersMu.Unlock()

	if p != nil {
		p.Close()
	}
}

func (n *Node) eventHandler() EventHandler {
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()

	return n.handler
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnDisconnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onDisconnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}
