package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"ReplicaMesh/internal/api"
	"ReplicaMesh/internal/balancer"
	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/network"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/router"
	"ReplicaMesh/internal/storage"
)

const (
	// maxConnectDelay caps the backoff between initial connection attempts.
	maxConnectDelay = 30 * time.Second

	// recoveryProbeInterval is how often an open breaker is checked for readmission.
	recoveryProbeInterval = time.Second
)

// Node represents a running ReplicaMesh node.
type Node struct {
	cfg      *Config
	ledger   *storage.Ledger
	tree     *replica.Tree
	holder   replica.Holder         // holder is this node's own tree member
	primary  *replica.PrimaryHolder // primary is set when the role is primary
	queue    *persistentQueue       // queue wraps primary and persists counters
	breakers *breaker.Registry
	router   *router.Router
	network  *network.Node
	api      *api.Server

	parentID string // parentID is the node id announced by the parent
	parentMu sync.RWMutex

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewNode creates and initializes a new node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg, stop: make(chan struct{})}

	if err := n.initStorage(); err != nil {
		return nil, err
	}

	if err := n.initTree(); err != nil {
		n.Close()
		return nil, err
	}

	n.initRouting()

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	n.initAPI()

	return n, nil
}

// initStorage opens the version ledger.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	ledger, err := storage.Open(filepath.Join(n.cfg.DataPath, "ledger"))
	if err != nil {
		return fmt.Errorf("init storage:\n%w", err)
	}

	n.ledger = ledger

	return nil
}

// initTree rebuilds the tree from the last snapshot, adds this node's holder
// if missing and overlays the ledger, which is newer than any snapshot.
func (n *Node) initTree() error {
	tree, err := n.loadSnapshot()
	if err != nil {
		return err
	}

	holder, kind, err := tree.Holder(n.cfg.NodeID)
	if errors.Is(err, replica.ErrNotFound) {
		holder, err = addHolder(tree, n.cfg.NodeID, n.cfg.kind())
		kind = n.cfg.kind()
	}

	if err != nil {
		return fmt.Errorf("add holder:\n%w", err)
	}

	if kind != n.cfg.kind() {
		return fmt.Errorf("stored holder %s is %s, configured as %s", n.cfg.NodeID, kind, n.cfg.Role)
	}

	n.tree = tree
	n.holder = holder

	if kind == replica.KindPrimary {
		n.primary, err = tree.Primary()
		if err != nil {
			return fmt.Errorf("load primary:\n%w", err)
		}

		n.primary.SetAutoDelete(n.cfg.AutoDelete)
		n.queue = &persistentQueue{PrimaryHolder: n.primary, ledger: n.ledger}
	}

	return n.restoreLedger()
}

// loadSnapshot imports the stored snapshot or returns an empty tree.
func (n *Node) loadSnapshot() (*replica.Tree, error) {
	data, err := n.ledger.LoadSnapshot()
	if err != nil {
		return nil, fmt.Errorf("load snapshot:\n%w", err)
	}

	if data == nil {
		return replica.NewTree(), nil
	}

	tree, err := replica.ImportSnapshot(data)
	if err != nil {
		logger.Warn("discarding unreadable snapshot", "error", err)
		return replica.NewTree(), nil
	}

	logger.Info("snapshot restored", "holders", len(tree.IDs()))

	return tree, nil
}

// addHolder creates the holder for id with the given kind.
func addHolder(tree *replica.Tree, id string, kind replica.Kind) (replica.Holder, error) {
	switch kind {
	case replica.KindPrimary:
		return tree.SetPrimary(id)
	case replica.KindInternal:
		return tree.AddInternal(id)
	default:
		return tree.AddLeaf(id)
	}
}

// restoreLedger loads persisted versions, child reports and counters.
func (n *Node) restoreLedger() error {
	id := n.cfg.NodeID

	descs, err := n.ledger.LoadVersions(id)
	if err != nil {
		return fmt.Errorf("load versions:\n%w", err)
	}

	for _, d := range descs {
		n.holder.SetDescriptor(d.Version, d)
	}

	if in, err := n.tree.Internal(id); err == nil {
		children, err := n.ledger.LoadChildReports(id)
		if err != nil {
			return fmt.Errorf("load child reports:\n%w", err)
		}

		for _, c := range children {
			in.SetChild(c)
		}
	}

	if n.primary != nil {
		latest, recentDeleted, ok, err := n.ledger.LoadPrimaryCounters()
		if err != nil {
			return fmt.Errorf("load counters:\n%w", err)
		}

		if ok {
			n.primary.RestoreCounters(latest, recentDeleted)
		}
	}

	logger.Info("ledger restored", "holder", id, "versions", len(descs))

	return nil
}

// initRouting creates the breaker registry and the router.
func (n *Node) initRouting() {
	n.breakers = breaker.NewRegistry(breaker.Config{
		Threshold:    n.cfg.BreakerThreshold,
		ForgetWindow: n.cfg.ForgetWindow,
	})

	n.router = router.New(
		router.Config{Coefficients: n.cfg.Coefficients},
		balancer.NewLoadBalancer(),
		n.breakers,
	)
}

// initNetwork initializes the QUIC transport.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		NodeID:        n.cfg.NodeID,
		ListenAddr:    n.cfg.QUICAddress,
		AdvertiseAddr: n.cfg.AdvertiseAddr,
		PrivateKey:    n.cfg.PrivateKey,
		Gate:          &faultGate{n: n},
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	node.SetHandler(n)
	node.OnConnect(n.onPeerConnect)
	node.OnDisconnect(n.onPeerDisconnect)

	n.network = node

	return nil
}

// initAPI creates the HTTP server. The primary stamps requests itself,
// other nodes forward them to their parent.
func (n *Node) initAPI() {
	backends := api.Backends{
		Selector: n.router,
		Breakers: n.breakers,
		Holders:  n.tree,
	}

	if n.queue != nil {
		backends.Queue = n.queue
	} else {
		backends.Forwarder = n
	}

	n.api = api.New(n.cfg.HTTPAddress, backends)
}

// Run starts the node and blocks until shutdown signal.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		return fmt.Errorf("start network:\n%w", err)
	}

	if err := n.api.Start(); err != nil {
		return fmt.Errorf("start api:\n%w", err)
	}

	if n.cfg.ParentAddr != "" {
		n.goLoop(func() { n.connectWithRetry(n.cfg.ParentAddr, n.setParent) })
	}

	for _, addr := range n.cfg.Peers {
		addr := addr
		n.goLoop(func() { n.connectWithRetry(addr, nil) })
	}

	n.goLoop(n.recoveryLoop)
	n.goLoop(n.reportLoop)
	n.goLoop(n.snapshotLoop)

	if n.primary != nil {
		n.goLoop(n.dispatchLoop)
	}

	return n.waitForShutdown()
}

// goLoop runs fn in a goroutine tracked by Close.
func (n *Node) goLoop(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

// connectWithRetry dials addr until it succeeds or the node stops.
// Later reconnections are handled by the transport.
func (n *Node) connectWithRetry(addr string, onPeer func(*network.Peer)) {
	delay := time.Second

	for {
		peer, err := n.network.Connect(addr)
		if err == nil {
			if onPeer != nil {
				onPeer(peer)
			}
			return
		}

		logger.Warn("connect failed", "addr", addr, "error", err, "retry", delay)

		select {
		case <-n.stop:
			return
		case <-time.After(delay):
		}

		delay = min(delay*2, maxConnectDelay)
	}
}

// setParent records the parent's node id and reports to it at once.
func (n *Node) setParent(peer *network.Peer) {
	n.parentMu.Lock()
	n.parentID = peer.NodeID()
	n.parentMu.Unlock()

	logger.Info("parent connected", "parent", peer.NodeID(), "addr", peer.Address())

	n.reportUp()
}

// parent returns the connected parent peer or nil.
func (n *Node) parent() *network.Peer {
	n.parentMu.RLock()
	id := n.parentID
	n.parentMu.RUnlock()

	if id == "" {
		return nil
	}

	return n.peer(id)
}

// peer returns the connected peer for nodeID or nil.
func (n *Node) peer(nodeID string) *network.Peer {
	if n.network == nil {
		return nil
	}

	return n.network.Peer(nodeID)
}

// onPeerConnect makes a new peer routable.
func (n *Node) onPeerConnect(p *network.Peer) {
	n.router.Register(p.NodeID(), p.Address())
}

// onPeerDisconnect logs the loss; the breaker and transport handle the rest.
func (n *Node) onPeerDisconnect(p *network.Peer) {
	logger.Info("peer disconnected", "node", p.NodeID())
}

// recoveryLoop starts a probe for every breaker that opens.
func (n *Node) recoveryLoop() {
	for {
		select {
		case <-n.stop:
			return
		case nodeID := <-n.breakers.Recoveries():
			n.goLoop(func() { n.probeRecovery(nodeID) })
		}
	}
}

// probeRecovery waits for nodeID to be admitted, then sends a version report
// if it is the parent so the probe outcome settles the Half-Open breaker.
func (n *Node) probeRecovery(nodeID string) {
	ticker := time.NewTicker(recoveryProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
		}

		if !n.breakers.IsAllowed(nodeID) {
			continue
		}

		logger.Info("breaker probing", "node", nodeID)

		n.parentMu.RLock()
		isParent := nodeID == n.parentID
		n.parentMu.RUnlock()

		if isParent {
			n.reportUp()
		}

		return
	}
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	select {
	case <-n.stop:
		return nil
	default:
		close(n.stop)
	}

	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	n.wg.Wait()

	if n.tree != nil && n.ledger != nil {
		n.saveSnapshot()
	}

	if n.ledger != nil {
		n.ledger.Close()
	}

	return nil
}
