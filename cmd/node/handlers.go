package main

import (
	"context"
	"errors"
	"time"

	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/network"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/storage"
	"ReplicaMesh/internal/wire"
)

const (
	// forwardTimeout bounds a request relayed to the parent.
	forwardTimeout = 10 * time.Second
)

// errNoParent is returned when a request must be forwarded but the parent
// is not connected.
var errNoParent = errors.New("parent not connected")

// HandleRequest stamps a submitted request on the primary and forwards it
// to the parent everywhere else.
func (n *Node) HandleRequest(from *network.Peer, ev wire.RequestEvent) (wire.AckEvent, error) {
	if n.queue != nil {
		req, err := n.queue.RegisterNewRequest(ev.Request)
		if err != nil {
			return wire.AckEvent{}, err
		}

		return wire.AckEvent{Request: req}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	req, err := n.Forward(ctx, ev.Request)
	if err != nil {
		return wire.AckEvent{}, err
	}

	return wire.AckEvent{Request: req}, nil
}

// Forward relays req to the parent and returns the stamped request.
func (n *Node) Forward(ctx context.Context, req replica.Request) (replica.Request, error) {
	p := n.parent()
	if p == nil {
		return replica.Request{}, errNoParent
	}

	return p.Request(ctx, req)
}

// HandleApply executes a stamped request pushed down by the parent.
func (n *Node) HandleApply(from *network.Peer, ev wire.RequestEvent) {
	if n.primary != nil {
		logger.Warn("primary ignored pushed request", "from", from.NodeID())
		return
	}

	req := ev.Request

	switch req.Type {
	case replica.Update:
		n.storeVersion(req.Version)
	case replica.Delete:
		n.deleteVersion(req.Version)
		n.pushDelete(req)
	case replica.Read:
		n.serveRead(req)
	}

	n.reportUp()
}

// HandleFault applies a breaker trip another node observed.
func (n *Node) HandleFault(from *network.Peer, ev wire.FaultEvent) {
	if ev.NodeID == n.cfg.NodeID {
		return
	}

	if _, err := n.router.ApplyFault(ev.NodeID, ev.Fault); err != nil {
		logger.Debug("fault for unknown node", "node", ev.NodeID, "from", from.NodeID())
	}
}

// HandleMeasurement feeds a peer's performance sample to its predictor.
func (n *Node) HandleMeasurement(from *network.Peer, ev wire.MeasurementEvent) {
	if _, err := n.router.ReportMeasurement(ev.NodeID, ev.Values); err != nil {
		logger.Debug("measurement dropped", "node", ev.NodeID, "error", err)
	}
}

// HandleVersionReport records a child's availability counts.
func (n *Node) HandleVersionReport(from *network.Peer, ev wire.VersionReportEvent) {
	in, err := n.tree.Internal(n.cfg.NodeID)
	if err != nil {
		logger.Debug("report sent to a leaf", "from", ev.NodeID)
		return
	}

	if _, err := in.Child(ev.NodeID); errors.Is(err, replica.ErrNotFound) {
		in.SetChild(replica.ChildDesc{NodeID: ev.NodeID, Addr: from.Address(), Available: ev.Available})
		logger.Info("child joined", "child", ev.NodeID, "addr", from.Address())
	} else if err := in.ReportChildVersions(ev.NodeID, ev.Available); err != nil {
		logger.Warn("child report rejected", "child", ev.NodeID, "error", err)
		return
	}

	n.persistChild(in, ev.NodeID)
}

// persistChild writes the current descriptor of a child to the ledger.
func (n *Node) persistChild(in *replica.InternalHolder, childID string) {
	desc, err := in.Child(childID)
	if err != nil {
		return
	}

	if err := n.ledger.SaveChildReport(n.cfg.NodeID, desc); err != nil {
		logger.Error("persist child report", "child", childID, "error", err)
	}
}

// storeVersion records a local copy of v.
func (n *Node) storeVersion(v replica.Version) {
	d := replica.Descriptor{CreatedAt: time.Now(), ReplicaID: n.cfg.NodeID, Version: v}
	n.holder.SetDescriptor(v, d)

	if err := n.ledger.SaveDescriptorVersion(n.cfg.NodeID, d); err != nil {
		logger.Error("persist version", "version", v, "error", err)
	}

	logger.Debug("version stored", "version", v)
}

// deleteVersion drops the local copy of v if there is one.
func (n *Node) deleteVersion(v replica.Version) {
	if err := n.holder.DeleteDescriptor(v); err != nil {
		return
	}

	if err := n.ledger.DeleteDescriptorVersion(n.cfg.NodeID, v); err != nil {
		logger.Error("unpersist version", "version", v, "error", err)
	}

	logger.Debug("version deleted", "version", v)
}

// serveRead answers a read from the local copy or passes it to a child
// whose branch holds the version.
func (n *Node) serveRead(req replica.Request) {
	if n.holder.ContainsVersion(req.Version) {
		logger.Info("serving read", "version", req.Version, "node", req.NodeID, "reply", req.NodeAddr)
		return
	}

	in, err := n.tree.Internal(n.cfg.NodeID)
	if err != nil {
		logger.Warn("read for missing version", "version", req.Version)
		return
	}

	target := n.bestOf(in.BranchContainsVersion(req.Version))
	if target == "" || !n.push(target, req) {
		logger.Warn("read for missing version", "version", req.Version)
	}
}

// pushDelete sends a delete to every child whose branch holds the version
// and clears their count until they report again.
func (n *Node) pushDelete(req replica.Request) {
	in, err := n.tree.Internal(n.cfg.NodeID)
	if err != nil {
		return
	}

	for _, id := range in.BranchContainsVersion(req.Version) {
		if !n.push(id, req) {
			continue
		}

		n.adjustChild(in, id, req.Version, func(uint64) uint64 { return 0 })
	}
}

// push sends req one-way to a connected peer.
func (n *Node) push(nodeID string, req replica.Request) bool {
	p := n.peer(nodeID)
	if p == nil {
		return false
	}

	if err := p.Send(wire.RequestEvent{Request: req}); err != nil {
		logger.Warn("push failed", "node", nodeID, "type", req.Type.String(), "error", err)
		return false
	}

	return true
}

// adjustChild rewrites the count a child has for v. Missing children are
// added with the address the router knows.
func (n *Node) adjustChild(in *replica.InternalHolder, childID string, v replica.Version, fn func(uint64) uint64) {
	desc, err := in.Child(childID)
	if errors.Is(err, replica.ErrNotFound) {
		addr, _ := n.router.Addr(childID)
		desc = replica.ChildDesc{NodeID: childID, Addr: addr, Available: map[replica.Version]uint64{}}
	}

	if count := fn(desc.Available[v]); count > 0 {
		desc.Available[v] = count
	} else {
		delete(desc.Available, v)
	}

	in.SetChild(desc)
	n.persistChild(in, childID)
}

// bestOf returns the best ranked admitted node among candidates, or "".
func (n *Node) bestOf(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	want := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		want[id] = true
	}

	ranked, err := n.router.Select(n.router.Balancer().Len())
	if err != nil {
		return ""
	}

	for _, ns := range ranked {
		if want[ns.NodeID] {
			return ns.NodeID
		}
	}

	return ""
}

// faultGate admits calls through the breakers and shares trips with peers.
type faultGate struct {
	n *Node
}

func (g *faultGate) IsAllowed(nodeID string) bool {
	return g.n.breakers.IsAllowed(nodeID)
}

func (g *faultGate) RegisterFault(nodeID string, score uint64) bool {
	ok, err := g.n.router.ReportFault(nodeID, score)
	if err != nil {
		return false
	}

	if !ok {
		go g.n.shareTrip(nodeID, breaker.Fault{At: time.Now(), Score: score})
	}

	return ok
}

// shareTrip tells every other peer that nodeID's breaker opened here.
func (n *Node) shareTrip(nodeID string, f breaker.Fault) {
	ev := wire.FaultEvent{NodeID: nodeID, Fault: f}

	for _, p := range n.network.Peers() {
		if p.NodeID() == nodeID {
			continue
		}

		if err := p.Send(ev); err != nil {
			logger.Debug("fault share failed", "to", p.NodeID(), "error", err)
		}
	}
}

// persistentQueue saves the primary's counters after each registration.
type persistentQueue struct {
	*replica.PrimaryHolder
	ledger *storage.Ledger
}

// RegisterNewRequest stamps req and persists the counters before returning.
func (q *persistentQueue) RegisterNewRequest(req replica.Request) (replica.Request, error) {
	stamped, err := q.PrimaryHolder.RegisterNewRequest(req)
	if err != nil {
		return stamped, err
	}

	q.saveCounters()

	return stamped, nil
}

// saveCounters writes the version counters to the ledger.
func (q *persistentQueue) saveCounters() {
	err := q.ledger.SavePrimaryCounters(q.LatestVersion(), q.RecentDeletedVersion())
	if err != nil {
		logger.Error("persist counters", "error", err)
	}
}
