package main

import (
	"errors"
	"runtime"
	"time"

	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/wire"
)

const (
	// dispatchInterval is how often the primary drains its queue.
	dispatchInterval = 20 * time.Millisecond
)

// dispatchLoop is the single consumer of the primary's queue.
func (n *Node) dispatchLoop() {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.drainQueue()
		}
	}
}

// drainQueue dispatches every pending request in order.
func (n *Node) drainQueue() {
	for n.primary.HasNextRequest() {
		req, err := n.primary.RetrieveNextRequest()
		if errors.Is(err, replica.ErrQueueEmpty) {
			return
		}

		if err != nil {
			logger.Error("retrieve request", "error", err)
			return
		}

		n.dispatch(req)
		n.queue.saveCounters()
	}
}

// dispatch routes one stamped request.
func (n *Node) dispatch(req replica.Request) {
	start := time.Now()

	switch req.Type {
	case replica.Update:
		n.dispatchUpdate(req)
	case replica.Delete:
		n.deleteVersion(req.Version)
		n.pushDelete(req)
	case replica.Read:
		n.dispatchRead(req)
	}

	logger.Debug("request dispatched",
		"type", req.Type.String(),
		"version", req.Version,
		logger.Timed(start),
	)
}

// dispatchUpdate sends a new version to the best admitted nodes. When none
// can take it the primary keeps the copy.
func (n *Node) dispatchUpdate(req replica.Request) {
	targets, err := n.router.Select(n.cfg.Replication)
	if err != nil {
		logger.Warn("no holder admitted, keeping version", "version", req.Version, "error", err)
		n.storeVersion(req.Version)
		return
	}

	sent := 0
	for _, ns := range targets {
		if !n.push(ns.NodeID, req) {
			continue
		}

		n.adjustChild(n.primary.InternalHolder, ns.NodeID, req.Version, func(c uint64) uint64 { return c + 1 })
		sent++
	}

	if sent == 0 {
		logger.Warn("update not delivered, keeping version", "version", req.Version)
		n.storeVersion(req.Version)
	}
}

// dispatchRead serves a read locally or sends it to the best holder.
func (n *Node) dispatchRead(req replica.Request) {
	if req.Version == 0 {
		logger.Info("read before any update", "node", req.NodeID)
		return
	}

	n.serveRead(req)
}

// reportLoop periodically reports versions up the tree and publishes a
// load sample to every peer.
func (n *Node) reportLoop() {
	ticker := time.NewTicker(n.cfg.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.reportUp()
			n.publishMeasurement()
		}
	}
}

// reportUp sends this holder's availability to the parent.
func (n *Node) reportUp() {
	p := n.parent()
	if p == nil {
		return
	}

	ev := wire.VersionReportEvent{NodeID: n.cfg.NodeID, Available: n.holder.Availability()}
	if err := p.Send(ev); err != nil {
		logger.Debug("version report failed", "parent", p.NodeID(), "error", err)
	}
}

// publishMeasurement broadcasts this node's load sample.
func (n *Node) publishMeasurement() {
	ev := wire.MeasurementEvent{NodeID: n.cfg.NodeID, Values: n.sampleLoad()}
	if err := n.network.Broadcast(ev); err != nil {
		logger.Debug("measurement broadcast failed", "error", err)
	}
}

// sampleLoad returns [1, held versions, goroutines/100]. The constant
// component lets a coefficient set the base score of a reachable node.
func (n *Node) sampleLoad() []float64 {
	return []float64{
		1,
		float64(len(n.holder.Versions())),
		float64(runtime.NumGoroutine()) / 100,
	}
}

// snapshotLoop periodically checkpoints the tree.
func (n *Node) snapshotLoop() {
	ticker := time.NewTicker(n.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.saveSnapshot()
		}
	}
}

// saveSnapshot writes the current tree to the ledger.
func (n *Node) saveSnapshot() {
	data := replica.ExportSnapshot(n.tree)

	if err := n.ledger.SaveSnapshot(data); err != nil {
		logger.Error("save snapshot", "error", err)
		return
	}

	logger.Debug("snapshot saved", "bytes", len(data))
}
