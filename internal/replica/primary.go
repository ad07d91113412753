package replica

import (
	"fmt"
	"sync"

	"ReplicaMesh/internal/logger"
)

// RequestType is the kind of operation a request performs on the replicated object.
type RequestType uint8

const (
	Read RequestType = iota
	Update
	Delete
)

// String returns the lowercase request type name.
func (t RequestType) String() string {
	switch t {
	case Read:
		return "read"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseRequestType maps "read", "update" and "delete" to a RequestType.
func ParseRequestType(s string) (RequestType, error) {
	switch s {
	case "read":
		return Read, nil
	case "update":
		return Update, nil
	case "delete":
		return Delete, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRequest, s)
	}
}

// Request is an operation submitted by a node against the replicated object.
type Request struct {
	Type     RequestType
	NodeID   string // NodeID is the requesting node
	NodeAddr string // NodeAddr is where the reply goes
	Version  Version
}

// PrimaryHolder is the root of the replication tree. It assigns versions and
// serializes requests through a FIFO queue drained by a single dispatcher.
// Thread-safe: registration and retrieval are guarded by qmu.
type PrimaryHolder struct {
	*InternalHolder

	latest        Version
	recentDeleted Version
	autoDelete    bool
	queue         []Request
	qmu           sync.Mutex
}

// NewPrimaryHolder creates a primary for nodeID with an empty queue.
func NewPrimaryHolder(nodeID string) *PrimaryHolder {
	return &PrimaryHolder{InternalHolder: NewInternalHolder(nodeID)}
}

// SetAutoDelete enables or disables trimming old versions on read traffic.
func (p *PrimaryHolder) SetAutoDelete(enabled bool) {
	p.qmu.Lock()
	p.autoDelete = enabled
	p.qmu.Unlock()
}

// AutoDelete reports whether read-triggered trimming is enabled.
func (p *PrimaryHolder) AutoDelete() bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	return p.autoDelete
}

// RegisterNewRequest stamps and enqueues req and returns the stamped copy.
// Reads get the latest version, updates get a new one. Deletes are rejected
// with ErrInvalidVersion when no known holder has the version.
func (p *PrimaryHolder) RegisterNewRequest(req Request) (Request, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	switch req.Type {
	case Read:
		req.Version = p.latest

	case Update:
		p.latest++
		req.Version = p.latest

	case Delete:
		if p.CountVersion(req.Version) == 0 {
			return req, fmt.Errorf("%w: %d has no holders", ErrInvalidVersion, req.Version)
		}

	default:
		return req, fmt.Errorf("%w: %d", ErrInvalidRequest, uint8(req.Type))
	}

	p.queue = append(p.queue, req)

	logger.Debug("request registered",
		"type", req.Type.String(),
		"node", req.NodeID,
		"version", req.Version,
		"pending", len(p.queue),
	)

	return req, nil
}

// RetrieveNextRequest pops the oldest request. Callers should check
// HasNextRequest first; an empty queue yields ErrQueueEmpty.
//
// With auto-delete on, popping a read newer than the last trimmed version
// enqueues a delete of the next version to trim, one per call.
func (p *PrimaryHolder) RetrieveNextRequest() (Request, error) {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	if len(p.queue) == 0 {
		return Request{}, ErrQueueEmpty
	}

	next := p.queue[0]
	p.queue[0] = Request{}
	p.queue = p.queue[1:]

	if p.autoDelete && next.Type == Read && next.Version > p.recentDeleted {
		p.recentDeleted++
		p.queue = append(p.queue, Request{
			Type:    Delete,
			NodeID:  p.NodeID(),
			Version: p.recentDeleted,
		})

		logger.Debug("auto delete scheduled", "version", p.recentDeleted)
	}

	return next, nil
}

// HasNextRequest reports whether the queue is non-empty.
func (p *PrimaryHolder) HasNextRequest() bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	return len(p.queue) > 0
}

// PendingRequests returns a copy of the queue, oldest first.
func (p *PrimaryHolder) PendingRequests() []Request {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	return append([]Request(nil), p.queue...)
}

// LatestVersion returns the version assigned to the most recent update.
func (p *PrimaryHolder) LatestVersion() Version {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	return p.latest
}

// RecentDeletedVersion returns the highest version trimmed by auto-delete.
func (p *PrimaryHolder) RecentDeletedVersion() Version {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	return p.recentDeleted
}

// restore sets counters and queue, used when loading a snapshot.
func (p *PrimaryHolder) restore(latest, recentDeleted Version, autoDelete bool, queue []Request) {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	p.latest = latest
	p.recentDeleted = recentDeleted
	p.autoDelete = autoDelete
	p.queue = append([]Request(nil), queue...)
}

// RestoreCounters raises the version counters to the persisted values.
// Counters never move backwards.
func (p *PrimaryHolder) RestoreCounters(latest, recentDeleted Version) {
	p.qmu.Lock()
	defer p.qmu.Unlock()

	p.latest = max(p.latest, latest)
	p.recentDeleted = max(p.recentDeleted, recentDeleted)
}

// Reset drops descriptors, children, counters and pending requests.
// The auto-delete setting is kept.
func (p *PrimaryHolder) Reset() {
	p.InternalHolder.Reset()

	p.qmu.Lock()
	p.latest = 0
	p.recentDeleted = 0
	p.queue = nil
	p.qmu.Unlock()
}
