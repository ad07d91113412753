// Package client talks to a ReplicaMesh node over its HTTP API.
package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client connects to a ReplicaMesh node via HTTP.
type Client struct {
	nodeAddr string       // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	http     *http.Client // http carries every call
}

// Request is a replica request as the API encodes it.
type Request struct {
	Type     string `json:"type"`                // Type is read, update or delete
	NodeID   string `json:"node_id"`             // NodeID is the requesting node
	NodeAddr string `json:"node_addr,omitempty"` // NodeAddr is where the reply goes
	Version  uint64 `json:"version"`             // Version is stamped by the primary
}

// Status is the primary's version bookkeeping.
type Status struct {
	Latest        uint64    `json:"latestVersion"`
	RecentDeleted uint64    `json:"recentDeletedVersion"`
	Pending       []Request `json:"pending"`
}

// NodeInfo is one ranked, admitted node.
type NodeInfo struct {
	NodeID string  `json:"node_id"`
	Addr   string  `json:"addr"`
	Score  float64 `json:"score"`
}

// BreakerInfo is the breaker state of one node.
type BreakerInfo struct {
	NodeID     string `json:"node_id"`
	State      string `json:"state"`
	Banned     bool   `json:"banned"`
	FaultTotal uint64 `json:"fault_total"`
}

// HolderInfo is what a node knows about one tree member.
type HolderInfo struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Versions  []uint64          `json:"versions"`
	Available map[string]uint64 `json:"available"` // Available maps a decimal version to its count
}

// Count returns the availability count of version v.
func (h *HolderInfo) Count(v uint64) uint64 {
	return h.Available[strconv.FormatUint(v, 10)]
}

// New creates a client for the node at nodeAddr.
func New(nodeAddr string) *Client {
	return &Client{
		nodeAddr: nodeAddr,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Addr returns the node address.
func (c *Client) Addr() string {
	return c.nodeAddr
}

// Health checks that the node answers.
func (c *Client) Health() error {
	var resp map[string]string
	if err := c.get("/health", &resp); err != nil {
		return err
	}

	if resp["status"] != "ok" {
		return fmt.Errorf("unhealthy: %q", resp["status"])
	}

	return nil
}

// Submit sends a request and returns it as stamped by the primary.
func (c *Client) Submit(req Request) (Request, error) {
	var stamped Request
	if err := c.post("/requests", req, &stamped); err != nil {
		return Request{}, err
	}

	return stamped, nil
}

// Update asks for a new version on behalf of nodeID.
func (c *Client) Update(nodeID, nodeAddr string) (Request, error) {
	return c.Submit(Request{Type: "update", NodeID: nodeID, NodeAddr: nodeAddr})
}

// Read asks for the latest version on behalf of nodeID.
func (c *Client) Read(nodeID, nodeAddr string) (Request, error) {
	return c.Submit(Request{Type: "read", NodeID: nodeID, NodeAddr: nodeAddr})
}

// Delete asks for version to be removed on behalf of nodeID.
func (c *Client) Delete(nodeID string, version uint64) (Request, error) {
	return c.Submit(Request{Type: "delete", NodeID: nodeID, Version: version})
}

// Status queries the primary's counters and queue.
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := c.get("/status", &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// Nodes returns up to k admitted nodes, best first.
func (c *Client) Nodes(k int) ([]NodeInfo, error) {
	var nodes []NodeInfo
	if err := c.get("/nodes?k="+strconv.Itoa(k), &nodes); err != nil {
		return nil, err
	}

	return nodes, nil
}

// Breakers returns the breaker state of every known node.
func (c *Client) Breakers() ([]BreakerInfo, error) {
	var breakers []BreakerInfo
	if err := c.get("/breakers", &breakers); err != nil {
		return nil, err
	}

	return breakers, nil
}

// Holder returns the node's view of tree member id.
func (c *Client) Holder(id string) (*HolderInfo, error) {
	var info HolderInfo
	if err := c.get("/holders/"+url.PathEscape(id), &info); err != nil {
		return nil, err
	}

	return &info, nil
}
