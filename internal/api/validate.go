package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"ReplicaMesh/internal/replica"
)

const (
	// maxIDLength is the maximum node id length in bytes.
	maxIDLength = 256
)

// requestJSON is the JSON form of a replica request.
type requestJSON struct {
	Type     string `json:"type"`
	NodeID   string `json:"node_id"`
	NodeAddr string `json:"node_addr,omitempty"`
	Version  uint64 `json:"version"`
}

func toJSON(req replica.Request) requestJSON {
	return requestJSON{
		Type:     req.Type.String(),
		NodeID:   req.NodeID,
		NodeAddr: req.NodeAddr,
		Version:  req.Version,
	}
}

// decodeRequest parses and validates a submitted request body.
func decodeRequest(body []byte) (replica.Request, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return replica.Request{}, fmt.Errorf("empty request")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var in requestJSON
	if err := dec.Decode(&in); err != nil {
		return replica.Request{}, fmt.Errorf("invalid json: %v", err)
	}

	t, err := replica.ParseRequestType(in.Type)
	if err != nil {
		return replica.Request{}, err
	}

	if err := validateNodeID(in.NodeID); err != nil {
		return replica.Request{}, err
	}

	if err := validateAddr(in.NodeAddr); err != nil {
		return replica.Request{}, err
	}

	if t == replica.Delete && in.Version == 0 {
		return replica.Request{}, fmt.Errorf("delete needs a version")
	}

	req := replica.Request{Type: t, NodeID: in.NodeID, NodeAddr: in.NodeAddr}

	// the primary stamps reads and updates
	if t == replica.Delete {
		req.Version = in.Version
	}

	return req, nil
}

// validateNodeID checks the id is usable as a ledger key.
func validateNodeID(id string) error {
	if id == "" {
		return fmt.Errorf("missing node_id")
	}

	if len(id) > maxIDLength {
		return fmt.Errorf("node_id too long: %d (max %d)", len(id), maxIDLength)
	}

	if strings.ContainsRune(id, 0) {
		return fmt.Errorf("node_id contains NUL")
	}

	return nil
}

// validateAddr accepts an empty address or a host:port pair.
func validateAddr(addr string) error {
	if addr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid node_addr: %v", err)
	}

	return nil
}
