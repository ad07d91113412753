package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ReplicaMesh/internal/balancer"
	"ReplicaMesh/internal/breaker"
	"ReplicaMesh/internal/logger"
	"ReplicaMesh/internal/replica"
	"ReplicaMesh/internal/router"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 64 << 10

	// defaultSelectCount is used when /nodes has no k parameter.
	defaultSelectCount = 3

	// forwardTimeout bounds a request forwarded to the primary.
	forwardTimeout = 10 * time.Second
)

// Queue is the primary's request queue.
type Queue interface {
	RegisterNewRequest(req replica.Request) (replica.Request, error)
	LatestVersion() replica.Version
	RecentDeletedVersion() replica.Version
	PendingRequests() []replica.Request
}

// Forwarder submits a request to a remote primary.
type Forwarder interface {
	Forward(ctx context.Context, req replica.Request) (replica.Request, error)
}

// Selector ranks admitted nodes.
type Selector interface {
	Select(k int) ([]balancer.NodeScore, error)
	Addr(nodeID string) (string, error)
}

// BreakerLister reports breaker states.
type BreakerLister interface {
	States() []breaker.BreakerStatus
}

// HolderLookup resolves tree members by node id.
type HolderLookup interface {
	Holder(id string) (replica.Holder, replica.Kind, error)
}

// Backends groups what the server reads from. Nil fields disable the
// endpoints that need them.
type Backends struct {
	Queue     Queue         // Queue is set on the primary only
	Forwarder Forwarder     // Forwarder relays requests on non-primary nodes
	Selector  Selector      // Selector answers /nodes
	Breakers  BreakerLister // Breakers answers /breakers
	Holders   HolderLookup  // Holders answers /holders/{id}
}

// Server is the HTTP API server.
type Server struct {
	addr     string       // addr is the HTTP listen address
	backends Backends     // backends serve the endpoints
	server   *http.Server // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, backends Backends) *Server {
	return &Server{addr: addr, backends: backends}
}

// Handler returns the routed endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /nodes", s.handleNodes)
	mux.HandleFunc("GET /breakers", s.handleBreakers)
	mux.HandleFunc("GET /holders/{id}", s.handleHolder)
	mux.HandleFunc("POST /requests", s.handleSubmitRequest)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q := s.backends.Queue
	if q == nil {
		writeError(w, http.StatusServiceUnavailable, "not the primary")
		return
	}

	pending := q.PendingRequests()
	out := make([]requestJSON, len(pending))
	for i, req := range pending {
		out[i] = toJSON(req)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"latestVersion":        q.LatestVersion(),
		"recentDeletedVersion": q.RecentDeletedVersion(),
		"pending":              out,
	})
}

// nodeJSON is one entry of GET /nodes.
type nodeJSON struct {
	NodeID string  `json:"node_id"`
	Addr   string  `json:"addr"`
	Score  float64 `json:"score"`
}

// handleNodes handles GET /nodes?k= requests.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	sel := s.backends.Selector
	if sel == nil {
		writeError(w, http.StatusServiceUnavailable, "routing not available")
		return
	}

	k := defaultSelectCount
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "k must be a non-negative integer")
			return
		}
		k = n
	}

	scores, err := sel.Select(k)
	switch {
	case errors.Is(err, balancer.ErrEmptyRegistry):
		scores = nil
	case errors.Is(err, router.ErrNoAdmittedNode):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]nodeJSON, 0, len(scores))
	for _, ns := range scores {
		addr, _ := sel.Addr(ns.NodeID)
		out = append(out, nodeJSON{NodeID: ns.NodeID, Addr: addr, Score: ns.Score})
	}

	writeJSON(w, http.StatusOK, out)
}

// handleBreakers handles GET /breakers requests.
func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if s.backends.Breakers == nil {
		writeError(w, http.StatusServiceUnavailable, "breakers not available")
		return
	}

	writeJSON(w, http.StatusOK, s.backends.Breakers.States())
}

// handleHolder handles GET /holders/{id} requests.
func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	if s.backends.Holders == nil {
		writeError(w, http.StatusServiceUnavailable, "tree not available")
		return
	}

	h, kind, err := s.backends.Holders.Holder(r.PathValue("id"))
	if errors.Is(err, replica.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown holder")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	avail := make(map[string]uint64)
	for v, n := range h.Availability() {
		avail[strconv.FormatUint(v, 10)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        h.NodeID(),
		"kind":      kind.String(),
		"versions":  h.Versions(),
		"available": avail,
	})
}

// handleSubmitRequest handles POST /requests. The primary stamps the request
// locally; other nodes forward it.
func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	req, err := decodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var stamped replica.Request

	switch {
	case s.backends.Queue != nil:
		stamped, err = s.backends.Queue.RegisterNewRequest(req)

	case s.backends.Forwarder != nil:
		ctx, cancel := context.WithTimeout(r.Context(), forwardTimeout)
		stamped, err = s.backends.Forwarder.Forward(ctx, req)
		cancel()

	default:
		writeError(w, http.StatusServiceUnavailable, "no primary reachable")
		return
	}

	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	logger.Debug("request accepted",
		"type", stamped.Type.String(),
		"node", stamped.NodeID,
		"version", stamped.Version,
	)

	writeJSON(w, http.StatusAccepted, toJSON(stamped))
}

// statusFor maps a submission error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, replica.ErrInvalidVersion), errors.Is(err, replica.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
