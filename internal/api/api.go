// Package api exposes a GhostLink node over HTTP: a state snapshot, the
// connect/disconnect/message commands, and a long-lived event stream. It is
// deliberately the only package in the tree that imports net/http — the
// core (internal/engine) never knows HTTP exists, so the same Node can be
// driven by a future non-HTTP frontend without touching this layer (spec.md
// §6, grounded on the handler-per-endpoint shape of the teacher's
// internal/control.Server).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ghostlink/ghostlink/internal/logging"
	"github.com/ghostlink/ghostlink/internal/types"
)

// Node is the subset of *engine.Node the API depends on. Declaring it here
// rather than importing engine.Node directly keeps the dependency direction
// one-way and makes the handlers trivially testable against a fake.
type Node interface {
	Commands() chan<- types.Command
	Events() (<-chan types.AppEvent, func())
	Snapshot() types.Snapshot
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// CommandsPerSecond and CommandBurst bound the rate of state-changing
	// commands (/connect, /message) accepted from the local UI collaborator,
	// so a runaway or malicious frontend can't flood the command channel
	// faster than the engine can drain it. 0 disables limiting.
	CommandsPerSecond float64
	CommandBurst      int
}

// DefaultServerConfig mirrors the teacher's control-server defaults, scaled
// to an HTTP listener instead of a unix socket.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      0, // the /events handler streams indefinitely
		CommandsPerSecond: 20,
		CommandBurst:      20,
	}
}

// Server is the HTTP control surface described in spec.md §6.
type Server struct {
	cfg     ServerConfig
	node    Node
	logger  *slog.Logger
	server  *http.Server
	limiter *rate.Limiter
}

// NewServer builds a Server wired against node. Call Start to begin serving.
func NewServer(cfg ServerConfig, node Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{cfg: cfg, node: node, logger: logger}
	if cfg.CommandsPerSecond > 0 {
		burst := cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CommandsPerSecond), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/connect", s.rateLimited(s.handleConnect))
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/message", s.rateLimited(s.handleMessage))
	mux.HandleFunc("/events", s.handleEvents)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start begins serving in a background goroutine and returns once the
// listener is bound, so callers can log the resolved address immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.server.Addr = ln.Addr().String()

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api: server exited", logging.KeyError, err)
		}
	}()

	return nil
}

// Addr returns the bound listen address; only meaningful after Start.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// rateLimited wraps a command-issuing handler with the server's command
// rate limiter, rejecting with 429 instead of forwarding to the engine once
// the budget is exhausted (golang.org/x/time/rate, the same token-bucket
// primitive the teacher uses for transfer throughput limiting).
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// handleState serves the current Snapshot as JSON (spec.md §6: "GET state").
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.node.Snapshot())
}

type connectRequest struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// handleConnect issues a CommandConnect (spec.md §6: "POST connect
// {ip, port}"). The command is fire-and-forget: the caller observes the
// outcome via /events, matching the asynchronous nature of a UDP handshake.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if s.node.Snapshot().Status != types.StatusDisconnected {
		http.Error(w, "not disconnected", http.StatusBadRequest)
		return
	}

	ip := net.ParseIP(req.IP)
	if ip == nil {
		http.Error(w, "invalid ip", http.StatusBadRequest)
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		http.Error(w, "invalid port", http.StatusBadRequest)
		return
	}

	peer := types.Address{IP: ip, Port: req.Port}
	select {
	case s.node.Commands() <- types.Command{Kind: types.CommandConnect, Peer: peer}:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
	}
}

// handleDisconnect issues a CommandDisconnect (spec.md §6: "POST
// disconnect"). Disconnecting while already disconnected is a client error.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.node.Snapshot().Status == types.StatusDisconnected {
		http.Error(w, "not connected", http.StatusBadRequest)
		return
	}

	select {
	case s.node.Commands() <- types.Command{Kind: types.CommandDisconnect}:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
	}
}

type messageRequest struct {
	Message string `json:"message"`
}

// handleMessage issues a CommandSendMessage (spec.md §6: "POST message
// {message}"). Empty messages and sends while not Connected are rejected
// up front rather than discovered asynchronously.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}
	if s.node.Snapshot().Status != types.StatusConnected {
		http.Error(w, "not connected", http.StatusBadRequest)
		return
	}

	select {
	case s.node.Commands() <- types.Command{Kind: types.CommandSendMessage, Message: req.Message}:
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "command queue full", http.StatusServiceUnavailable)
	}
}

// handleEvents streams AppEvents as newline-delimited Server-Sent Events
// until the client disconnects (spec.md §6: "GET events"). Each connection
// gets its own bus subscription so a slow client only drops its own events
// (internal/nodestate's per-subscriber bound), never another's.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.node.Events()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("api: marshal event failed", logging.KeyError, err)
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
