package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"meshsim/internal/radio"
	"meshsim/internal/sim"
	"meshsim/internal/telemetry"
)

// Simulation is the part of *sim.Simulator the admin endpoint drives.
type Simulation interface {
	Bus() *telemetry.Bus
	Summary() sim.Summary
	sim.Injector
}

// Server exposes the live mesh state, a snapshot stream and packet injection over HTTP.
type Server struct {
	sim     Simulation
	metrics http.Handler
	log     *slog.Logger
	tpl     *template.Template
	mux     *http.ServeMux
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics mounts a Prometheus handler at /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

//go:embed templates/index.html
var content embed.FS

const shutdownTimeout = 5 * time.Second

// InjectRequest is the body accepted by POST /api/inject. Without a payload a
// scenario message is picked; Critical forces the critical catalog.
type InjectRequest struct {
	NodeID      string `json:"node_id"`
	Payload     string `json:"payload"`
	Destination string `json:"destination"`
	TTL         int    `json:"ttl"`
	Critical    bool   `json:"critical"`
}

// NewServer routes the admin endpoint for s.
func NewServer(s Simulation, opts ...Option) *Server {
	srv := &Server{
		sim: s,
		log: slog.Default(),
		tpl: template.Must(template.New("index.html").ParseFS(content, "templates/index.html")),
	}
	for _, opt := range opts {
		opt(srv)
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("GET /api/stream", s.handleStream)
	s.mux.HandleFunc("GET /api/summary", s.handleSummary)
	s.mux.HandleFunc("POST /api/inject", s.handleInject)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routed handler with permissive CORS headers.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		s.mux.ServeHTTP(w, r)
	})
}

// Start listens on addr and serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("admin endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("admin shutdown failed", "err", err)
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.sim.Bus().Snapshot()
	data := struct {
		Policy string
		Nodes  int
		Area   float64
	}{
		Policy: snap.Stats.Policy,
		Nodes:  len(snap.Nodes),
	}
	// nodes are placed in a square starting at the origin
	for _, n := range snap.Nodes {
		data.Area = math.Max(data.Area, math.Max(n.X, n.Y))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Bus().Snapshot())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sim.Summary())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// handleStream pushes every snapshot the bus offers this observer as a
// server-sent event. A slow client skips snapshots rather than stalling the mesh.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	bus := s.sim.Bus()
	obs := bus.Register()
	defer bus.Unregister(obs)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := s.log.With("remote", r.RemoteAddr)
	log.Debug("stream client connected", "observers", bus.Observers())
	defer log.Debug("stream client disconnected")

	for {
		snap, err := obs.Next(r.Context())
		if err != nil {
			return
		}
		data, err := json.Marshal(snap)
		if err != nil {
			log.Error("encode snapshot", "err", err)
			return
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", snap.Type, data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
	}

	var (
		p   radio.Packet
		err error
	)
	if req.Payload == "" {
		p, err = s.sim.InjectRandom(r.Context(), req.Critical)
	} else {
		if req.NodeID == "" {
			writeError(w, http.StatusBadRequest, errors.New("node_id is required with a payload"))
			return
		}
		p, err = s.sim.Inject(r.Context(), req.NodeID, req.Payload, req.Destination, req.TTL)
	}
	switch {
	case errors.Is(err, radio.ErrUnknownNode):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.log.Error("inject failed", "node_id", req.NodeID, "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.log.Info("packet injected", "node_id", p.SenderID, "packet_id", p.ID, "payload", p.Payload)
	writeJSON(w, http.StatusAccepted, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
