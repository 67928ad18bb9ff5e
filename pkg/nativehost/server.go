package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/enginebridge/pkg/platform"
	"github.com/vango-dev/enginebridge/pkg/protocol"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the listen address for Run.
	Address string

	ReadBufferSize  int
	WriteBufferSize int

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// CompressThreshold is the payload size above which outgoing frames are
	// gzip compressed. Negative disables compression.
	CompressThreshold int

	// AutoProvision embeds a view on first connection when no handler is
	// registered for it. The connecting host sees NotRegistered errors
	// until embedding completes.
	AutoProvision bool

	// EngineType is used for provisioned views.
	EngineType protocol.EngineType

	// CheckOrigin validates the websocket Origin header. Nil accepts any
	// origin.
	CheckOrigin func(r *http.Request) bool

	// Metrics, when set, is served at MetricsPath (default /metrics).
	Metrics     http.Handler
	MetricsPath string

	Logger *slog.Logger
}

// DefaultServerConfig returns the server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:           ":8765",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		CompressThreshold: protocol.CompressThreshold,
		AutoProvision:     true,
		EngineType:        protocol.EngineUnity,
	}
}

func (c ServerConfig) withDefaults() ServerConfig {
	def := DefaultServerConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = def.CompressThreshold
	}
	if c.EngineType == "" {
		c.EngineType = def.EngineType
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Server exposes the handlers of a registry over websocket, one connection
// per view at /views/{viewID}/ws.
type Server struct {
	cfg      ServerConfig
	registry *platform.Registry
	embedder platform.Embedder
	mux      chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger

	httpServer *http.Server

	mu           sync.Mutex
	conns        map[*conn]struct{}
	provisioning map[int64]bool
	wg           sync.WaitGroup
}

// NewServer creates a server over registry. embedder provisions views for
// POST /views and AutoProvision; it may be nil when views are registered by
// other means.
func NewServer(registry *platform.Registry, embedder platform.Embedder, cfg ServerConfig) *Server {
	cfg = cfg.withDefaults()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		embedder: embedder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger:       cfg.Logger.With("component", "native_server"),
		conns:        make(map[*conn]struct{}),
		provisioning: make(map[int64]bool),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/views", s.handleListViews)
	r.Post("/views", s.handleCreateView)
	r.Get("/views/{viewID}/ws", s.handleWebSocket)
	if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, cfg.Metrics)
	}
	s.mux = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Config returns the effective configuration.
func (s *Server) Config() ServerConfig {
	return s.cfg
}

// Connections returns the number of open view connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Run serves on the configured address until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("nativehost: listen %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("native host listening", "address", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown closes every view connection and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close("server shutting down")
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}
	s.wg.Wait()
	s.logger.Info("native host stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"views":       s.registry.Len(),
		"connections": s.Connections(),
	})
}

func (s *Server) handleListViews(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"views": s.registry.Views()})
}

type createViewRequest struct {
	EngineType protocol.EngineType `json:"engineType"`
	Params     map[string]any      `json:"params"`
}

func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil {
		http.Error(w, "view provisioning disabled", http.StatusNotImplemented)
		return
	}
	var req createViewRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.EngineType == "" {
		req.EngineType = s.cfg.EngineType
	}
	id := s.registry.NextViewID()
	s.provision(id, req.EngineType, req.Params)
	writeJSON(w, http.StatusCreated, map[string]any{
		"viewId": id,
		"path":   fmt.Sprintf("/views/%d/ws", id),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	viewID, err := strconv.ParseInt(chi.URLParam(r, "viewID"), 10, 64)
	if err != nil || viewID <= 0 {
		http.Error(w, "invalid view id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(protocol.FrameHeaderSize + protocol.MaxPayloadSize)

	if _, ok := s.registry.Lookup(viewID); !ok && s.cfg.AutoProvision && s.embedder != nil {
		s.provision(viewID, s.cfg.EngineType, nil)
	}

	c := newConn(s, ws, viewID)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.serve(r.Context())

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// provision embeds viewID in the background unless an embedding for it is
// already running.
func (s *Server) provision(viewID int64, engine protocol.EngineType, params map[string]any) {
	s.mu.Lock()
	if s.provisioning[viewID] {
		s.mu.Unlock()
		return
	}
	s.provisioning[viewID] = true
	s.mu.Unlock()

	req := platform.EmbedRequest{ViewID: viewID, EngineType: engine, Params: params, Registry: s.registry}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.embedder.Embed(context.Background(), req)
		if err != nil && !errors.Is(err, platform.ErrAlreadyRegistered) {
			s.logger.Error("provision failed", "view_id", viewID, "error", err)
		}
		s.mu.Lock()
		delete(s.provisioning, viewID)
		s.mu.Unlock()
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
