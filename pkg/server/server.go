package server

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/protocol"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/session"
)

// sessionLocks is the number of stripes serializing attach and release of
// the same session id across connections.
const sessionLocks = 64

// Server serves the push channel and the HTTP routes around it.
type Server struct {
	config     Config
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	gatherer   prometheus.Gatherer
	upgrader   websocket.Upgrader
	router     chi.Router

	// ctx is the parent of every connection context.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conns      map[string]*conn
	closing    bool
	wg         sync.WaitGroup
	httpServer *http.Server

	locks [sessionLocks]sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithGatherer sets the registry exposed on /metrics.
// Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a server driving sessions through d.
func New(d *dispatch.Dispatcher, config Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     config.withDefaults(),
		dispatcher: d,
		logger:     slog.Default(),
		gatherer:   prometheus.DefaultGatherer,
		ctx:        ctx,
		cancel:     cancel,
		conns:      make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
		CheckOrigin:     s.config.checkOrigin,
	}
	s.router = s.routes()

	d.Store().OnDestroy(s.sessionDestroyed)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHello)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/render/{view}", s.handleRender)
	r.Get("/live", s.handleLive)
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Config returns the server configuration with defaults applied.
func (s *Server) Config() Config {
	return s.config
}

// ConnCount returns the number of attached connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Run listens on the configured address and serves until ctx is done or the
// listener fails. Cancelling ctx shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server starting", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ErrServerClosed
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown stops accepting connections, closes every attached connection
// (detaching its session) and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server shutting down", "connections", len(conns))

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	for _, c := range conns {
		c.closeWith(&protocol.CloseMessage{Reason: protocol.CloseServerShutdown})
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// register makes c the connection of its session, closing any connection
// it replaces.
func (s *Server) register(c *conn) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	prev := s.conns[c.sessionID]
	s.conns[c.sessionID] = c
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.replaced.Store(true)
		prev.closeWith(&protocol.CloseMessage{Reason: protocol.CloseReplaced})
		s.logger.Debug("connection replaced", "session_id", c.sessionID)
	}
	return nil
}

// release detaches or destroys the session of a finished connection, unless
// another connection took it over or the session is already gone.
func (s *Server) release(c *conn) {
	defer s.wg.Done()

	mu := s.sessionLock(c.sessionID)
	mu.Lock()
	defer mu.Unlock()

	s.mu.Lock()
	owner := s.conns[c.sessionID] == c
	if owner {
		delete(s.conns, c.sessionID)
	}
	s.mu.Unlock()

	if !owner || c.replaced.Load() || c.expired.Load() {
		return
	}
	s.dispatcher.Disconnect(c.sessionID, c.explicit.Load())
}

// sessionDestroyed closes the connection of a session the store dropped.
func (s *Server) sessionDestroyed(id string, reason session.Reason) {
	s.mu.Lock()
	c := s.conns[id]
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.expired.Store(true)
	c.closeWith(&protocol.CloseMessage{Reason: protocol.CloseSessionExpired, Message: reason.String()})
}

func (s *Server) sessionLock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%sessionLocks]
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Hello, world!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.dispatcher.Store().Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"sessions":    stats.Total,
		"detached":    stats.Detached,
		"connections": s.ConnCount(),
	})
}

// handleRender serves a full HTML page of a view's mount state. Query
// parameters become mount params.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "view")
	params := make(live.Payload)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	snap, err := s.dispatcher.Preview(r.Context(), name, params)
	if err != nil {
		if errors.Is(err, live.ErrUnknownView) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("render failed", "view", name, "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = render.RenderPage(w, render.PageData{
		Title:    name,
		View:     name,
		Snapshot: snap,
		Scripts:  s.config.PageScripts,
	})
	if err != nil {
		s.logger.Error("write page failed", "view", name, "error", err)
	}
}

// requestLogger logs one line per request with slog.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr)
		})
	}
}
