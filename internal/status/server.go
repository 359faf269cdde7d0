package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/sahmadiut/dapnet-proxy/internal/health"
	"github.com/sahmadiut/dapnet-proxy/pkg/logger"
)

const watchWriteTimeout = 5 * time.Second

// ServerConfig holds configuration for the status server.
type ServerConfig struct {
	// Addr is the listen address
	Addr string
	// MetricsHandler is mounted at MetricsPath when not nil
	MetricsHandler http.Handler
	MetricsPath    string
	// Logger defaults to logger.NewDefault()
	Logger *logger.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:        "127.0.0.1:8080",
		MetricsPath: "/metrics",
	}
}

// Server exposes a Registry over HTTP:
//
//	GET /status          all profiles
//	GET /status/{name}   one profile, 404 when unknown
//	GET /watch           websocket stream of status changes
//	GET /healthz         liveness
//	GET /readyz          readiness, 503 unless a profile is ONLINE
type Server struct {
	registry *Registry
	health   *health.Handler
	router   *chi.Mux
	server   *http.Server
	upgrader websocket.Upgrader
	log      *logger.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a status server for registry.
func NewServer(config *ServerConfig, registry *Registry) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	log := config.Logger
	if log == nil {
		log = logger.NewDefault()
	}

	s := &Server{
		registry: registry,
		health:   health.NewHandler(nil),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
		},
		log:     log.WithStr("component", "status"),
		closeCh: make(chan struct{}),
	}
	s.health.RegisterCheck("profiles", registry.Check)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/status", s.listStatus)
	r.Get("/status/{name}", s.getStatus)
	r.Get("/watch", s.watch)
	r.Get("/healthz", s.health.Healthz())
	r.Get("/readyz", s.health.Readyz())
	if config.MetricsHandler != nil {
		r.Handle(config.MetricsPath, config.MetricsHandler)
	}
	s.router = r

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler, useful for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Status server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, signals all watch streams to close and
// waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) listStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, err := s.registry.Get(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// watch sends the current snapshot of every profile, then each change as a
// separate JSON message until the client goes away or the server shuts down.
func (s *Server) watch(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.closeCh:
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := s.registry.Subscribe()
	defer s.registry.Unsubscribe(updates)

	log := s.log.WithStr("remote_addr", r.RemoteAddr)
	log.Debug().Msg("Status watcher connected")

	// The client never sends data; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(st ConnectionStatus) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
		if err := conn.WriteJSON(st); err != nil {
			log.Debug().Err(err).Msg("Status watcher write failed")
			return false
		}
		return true
	}

	for _, st := range s.registry.List() {
		if !send(st) {
			return
		}
	}

	for {
		select {
		case st, ok := <-updates:
			if !ok || !send(st) {
				return
			}
		case <-gone:
			log.Debug().Msg("Status watcher disconnected")
			return
		case <-s.closeCh:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(time.Second))
			return
		}
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
