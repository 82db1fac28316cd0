// Package server hosts the HTTP and WebSocket endpoints used by the
// browser extension.
package server

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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/console-bridge/internal/codec"
)

// DefaultPort is the port the extension connects to.
const DefaultPort = 9223

// ErrPortInUse is returned by Start when the port is taken, usually by
// another bridge instance.
var ErrPortInUse = errors.New("port already in use")

type Server struct {
	Router *chi.Mux
	Hub    *Hub
	Host   string
	Port   int
	logger *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New wires the routes around hub. A zero port picks a free one.
func New(host string, port int, hub *Hub, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "console-bridge")
	})

	s := &Server{
		Router: r,
		Hub:    hub,
		Host:   host,
		Port:   port,
		logger: logger,
	}

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(10 * time.Second))
		r.Get("/healthz", s.health)
		r.Get("/clients", s.clients)
	})
	r.Get("/", hub.ServeHTTP)
	r.Get("/ws", hub.ServeHTTP)

	return s
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"protocolVersion": codec.Version,
		"clients":         s.Hub.Len(),
	})
}

func (s *Server) clients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clients": s.Hub.Clients()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already started")
	}

	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("listen on %s: %w: is another console-bridge instance running?", addr, ErrPortInUse)
		}
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})
	s.logger.Info("extension server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("extension server stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes extension connections and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownErr := srv.Shutdown(ctx)
	hubErr := s.Hub.CloseAll(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	return errors.Join(shutdownErr, hubErr)
}
