package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"audiorelay/internal/admission"
	"audiorelay/internal/config"
	"audiorelay/internal/httpstubs"
	"audiorelay/internal/session"
)

// Server holds the client-facing WebSocket listener and the out-of-scope
// HTTP stub routes.
type Server struct {
	cfg  config.Config
	slog *slog.Logger

	sessionsCreated atomic.Int64
	sessionsActive  atomic.Int64
}

// NewServer constructs a Server from a loaded configuration.
func NewServer(cfg config.Config) *Server {
	return &Server{
		cfg:  cfg,
		slog: slog.Default(),
	}
}

// Run starts the client WebSocket listener and the out-of-scope HTTP stub
// routes, and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		identity, err := admission.Verify(r, s.cfg.Media.Server.Password)
		if err != nil {
			log.Printf("[server] admission denied from %s: %v", r.RemoteAddr, err)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[server] websocket upgrade failed: %v", err)
			return
		}

		sess := session.New(conn, session.Identity{
			UserID:     identity.UserID,
			ClientName: identity.ClientName,
		}, s.slog)

		s.sessionsCreated.Add(1)
		s.sessionsActive.Add(1)
		defer s.sessionsActive.Add(-1)
		sess.Serve()
	})

	mux.Handle("/", httpstubs.New())

	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           mux,
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] shutdown: %v", err)
		}
	}()

	log.Printf("[server] listening on %s", s.cfg.ListenAddr())

	err := httpSrv.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// loadConfig loads the YAML config at path, falling back to documented
// defaults with a warning if the file cannot be read.
func loadConfig(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		log.Printf("[config] %v, falling back to defaults", err)
		return config.Default()
	}
	return cfg
}

// splitHostPort parses a "host:port" listen address flag override.
func splitHostPort(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	var parsed int
	if _, err := fmt.Sscanf(p, "%d", &parsed); err != nil {
		return "", 0, fmt.Errorf("invalid port %q: %w", p, err)
	}
	return h, parsed, nil
}
