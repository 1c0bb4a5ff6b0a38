// Package server provides the HTTP server for the statesync daemon.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/grovetools/statesync/errors"
	"github.com/grovetools/statesync/internal/daemon/engine"
	"github.com/grovetools/statesync/internal/daemon/store"
	"github.com/grovetools/statesync/pkg/codec"
	"github.com/grovetools/statesync/pkg/push"
)

// RunningConfig holds the active configuration being used by the daemon.
// This is exposed via the /api/config endpoint so clients can verify what config is active.
type RunningConfig struct {
	FlushInterval time.Duration `json:"flush_interval"`
	SignalMode    string        `json:"signal_mode"`
	FragmentSize  int           `json:"fragment_size"`
	Journal       string        `json:"journal,omitempty"`
	Listen        string        `json:"listen,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
}

// Server manages the daemon's HTTP server over a Unix socket and an
// optional TCP address.
type Server struct {
	logger        *logrus.Entry
	mu            sync.Mutex
	servers       []*http.Server
	engine        *engine.Engine
	runningConfig *RunningConfig
	pushOptions   push.Options
	registry      *prometheus.Registry
	metrics       *engine.Metrics
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger: logger,
	}
}

// SetEngine sets the collector engine for the server.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
}

// SetRunningConfig sets the running configuration for the server.
func (s *Server) SetRunningConfig(cfg *RunningConfig) {
	s.runningConfig = cfg
}

// SetPushOptions configures push connections.
func (s *Server) SetPushOptions(opts push.Options) {
	s.pushOptions = opts
}

// SetMetrics exposes reg on /metrics and tracks push clients in m.
func (s *Server) SetMetrics(reg *prometheus.Registry, m *engine.Metrics) {
	s.registry = reg
	s.metrics = m
}

// Handler returns the daemon's HTTP handler, wrapped for HTTP/2 cleartext.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/tree", s.withSession(s.handleGetTree))
	mux.HandleFunc("POST /api/sessions/{id}/rpc", s.withSession(s.handleRPC))
	mux.HandleFunc("POST /api/sessions/{id}/render", s.withSession(s.handleRender))
	mux.HandleFunc("GET /api/sessions/{id}/signals", s.withSession(s.handleGetSignals))
	mux.HandleFunc("POST /api/sessions/{id}/signals", s.withSession(s.handleCommitSignal))
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /push/{id}", s.withSession(s.handlePush))

	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	return h2c.NewHandler(mux, &http2.Server{})
}

// ListenAndServe starts the daemon on the given unix socket path and, when
// tcpAddr is set, on that TCP address too. It blocks until the server stops
// or fails.
func (s *Server) ListenAndServe(socketPath, tcpAddr string) error {
	// Cleanup stale socket
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set restrictive permissions on socket
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	handler := s.Handler()
	errs := make(chan error, 2)

	if tcpAddr != "" {
		tcpListener, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			_ = listener.Close()
			return fmt.Errorf("failed to listen on %s: %w", tcpAddr, err)
		}
		tcpServer := &http.Server{Handler: handler}
		s.track(tcpServer)
		s.logger.WithField("addr", tcpListener.Addr().String()).Info("Daemon listening")
		go func() { errs <- tcpServer.Serve(tcpListener) }()
	}

	unixServer := &http.Server{Handler: handler}
	s.track(unixServer)
	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	go func() { errs <- unixServer.Serve(listener) }()

	err = <-errs
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	s.mu.Lock()
	servers := append([]*http.Server(nil), s.servers...)
	s.mu.Unlock()

	var first error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Server) track(srv *http.Server) {
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()
}

func (s *Server) store() (*store.Store, bool) {
	if s.engine == nil {
		return nil, false
	}
	return s.engine.Store(), true
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *store.Session)

// withSession resolves the {id} path value to a live session.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := s.store()
		if !ok {
			http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
			return
		}
		sess, err := st.Session(r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, sess)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps coded errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeSessionGone:
		status = http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeUnknownNode, errors.ErrCodeIndexOutOfRange,
		errors.ErrCodeNotAList, errors.ErrCodeNodeAttached, errors.ErrCodeNodeCycle,
		errors.ErrCodeUnsupportedType, errors.ErrCodeMalformedJSON, errors.ErrCodeTemplateSyntax,
		errors.ErrCodeUnknownCommand:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorBody(err))
}

func errorBody(err error) *codec.ErrorBody {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	return &codec.ErrorBody{Code: string(code), Message: err.Error()}
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runningConfig)
}
