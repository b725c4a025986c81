package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
)

// Status is the live view of the bot served on /status.
type Status struct {
	Provider    string `json:"provider"`
	Servers     int    `json:"servers"`
	PoolWorkers int    `json:"pool_workers"`
	PoolActive  int64  `json:"pool_active"`
	PoolQueued  int64  `json:"pool_queued"`
	Gateway     bool   `json:"gateway_connected"`
}

// StatusFunc reports the current Status.
type StatusFunc func() Status

// Server exposes /metrics, /healthz and /status over HTTP.
type Server struct {
	addr     string
	registry *Registry
	status   StatusFunc
	logger   *slog.Logger
	srv      *http.Server
}

// ServerConfig holds the dependencies of a Server.
type ServerConfig struct {
	Addr     string
	Registry *Registry // nil uses Collector
	Status   StatusFunc
	Logger   *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Registry == nil {
		cfg.Registry = Collector
	}
	if cfg.Status == nil {
		cfg.Status = func() Status { return Status{} }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{addr: cfg.Addr, registry: cfg.Registry, status: cfg.Status, logger: cfg.Logger}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.logger.Info("metrics server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) refreshGauges(st Status) {
	PoolActive.Set(st.PoolActive)
	PoolQueued.Set(st.PoolQueued)
	CachedGuild.Set(int64(st.Servers))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshGauges(s.status())
	s.registry.Handler()(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	s.refreshGauges(st)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     int64(s.registry.Uptime().Seconds()),
		"timestamp":  time.Now().Unix(),
		"goroutines": runtime.NumGoroutine(),
		"bot":        st,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
