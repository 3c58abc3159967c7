// Package adminhttp exposes the audio subsystem's operational surface:
// health, Prometheus metrics, and a debug snapshot of connected clients. It
// carries no admin UI or authenticated configuration API — those belong to
// the host application embedding this subsystem, not to the subsystem
// itself.
package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vboxrdp/vrdpaudio/internal/audio"
)

// envelope is the standard response wrapper, matching the host
// application's JSON API convention.
type envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// Server holds the admin HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	logger *slog.Logger
	audio  *audio.Server
}

// NewServer creates the admin HTTP handler with all routes mounted. reg is
// the Prometheus registry to serve at /metrics; pass nil to omit the
// /metrics route entirely.
func NewServer(audioSrv *audio.Server, reg *prometheus.Registry, logger *slog.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.With("subsystem", "admin-http"),
		audio:  audioSrv,
	}
	s.routes(reg)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(reg *prometheus.Registry) {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/debug/clients", s.handleDebugClients)

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.logger.Info("admin routes mounted")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleDebugClients returns a JSON snapshot of every registered client
// channel's current negotiation state, ring occupancy, and skip/queue stats.
func (s *Server) handleDebugClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.audio.ClientSnapshots())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		slog.Error("admin http: failed to encode json response", "error", err)
	}
}
