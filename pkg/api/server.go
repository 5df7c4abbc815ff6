package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/machinehealth/cci/pkg"
	"github.com/machinehealth/cci/pkg/history"
	"github.com/machinehealth/cci/pkg/logx"
)

// Config holds HTTP server settings.
type Config struct {
	Listen       string        `json:"listen"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Enabled      bool          `json:"enabled"`
}

// DefaultConfig returns HTTP server defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:       ":9085",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		Enabled:      true,
	}
}

// Projector computes a forward projection from a component's recent score
// history.
type Projector interface {
	Project(componentID string) (*pkg.TrendProjection, error)
}

// DiagnosticsSource reports per-component ingestion counters.
type DiagnosticsSource interface {
	Diagnostics() map[string]pkg.Diagnostics
}

// Server is the read-only consumer surface: recent and archived scores,
// projections, and health. It never mutates pipeline state.
type Server struct {
	config    *Config
	logger    *logx.Logger
	recent    *history.RecentBuffer
	archive   *history.Archive
	projector Projector
	diag      DiagnosticsSource
	metrics   http.Handler
	srv       *http.Server
}

// NewServer creates the API server. archive, projector, diag, and metrics
// may be nil; the matching endpoints then degrade gracefully.
func NewServer(config *Config, logger *logx.Logger, recent *history.RecentBuffer,
	archive *history.Archive, projector Projector, diag DiagnosticsSource,
	metrics http.Handler) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:    config,
		logger:    logger,
		recent:    recent,
		archive:   archive,
		projector: projector,
		diag:      diag,
		metrics:   metrics,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Debug("API server disabled")
		return nil
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/components", s.handleComponents).Methods(http.MethodGet)
	r.HandleFunc("/api/components/{id}/latest", s.handleLatest).Methods(http.MethodGet)
	r.HandleFunc("/api/components/{id}/scores", s.handleScores).Methods(http.MethodGet)
	r.HandleFunc("/api/components/{id}/projection", s.handleProjection).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	h := handlers.RecoveryHandler()(r)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)

	s.srv = &http.Server{
		Addr:         s.config.Listen,
		Handler:      h,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		s.logger.Info("API server listening", "addr", s.config.Listen)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleComponents(w http.ResponseWriter, _ *http.Request) {
	ids := s.recent.Components()
	if s.archive != nil {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		archived, err := s.archive.Components()
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, id := range archived {
			if !seen[id] {
				ids = append(ids, id)
			}
		}
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"components": ids})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sr := s.recent.Latest(id)
	if sr == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("no scores for component %q", id))
		return
	}
	s.writeJSON(w, http.StatusOK, sr)
}

// handleScores serves a component's scored readings in [from, to]. Recent
// in-RAM scores answer the common case; older ranges fall through to the
// archive.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid from: want RFC3339")
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid to: want RFC3339")
			return
		}
	}
	if to.Before(from) {
		s.writeError(w, http.StatusBadRequest, "to precedes from")
		return
	}

	var scores []pkg.ScoredReading
	if s.archive != nil {
		if scores, err = s.archive.Query(id, from, to); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else {
		for _, sr := range s.recent.Since(id, from) {
			if !sr.Timestamp.After(to) {
				scores = append(scores, sr)
			}
		}
	}
	if scores == nil {
		scores = []pkg.ScoredReading{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"component_id": id,
		"from":         from.Format(time.RFC3339),
		"to":           to.Format(time.RFC3339),
		"scores":       scores,
	})
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	if s.projector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "projection unavailable")
		return
	}
	id := mux.Vars(r)["id"]
	proj, err := s.projector.Project(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"component_id": id,
		"projection":   proj,
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	if s.diag == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.diag.Diagnostics())
}
