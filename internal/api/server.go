package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/zertoslack/zertoslack/internal/logbuffer"
	"github.com/zertoslack/zertoslack/internal/store"
	"github.com/zertoslack/zertoslack/internal/types"
	"github.com/zertoslack/zertoslack/internal/version"
	"github.com/zertoslack/zertoslack/internal/zerto"
)

const defaultLogLimit = 200

// HealthSource reports the polling state of one ZVM
type HealthSource interface {
	Source() *types.Source
	Health() zerto.SourceHealth
}

// Server exposes the service state over HTTP
type Server struct {
	store     *store.Store
	logger    zerolog.Logger
	startTime time.Time

	mu        sync.RWMutex
	sources   []HealthSource
	logBuffer *logbuffer.Buffer
	gatherer  prometheus.Gatherer

	srv *http.Server
}

// NewServer creates an API server reading from st
func NewServer(st *store.Store, logger zerolog.Logger, port string) *Server {
	s := &Server{
		store:     st,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}
	s.srv = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetLogBuffer sets the buffer served by /api/logs
func (s *Server) SetLogBuffer(lb *logbuffer.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logBuffer = lb
}

// SetHealthSources sets the ZVM clients reported by /status
func (s *Server) SetHealthSources(sources []HealthSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = sources
}

// SetGatherer sets the registry served by /metrics
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gatherer = g
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/alerts/{label}", s.handleSourceAlerts)
	r.Get("/api/logs", s.handleLogs)
	r.Get("/metrics", s.handleMetrics)
	return r
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.srv.Addr).Msg("Starting API server")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type sourceStatus struct {
	Label   string             `json:"label"`
	Address string             `json:"address"`
	Stored  int                `json:"stored_alerts"`
	Health  zerto.SourceHealth `json:"health"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sources := s.sources
	s.mu.RUnlock()

	statuses := make([]sourceStatus, 0, len(sources))
	for _, hs := range sources {
		src := hs.Source()
		statuses = append(statuses, sourceStatus{
			Label:   src.Label,
			Address: src.Address,
			Stored:  s.store.Count(src),
			Health:  hs.Health(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"time":         time.Now().UTC().Format(time.RFC3339),
		"uptime":       time.Since(s.startTime).String(),
		"version":      version.Get(),
		"total_alerts": s.store.Total(),
		"sources":      statuses,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	bySource := make(map[string][]types.Alert)
	for _, src := range s.store.Sources() {
		bySource[src.Label] = s.store.GetAlerts(src)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": bySource,
		"count":  s.store.Total(),
	})
}

func (s *Server) handleSourceAlerts(w http.ResponseWriter, r *http.Request) {
	label := chi.URLParam(r, "label")
	for _, src := range s.store.Sources() {
		if src.Label != label {
			continue
		}
		alerts := s.store.GetAlerts(src)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"source": label,
			"alerts": alerts,
			"count":  len(alerts),
		})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown source"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	lb := s.logBuffer
	s.mu.RUnlock()

	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries := []logbuffer.Entry{}
	if lb != nil {
		entries = lb.Recent(limit, r.URL.Query().Get("level"))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	g := s.gatherer
	s.mu.RUnlock()

	if g == nil {
		g = prometheus.DefaultGatherer
	}
	promhttp.HandlerFor(g, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}
