package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/airwatch/internal/models"
	"github.com/lox/airwatch/internal/store"
)

// Forecaster produces display-ready forecasts. An empty slice means no
// forecast could be made.
type Forecaster interface {
	GenerateCityForecast(ctx context.Context, city string, daysAhead int, correct bool) []models.RiskRecord
}

type LiveAQI interface {
	Current(ctx context.Context, city string) (*models.AQIObservation, error)
}

// ModelCache is the in-process model cache, reloaded after new artifacts are
// imported.
type ModelCache interface {
	Invalidate(city, version string)
	InvalidateAll()
}

type Options struct {
	Cache          ModelCache
	Addr           string
	DefaultDays    int
	MaxDays        int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	store      *store.Store
	forecaster Forecaster
	live       LiveAQI
	cache      ModelCache
	addr       string
	days       int
	maxDays    int
	timeout    time.Duration
	logger     *slog.Logger
}

func NewServer(s *store.Store, forecaster Forecaster, live LiveAQI, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 14
	}
	if opts.DefaultDays <= 0 || opts.DefaultDays > opts.MaxDays {
		opts.DefaultDays = min(7, opts.MaxDays)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		store:      s,
		forecaster: forecaster,
		live:       live,
		cache:      opts.Cache,
		addr:       opts.Addr,
		days:       opts.DefaultDays,
		maxDays:    opts.MaxDays,
		timeout:    opts.RequestTimeout,
		logger:     opts.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast", s.handleAPIForecast)
	mux.HandleFunc("GET /api/current", s.handleAPICurrent)
	mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	mux.HandleFunc("GET /api/cities", s.handleAPICities)
	mux.HandleFunc("GET /api/models", s.handleAPIModels)
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.HandleFunc("POST /api/models/reload", s.handleAPIModelsReload)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.timeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status string   `json:"status"`
	Models int      `json:"models"`
	Cities int      `json:"cities"`
	Errors []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	ms, err := s.store.ListModels()
	if err != nil {
		health.Errors = append(health.Errors, "models: "+err.Error())
	}
	health.Models = len(ms)

	cities, err := s.store.HistoryCities()
	if err != nil {
		health.Errors = append(health.Errors, "history: "+err.Error())
	}
	health.Cities = len(cities)

	switch {
	case len(health.Errors) > 0:
		health.Status = "error"
	case health.Models == 0:
		health.Status = "degraded"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("api: write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
