package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/airwatch/internal/aqi"
)

const unavailable = "forecast data unavailable"

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		s.writeError(w, http.StatusBadRequest, "city required")
		return
	}

	days := s.days
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > s.maxDays {
			s.writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(s.maxDays))
			return
		}
		days = n
	}

	correct := true
	if v := q.Get("correct"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "correct must be a boolean")
			return
		}
		correct = b
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	records := s.forecaster.GenerateCityForecast(ctx, city, days, correct)
	s.writeJSON(w, http.StatusOK, records)
}

type currentResponse struct {
	City         string    `json:"city"`
	AQI          int       `json:"aqi"`
	Station      string    `json:"station,omitempty"`
	ObservedAt   time.Time `json:"observed_at,omitzero"`
	Level        string    `json:"level,omitempty"`
	Color        string    `json:"color,omitempty"`
	Implications string    `json:"implications,omitempty"`
}

func (s *Server) handleAPICurrent(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		s.writeError(w, http.StatusBadRequest, "city required")
		return
	}
	if s.live == nil {
		s.writeError(w, http.StatusServiceUnavailable, "live data unavailable")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	obs, err := s.live.Current(ctx, city)
	if err != nil {
		s.logger.Error("api: live aqi", "city", city, "error", err)
		s.writeError(w, http.StatusBadGateway, "live data unavailable")
		return
	}
	if obs == nil {
		s.writeError(w, http.StatusNotFound, "no live reading for "+city)
		return
	}

	resp := currentResponse{
		City:       city,
		AQI:        int(math.Round(obs.AQI)),
		Station:    obs.Station,
		ObservedAt: obs.Timestamp,
	}
	if cat, ok := aqi.LookupCategory(obs.AQI); ok {
		resp.Level = cat.Level
		resp.Color = cat.Color
		resp.Implications = cat.Implications
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type historyPoint struct {
	Date string  `json:"date"`
	AQI  float64 `json:"aqi"`
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		s.writeError(w, http.StatusBadRequest, "city required")
		return
	}

	days := 90
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "days must be positive")
			return
		}
		days = n
	}

	if from, to := q.Get("from"), q.Get("to"); from != "" || to != "" {
		s.historyRange(w, city, from, to)
		return
	}

	series, err := s.store.GetHistoricalSeries(city)
	if err != nil {
		s.logger.Error("api: history", "city", city, "error", err)
		s.writeError(w, http.StatusInternalServerError, unavailable)
		return
	}
	if series == nil {
		s.writeError(w, http.StatusNotFound, "no history for "+city)
		return
	}

	// trailing window ending at the last stored day
	cutoff := series[len(series)-1].Date.AddDate(0, 0, -days)
	out := make([]historyPoint, 0, min(days, len(series)))
	for _, p := range series {
		if p.Date.After(cutoff) {
			out = append(out, historyPoint{Date: p.Date.Format(time.DateOnly), AQI: p.AQI})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyRange(w http.ResponseWriter, city, from, to string) {
	start, end := time.Time{}, time.Now().UTC()
	var err error
	if from != "" {
		if start, err = time.Parse(time.DateOnly, from); err != nil {
			s.writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
	}
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			s.writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
	}

	series, err := s.store.GetHistoricalRange(city, start, end)
	if err != nil {
		s.logger.Error("api: history range", "city", city, "error", err)
		s.writeError(w, http.StatusInternalServerError, unavailable)
		return
	}

	out := make([]historyPoint, 0, len(series))
	for _, p := range series {
		out = append(out, historyPoint{Date: p.Date.Format(time.DateOnly), AQI: p.AQI})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type cityResponse struct {
	City  string `json:"city"`
	Days  int    `json:"days"`
	First string `json:"first"`
	Last  string `json:"last"`
}

func (s *Server) handleAPICities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.store.HistoryCities()
	if err != nil {
		s.logger.Error("api: cities", "error", err)
		s.writeError(w, http.StatusInternalServerError, unavailable)
		return
	}

	out := make([]cityResponse, 0, len(cities))
	for _, c := range cities {
		out = append(out, cityResponse{
			City:  c.City,
			Days:  c.Count,
			First: c.First.Format(time.DateOnly),
			Last:  c.Last.Format(time.DateOnly),
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type modelResponse struct {
	City               string   `json:"city"`
	Version            string   `json:"version"`
	LastTrainingDate   string   `json:"last_training_date"`
	Regressors         []string `json:"regressors"`
	HistoricalResidual *float64 `json:"historical_residual,omitempty"`
	ImportedAt         string   `json:"imported_at"`
}

func (s *Server) handleAPIModels(w http.ResponseWriter, r *http.Request) {
	ms, err := s.store.ListModels()
	if err != nil {
		s.logger.Error("api: models", "error", err)
		s.writeError(w, http.StatusInternalServerError, unavailable)
		return
	}

	out := make([]modelResponse, 0, len(ms))
	for _, m := range ms {
		mr := modelResponse{
			City:             m.City,
			Version:          m.Version,
			LastTrainingDate: m.LastTrainingDate.Format(time.DateOnly),
			Regressors:       m.RegressorNames,
			ImportedAt:       m.ImportedAt.UTC().Format(time.RFC3339),
		}
		if mr.Regressors == nil {
			mr.Regressors = []string{}
		}
		if m.HistoricalResidual.Valid {
			v := m.HistoricalResidual.Float64
			mr.HistoricalResidual = &v
		}
		out = append(out, mr)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIModelsReload(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeError(w, http.StatusNotImplemented, "no model cache")
		return
	}

	q := r.URL.Query()
	city := strings.TrimSpace(q.Get("city"))
	if city == "" {
		s.cache.InvalidateAll()
		s.logger.Info("api: model cache cleared")
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		return
	}

	version := q.Get("version")
	if version == "" {
		s.writeError(w, http.StatusBadRequest, "version required with city")
		return
	}
	s.cache.Invalidate(city, version)
	s.logger.Info("api: model evicted", "city", city, "version", version)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "evicted"})
}

type runResponse struct {
	StartedAt         time.Time `json:"started_at"`
	DaysAhead         int       `json:"days_ahead"`
	ModelVersion      string    `json:"model_version,omitempty"`
	Points            int64     `json:"points"`
	Success           bool      `json:"success"`
	CorrectionApplied bool      `json:"correction_applied"`
	BaseResidual      *float64  `json:"base_residual,omitempty"`
	CorrectionReason  string    `json:"correction_reason,omitempty"`
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))
	if city == "" {
		s.writeError(w, http.StatusBadRequest, "city required")
		return
	}

	runs, err := s.store.RecentForecastRuns(city, 20)
	if err != nil {
		s.logger.Error("api: runs", "city", city, "error", err)
		s.writeError(w, http.StatusInternalServerError, unavailable)
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		rr := runResponse{
			StartedAt:         run.StartedAt,
			DaysAhead:         run.DaysAhead,
			ModelVersion:      run.ModelVersion.String,
			Points:            run.Points.Int64,
			Success:           run.Success,
			CorrectionApplied: run.CorrectionApplied,
			CorrectionReason:  run.CorrectionReason.String,
		}
		if run.BaseResidual.Valid {
			v := run.BaseResidual.Float64
			rr.BaseResidual = &v
		}
		out = append(out, rr)
	}
	s.writeJSON(w, http.StatusOK, out)
}
