// Package forecast turns a fitted city model and a weather outlook into a
// corrected, categorised multi-day AQI forecast.
package forecast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/airwatch/internal/aqi"
	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/models"
	"github.com/lox/airwatch/internal/store"
	"github.com/lox/airwatch/internal/tsmodel"
)

const (
	DefaultVersion     = "v1"
	DefaultDecayFactor = 0.7
)

type ModelLoader interface {
	Load(ctx context.Context, city, version string) (*tsmodel.Model, error)
}

// RegressorSource assembles model inputs from a weather outlook.
type RegressorSource interface {
	RegressorFrame(ctx context.Context, city string, dates []time.Time, names []string) (*tsmodel.Frame, error)
	CurrentConditionsFrame(ctx context.Context, city string, date time.Time, names []string) (*tsmodel.Frame, error)
}

// LiveAQISource returns nil when no reading is available for the city.
type LiveAQISource interface {
	Current(ctx context.Context, city string) (*models.AQIObservation, error)
}

type RunRecorder interface {
	RecordForecastRun(run *store.ForecastRun) error
}

type Config struct {
	Version     string
	DecayFactor float64
	Location    *time.Location
	Clock       clockwork.Clock
	Lookup      CategoryLookup
	Logger      *slog.Logger
}

type Request struct {
	City            string
	DaysAhead       int
	ApplyCorrection bool
	// LastKnownAQI replaces the live reading when set.
	LastKnownAQI *float64
}

type Result struct {
	City       string
	Version    string
	Range      DateRange
	Points     []models.ForecastPoint
	Correction Correction
}

type Engine struct {
	models     ModelLoader
	regressors RegressorSource
	corrector  *Corrector
	recorder   RunRecorder

	version string
	decay   float64
	loc     *time.Location
	clock   clockwork.Clock
	lookup  CategoryLookup
	logger  *slog.Logger
}

func NewEngine(loader ModelLoader, regressors RegressorSource, live LiveAQISource, cfg Config) (*Engine, error) {
	if loader == nil {
		return nil, errors.New("forecast: model loader required")
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.DecayFactor == 0 {
		cfg.DecayFactor = DefaultDecayFactor
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		return nil, fmt.Errorf("forecast: decay factor %v outside (0, 1]", cfg.DecayFactor)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Lookup == nil {
		cfg.Lookup = aqi.LookupCategory
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		models:     loader,
		regressors: regressors,
		corrector:  NewCorrector(regressors, live, cfg.Logger),
		version:    cfg.Version,
		decay:      cfg.DecayFactor,
		loc:        cfg.Location,
		clock:      cfg.Clock,
		lookup:     cfg.Lookup,
		logger:     cfg.Logger,
	}, nil
}

// SetRunRecorder enables the forecast run audit log.
func (e *Engine) SetRunRecorder(r RunRecorder) {
	e.recorder = r
}

// Today is the engine's current calendar day.
func (e *Engine) Today() time.Time {
	return tsmodel.Day(e.clock.Now(), e.loc)
}

// Generate produces the forecast for tomorrow through DaysAhead days from
// today. It returns nil with no error when the window holds no points.
// Correction failures never fail the call.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	run := &store.ForecastRun{
		StartedAt: e.clock.Now().UTC(),
		City:      req.City,
		DaysAhead: req.DaysAhead,
	}

	res, err := e.generate(ctx, req)

	run.FinishedAt = sql.NullTime{Time: e.clock.Now().UTC(), Valid: true}
	switch {
	case err != nil:
		metrics.ForecastsTotal.WithLabelValues("error").Inc()
		run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
	case res == nil:
		metrics.ForecastsTotal.WithLabelValues("empty").Inc()
		run.Success = true
	default:
		metrics.ForecastsTotal.WithLabelValues("ok").Inc()
		run.Success = true
		run.ModelVersion = sql.NullString{String: res.Version, Valid: true}
		run.Points = sql.NullInt64{Int64: int64(len(res.Points)), Valid: true}
		run.CorrectionApplied = res.Correction.Applied
		if res.Correction.Applied {
			run.BaseResidual = sql.NullFloat64{Float64: res.Correction.BaseResidual, Valid: true}
		}
		if res.Correction.Reason != "" {
			run.CorrectionReason = sql.NullString{String: res.Correction.Reason, Valid: true}
		}
	}
	if e.recorder != nil {
		if rerr := e.recorder.RecordForecastRun(run); rerr != nil {
			e.logger.Warn("forecast: record run", "city", req.City, "error", rerr)
		}
	}

	return res, err
}

func (e *Engine) generate(ctx context.Context, req Request) (*Result, error) {
	city := strings.TrimSpace(req.City)
	if city == "" {
		return nil, &PredictionError{City: req.City, Stage: stageLoad, Err: errors.New("city required")}
	}

	model, err := e.models.Load(ctx, city, e.version)
	if err != nil {
		return nil, &PredictionError{City: city, Stage: stageLoad, Err: err}
	}

	rng, err := ResolveDateRange(model.LastTrainingDate(), req.DaysAhead, e.Today())
	if err != nil {
		return nil, &PredictionError{City: city, Stage: stageRange, Err: err}
	}

	dates := model.FutureDates(rng.TotalPeriods)
	names := model.RegressorNames()
	frame := tsmodel.NewFrame(dates, nil)
	if len(names) > 0 {
		if e.regressors == nil {
			return nil, &PredictionError{City: city, Stage: stageRegressors, Err: errors.New("no regressor source")}
		}
		frame, err = e.regressors.RegressorFrame(ctx, city, dates, names)
		if err != nil {
			return nil, &PredictionError{City: city, Stage: stageRegressors, Err: err}
		}
	}

	preds, err := model.Predict(frame)
	if err != nil {
		return nil, &PredictionError{City: city, Stage: stageInference, Err: err}
	}

	var points []models.ForecastPoint
	for _, p := range preds {
		if !rng.Contains(p.Date) {
			continue
		}
		points = append(points, models.ForecastPoint{
			Date:      p.Date,
			Yhat:      p.Yhat,
			YhatLower: p.Lower,
			YhatUpper: p.Upper,
		})
	}
	if len(points) == 0 {
		e.logger.Warn("forecast: empty window", "city", city,
			"target_start", rng.TargetStart.Format(time.DateOnly), "target_end", rng.TargetEnd.Format(time.DateOnly))
		return nil, nil
	}

	corr := Correction{Reason: "not requested"}
	if req.ApplyCorrection {
		corr = e.corrector.Compute(ctx, model, city, req.LastKnownAQI)
	}
	ApplyCorrection(points, corr, e.decay)

	e.logger.Debug("forecast: generated", "city", city, "version", model.Version(),
		"points", len(points), "bridged", rng.Bridging(), "corrected", corr.Applied)

	return &Result{
		City:       city,
		Version:    model.Version(),
		Range:      rng,
		Points:     points,
		Correction: corr,
	}, nil
}

// GenerateCityForecast is the display-facing form of Generate. Any failure is
// logged and yields an empty slice.
func (e *Engine) GenerateCityForecast(ctx context.Context, city string, daysAhead int, correct bool) []models.RiskRecord {
	res, err := e.Generate(ctx, Request{City: city, DaysAhead: daysAhead, ApplyCorrection: correct})
	if err != nil {
		e.logger.Error("forecast: generate failed", "city", city, "days_ahead", daysAhead, "error", err)
		return []models.RiskRecord{}
	}
	if res == nil {
		return []models.RiskRecord{}
	}
	return FormatRisks(res.Points, e.lookup)
}
