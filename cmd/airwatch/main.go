package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"

	"github.com/lox/airwatch/internal/aqi"
	"github.com/lox/airwatch/internal/config"
	"github.com/lox/airwatch/internal/forecast"
	"github.com/lox/airwatch/internal/logging"
	"github.com/lox/airwatch/internal/modelstore"
	"github.com/lox/airwatch/internal/store"
	"github.com/lox/airwatch/internal/weather"

	_ "modernc.org/sqlite"
	_ "time/tzdata"
)

type CLI struct {
	config.Config `embed:""`

	Serve         ServeCmd         `cmd:"" help:"Serve the forecast HTTP API."`
	Forecast      ForecastCmd      `cmd:"" help:"Print a forecast for one city."`
	ImportHistory ImportHistoryCmd `cmd:"" name:"import-history" help:"Load historical AQI from a CSV file."`
	ImportModel   ImportModelCmd   `cmd:"" name:"import-model" help:"Store a trained model artifact."`
	Models        ModelsCmd        `cmd:"" help:"List stored model artifacts."`
}

// app is bound into every command's Run method.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB
	store  *store.Store
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("airwatch"),
		kong.Description("City air-quality forecasts from fitted models, weather outlooks and live AQI."),
		kong.UsageOnError(),
	)

	logger := logging.New(os.Stderr, cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	a, err := openApp(&cli.Config, logger)
	kctx.FatalIfErrorf(err)
	defer a.db.Close()

	kctx.FatalIfErrorf(kctx.Run(a))
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database migrated", "path", cfg.DB)

	return &app{cfg: cfg, logger: logger, db: db, store: st}, nil
}

// liveSource returns nil when no WAQI token is configured.
func (a *app) liveSource() *aqi.Client {
	if a.cfg.WAQIToken == "" {
		a.logger.Warn("WAQI_TOKEN not set, live AQI correction disabled")
		return nil
	}
	c := aqi.NewClient(a.cfg.WAQIToken, a.cfg.WAQIBaseURL, a.cfg.HTTPTimeout, a.logger)
	c.SetPayloadRecorder(a.store)
	return c
}

func (a *app) engine(live *aqi.Client) (*forecast.Engine, *modelstore.Store, error) {
	if a.cfg.WeatherAPIKey == "" {
		a.logger.Warn("WEATHER_API_KEY not set, models with regressors will fail")
	}
	wc := weather.NewClient(weather.ClientOptions{
		APIKey:            a.cfg.WeatherAPIKey,
		BaseURL:           a.cfg.WeatherBaseURL,
		Timeout:           a.cfg.HTTPTimeout,
		RequestsPerSecond: a.cfg.WeatherRPS,
		Logger:            a.logger,
	})
	wc.SetPayloadRecorder(a.store)

	clock := clockwork.NewRealClock()
	loc := a.cfg.Location()
	adapter := weather.NewAdapter(wc, clock, loc, a.cfg.MaxForecastDays, a.logger)
	models := modelstore.New(a.store, a.cfg.ConfiguredRegressors(), a.logger)

	var liveSrc forecast.LiveAQISource
	if live != nil {
		liveSrc = live
	}

	e, err := forecast.NewEngine(models, adapter, liveSrc, forecast.Config{
		Version:     a.cfg.ModelVersion,
		DecayFactor: a.cfg.DecayFactor,
		Location:    loc,
		Clock:       clock,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	e.SetRunRecorder(a.store)
	return e, models, nil
}
