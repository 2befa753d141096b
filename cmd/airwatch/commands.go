package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/lox/airwatch/internal/api"
	"github.com/lox/airwatch/internal/aqi"
	"github.com/lox/airwatch/internal/forecast"
	"github.com/lox/airwatch/internal/ingest"
	"github.com/lox/airwatch/internal/store"
	"github.com/lox/airwatch/internal/tsmodel"
)

type ServeCmd struct {
	Addr             string `help:"Listen address." default:":8080" env:"HTTP_ADDR"`
	DefaultDays      int    `help:"Horizon when a request gives none." default:"7"`
	PayloadRetention int    `help:"Days of raw supplier payloads to keep; 0 keeps all." default:"30"`
}

func (c *ServeCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	live := a.liveSource()
	engine, cache, err := a.engine(live)
	if err != nil {
		return err
	}

	var liveAPI api.LiveAQI
	if live != nil {
		liveAPI = live
	}
	srv := api.NewServer(a.store, engine, liveAPI, api.Options{
		Cache:          cache,
		Addr:           c.Addr,
		DefaultDays:    c.DefaultDays,
		MaxDays:        a.cfg.MaxForecastDays,
		RequestTimeout: 3 * a.cfg.HTTPTimeout,
		Logger:         a.logger,
	})

	if c.PayloadRetention > 0 {
		go c.cleanupLoop(ctx, a)
	}

	return srv.Run(ctx)
}

func (c *ServeCmd) cleanupLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		n, err := a.store.CleanupOldRawPayloads(c.PayloadRetention)
		if err != nil {
			a.logger.Warn("cleanup raw payloads", "error", err)
		} else if n > 0 {
			a.logger.Info("cleaned up raw payloads", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type ForecastCmd struct {
	City         string   `arg:"" help:"City name."`
	Days         int      `help:"Days ahead." default:"7" short:"d"`
	NoCorrect    bool     `help:"Skip live AQI correction."`
	LastKnownAQI *float64 `help:"Use this AQI as today's actual instead of the live reading."`
	JSON         bool     `help:"Print JSON."`
}

func (c *ForecastCmd) Run(a *app) error {
	if c.Days < 1 || c.Days > a.cfg.MaxForecastDays {
		return fmt.Errorf("days must be between 1 and %d", a.cfg.MaxForecastDays)
	}

	history, err := a.store.GetHistoricalSeries(c.City)
	if err != nil {
		return err
	}
	if history == nil {
		a.logger.Warn("no historical data for city", "city", c.City)
	}

	var live *aqi.Client
	if !c.NoCorrect && c.LastKnownAQI == nil {
		live = a.liveSource()
	}
	engine, _, err := a.engine(live)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*a.cfg.HTTPTimeout)
	defer cancel()

	res, err := engine.Generate(ctx, forecast.Request{
		City:            c.City,
		DaysAhead:       c.Days,
		ApplyCorrection: !c.NoCorrect,
		LastKnownAQI:    c.LastKnownAQI,
	})
	if err != nil {
		return err
	}
	if res == nil {
		return fmt.Errorf("no forecast points for %s", c.City)
	}

	records := forecast.FormatRisks(res.Points, aqi.LookupCategory)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	fmt.Printf("%s (model %s, trained through %s)\n", res.City, res.Version, res.Range.LastTraining.Format(time.DateOnly))
	if res.Correction.Applied {
		fmt.Printf("correction: actual %.0f, model %.1f, residual %+.1f\n",
			res.Correction.Actual, res.Correction.Predicted, res.Correction.BaseResidual)
	} else {
		fmt.Printf("correction: none (%s)\n", res.Correction.Reason)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tAQI\tRAW\tRANGE\tLEVEL")
	for i, r := range records {
		p := res.Points[i]
		fmt.Fprintf(tw, "%s\t%d\t%.1f\t%.0f-%.0f\t%s\n", r.Date, r.PredictedAQI, p.Yhat, p.YhatLower, p.YhatUpper, r.Level)
	}
	return tw.Flush()
}

type ImportHistoryCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV with date and AQI columns."`
	City string `help:"City for files without a city column."`
}

func (c *ImportHistoryCmd) Run(a *app) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := ingest.NewHistoryImporter(a.store, a.cfg.Location(), a.logger).Import(f, c.City)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d of %d rows (%d blank, %d rejected, %d unparseable)\n",
		stats.Imported, stats.Rows, stats.Blank, stats.Rejected, stats.ParseErrors)
	return nil
}

type ImportModelCmd struct {
	File               string   `arg:"" type:"existingfile" help:"Model artifact JSON."`
	Version            string   `help:"Override the artifact's version."`
	HistoricalResidual *float64 `help:"Residual measured at training time."`
}

func (c *ImportModelCmd) Run(a *app) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	m, err := tsmodel.Decode(data)
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}

	version := m.Version()
	if c.Version != "" {
		version = c.Version
	}
	if version == "" {
		version = a.cfg.ModelVersion
	}

	artifact := store.ModelArtifact{
		City:             m.City(),
		Version:          version,
		LastTrainingDate: m.LastTrainingDate(),
		RegressorNames:   m.RegressorNames(),
		Payload:          data,
	}
	if c.HistoricalResidual != nil {
		artifact.HistoricalResidual = sql.NullFloat64{Float64: *c.HistoricalResidual, Valid: true}
	}

	changed, err := a.store.SaveModelArtifact(artifact)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s@%s unchanged\n", store.NormalizeCity(m.City()), version)
		return nil
	}
	fmt.Printf("stored %s@%s (trained through %s, regressors: %s)\n", store.NormalizeCity(m.City()), version,
		m.LastTrainingDate().Format(time.DateOnly), strings.Join(m.RegressorNames(), ", "))
	return nil
}

type ModelsCmd struct{}

func (c *ModelsCmd) Run(a *app) error {
	infos, err := a.store.ListModels()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CITY\tVERSION\tTRAINED THROUGH\tREGRESSORS\tIMPORTED")
	for _, m := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.City, m.Version, m.LastTrainingDate.Format(time.DateOnly),
			strings.Join(m.RegressorNames, ","), m.ImportedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
