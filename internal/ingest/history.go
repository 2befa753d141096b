// Package ingest loads the historical AQI dataset into the store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/models"
	"github.com/lox/airwatch/internal/tsmodel"
)

const batchSize = 500

var ErrNoColumns = errors.New("csv header missing required columns")

var (
	cityHeaders = []string{"city", "location", "station"}
	dateHeaders = []string{"date", "datetime", "timestamp", "day"}
	aqiHeaders  = []string{"aqi", "aqi_value", "value"}
)

type HistoryWriter interface {
	InsertHistory(points []models.HistoricalPoint) (int, error)
}

// ImportStats summarises one CSV import.
type ImportStats struct {
	Rows        int
	Imported    int
	Blank       int
	Rejected    int
	ParseErrors int
	Flags       map[string]int
}

type HistoryImporter struct {
	store  HistoryWriter
	loc    *time.Location
	logger *slog.Logger
}

// NewHistoryImporter parses timestamps without a zone in loc.
func NewHistoryImporter(store HistoryWriter, loc *time.Location, logger *slog.Logger) *HistoryImporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryImporter{store: store, loc: loc, logger: logger}
}

type columns struct {
	city, date, aqi int
}

func findColumns(header []string) (columns, error) {
	cols := columns{city: -1, date: -1, aqi: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case cols.city < 0 && contains(cityHeaders, name):
			cols.city = i
		case cols.date < 0 && contains(dateHeaders, name):
			cols.date = i
		case cols.aqi < 0 && contains(aqiHeaders, name):
			cols.aqi = i
		}
	}
	if cols.date < 0 || cols.aqi < 0 {
		return cols, fmt.Errorf("%w: need date and aqi, got %v", ErrNoColumns, header)
	}
	return cols, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Import reads a CSV with a header row naming date, AQI and optionally city
// columns. defaultCity is used when there is no city column or the cell is
// empty. Rows with blank AQI are counted and skipped; unparseable rows are
// counted and skipped.
func (h *HistoryImporter) Import(r io.Reader, defaultCity string) (ImportStats, error) {
	stats := ImportStats{Flags: make(map[string]int)}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("read header: %w", err)
	}
	cols, err := findColumns(header)
	if err != nil {
		return stats, err
	}
	if cols.city < 0 && strings.TrimSpace(defaultCity) == "" {
		return stats, fmt.Errorf("%w: no city column and no default city", ErrNoColumns)
	}

	batch := make([]models.HistoricalPoint, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := h.store.InsertHistory(batch)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		stats.Imported += n
		metrics.HistoryRowsImported.Add(float64(n))
		batch = batch[:0]
		return nil
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			stats.ParseErrors++
			h.logger.Warn("ingest: malformed csv row", "line", line, "error", err)
			continue
		}
		stats.Rows++

		p, blank, err := h.parseRow(record, cols, defaultCity)
		if err != nil {
			stats.ParseErrors++
			h.logger.Debug("ingest: skip row", "line", line, "error", err)
			continue
		}
		if blank {
			stats.Blank++
			continue
		}

		flags := ValidateHistoricalPoint(&p)
		for _, f := range flags {
			stats.Flags[f]++
		}
		if Rejects(flags) {
			stats.Rejected++
			continue
		}

		batch = append(batch, p)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	h.logger.Info("ingest: history imported",
		"rows", stats.Rows, "imported", stats.Imported, "blank", stats.Blank,
		"rejected", stats.Rejected, "parse_errors", stats.ParseErrors)
	return stats, nil
}

func (h *HistoryImporter) parseRow(record []string, cols columns, defaultCity string) (models.HistoricalPoint, bool, error) {
	var p models.HistoricalPoint

	p.City = strings.TrimSpace(defaultCity)
	if cols.city >= 0 && cols.city < len(record) {
		if c := strings.TrimSpace(record[cols.city]); c != "" {
			p.City = c
		}
	}

	raw := cell(record, cols.aqi)
	if raw == "" || strings.EqualFold(raw, "nan") || raw == "-" {
		return p, true, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return p, false, fmt.Errorf("aqi %q not a number", raw)
	}
	p.AQI = v

	ds := cell(record, cols.date)
	if ds == "" {
		return p, false, errors.New("date empty")
	}
	t, err := dateparse.ParseIn(ds, h.loc)
	if err != nil {
		return p, false, fmt.Errorf("date %q: %w", ds, err)
	}
	p.Date = tsmodel.Day(t, nil)

	return p, false, nil
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
