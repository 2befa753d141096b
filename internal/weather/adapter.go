// Package weather sources daily weather outlooks and turns them into the
// regressor frames forecasting models consume.
package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/airwatch/internal/models"
	"github.com/lox/airwatch/internal/tsmodel"
)

const DefaultMaxForecastDays = 14

var ErrRegressorResolution = errors.New("regressor resolution failed")

// Supplier returns daily outlooks starting today, or nil for an unknown city.
type Supplier interface {
	Outlook(ctx context.Context, city string, days int) ([]models.WeatherDay, error)
}

type Adapter struct {
	supplier Supplier
	clock    clockwork.Clock
	loc      *time.Location
	maxDays  int
	logger   *slog.Logger
}

func NewAdapter(supplier Supplier, clock clockwork.Clock, loc *time.Location, maxDays int, logger *slog.Logger) *Adapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	if maxDays <= 0 {
		maxDays = DefaultMaxForecastDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{supplier: supplier, clock: clock, loc: loc, maxDays: maxDays, logger: logger}
}

// RegressorFrame builds a frame with one row per date and one column per
// regressor. Dates outside the supplier's coverage are filled from the
// nearest covered day. A model without regressors gets an empty frame and
// no supplier call.
func (a *Adapter) RegressorFrame(ctx context.Context, city string, dates []time.Time, names []string) (*tsmodel.Frame, error) {
	frame := tsmodel.NewFrame(dates, names)
	if len(names) == 0 || len(dates) == 0 {
		return frame, nil
	}

	today := tsmodel.Day(a.clock.Now(), a.loc)
	days := int(dates[len(dates)-1].Sub(today).Hours()/24) + 1
	days = min(max(days, 1), a.maxDays)

	outlook, err := a.supplier.Outlook(ctx, city, days)
	if err != nil {
		return nil, fmt.Errorf("weather outlook: %w", err)
	}
	if len(outlook) == 0 {
		return nil, fmt.Errorf("%w: no weather outlook for %s", ErrRegressorResolution, city)
	}

	byDate := make(map[time.Time]models.WeatherDay, len(outlook))
	for _, d := range outlook {
		byDate[tsmodel.Day(d.Date, nil)] = d
	}

	for j, name := range names {
		field, ok := FieldFor(name)
		if !ok {
			a.logger.Warn("weather: no supplier field for regressor", "regressor", name)
			continue
		}
		for i, date := range dates {
			wd, ok := byDate[date]
			if !ok {
				continue
			}
			if v, ok := fieldValue(field, wd); ok {
				frame.Values[i][j] = v
			}
		}
	}

	frame.FillForwardBackward()
	if col, date, missing := frame.FirstMissing(); missing {
		return nil, fmt.Errorf("%w: %s has no value for %s in %s", ErrRegressorResolution, city, col, date.Format("2006-01-02"))
	}
	return frame, nil
}

// CurrentConditionsFrame returns a single-row frame dated date whose values
// are today's outlook. It stands in for regressor history the service does
// not keep.
func (a *Adapter) CurrentConditionsFrame(ctx context.Context, city string, date time.Time, names []string) (*tsmodel.Frame, error) {
	frame := tsmodel.NewFrame([]time.Time{date}, names)
	if len(names) == 0 {
		return frame, nil
	}

	outlook, err := a.supplier.Outlook(ctx, city, 1)
	if err != nil {
		return nil, fmt.Errorf("weather outlook: %w", err)
	}
	if len(outlook) == 0 {
		return nil, fmt.Errorf("%w: no current weather for %s", ErrRegressorResolution, city)
	}

	current := outlook[0]
	for j, name := range names {
		if field, ok := FieldFor(name); ok {
			if v, ok := fieldValue(field, current); ok {
				frame.Values[0][j] = v
			}
		}
	}
	if col, _, missing := frame.FirstMissing(); missing {
		return nil, fmt.Errorf("%w: %s has no current value for %s", ErrRegressorResolution, city, col)
	}
	return frame, nil
}
