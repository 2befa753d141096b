// Package tsmodel holds the fitted per-city AQI forecasting model and its
// inference. Models are produced by the offline trainer as JSON artifacts.
package tsmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	dateLayout           = "2006-01-02"
	daysPerYear          = 365.25
	defaultIntervalWidth = 0.8
)

var (
	ErrMissingRegressor = errors.New("missing regressor value")
	ErrFrameMismatch    = errors.New("regressor frame does not match model")
)

// Artifact is the serialized form written by the trainer.
type Artifact struct {
	City             string      `json:"city"`
	Version          string      `json:"version"`
	LastTrainingDate string      `json:"last_training_date"`
	Trend            Trend       `json:"trend"`
	Yearly           []Fourier   `json:"yearly_seasonality"`
	Weekly           [7]float64  `json:"weekly_seasonality"` // indexed by time.Weekday
	Regressors       []Regressor `json:"regressors"`
	Sigma            float64     `json:"sigma"`
	IntervalWidth    float64     `json:"interval_width"`
	TrendUncertainty float64     `json:"trend_uncertainty"`
}

type Trend struct {
	Origin    string  `json:"origin"`
	Intercept float64 `json:"intercept"`
	Slope     float64 `json:"slope"` // per day
}

type Fourier struct {
	Cos float64 `json:"cos"`
	Sin float64 `json:"sin"`
}

// Regressor is an exogenous input, standardized with Mean and Std at fit time.
type Regressor struct {
	Name string  `json:"name"`
	Coef float64 `json:"coef"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Prediction is the model output for one day.
type Prediction struct {
	Date  time.Time
	Yhat  float64
	Lower float64
	Upper float64
}

// Model is immutable after Decode.
type Model struct {
	artifact     Artifact
	lastTraining time.Time
	origin       time.Time
	names        []string
	coefs        []float64
	means        []float64
	scales       []float64
	z            float64
}

// Decode parses and validates a serialized model.
func Decode(data []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return New(a)
}

func New(a Artifact) (*Model, error) {
	if strings.TrimSpace(a.City) == "" {
		return nil, errors.New("artifact has no city")
	}
	lastTraining, err := time.Parse(dateLayout, a.LastTrainingDate)
	if err != nil {
		return nil, fmt.Errorf("parse last_training_date %q: %w", a.LastTrainingDate, err)
	}
	origin := lastTraining
	if a.Trend.Origin != "" {
		origin, err = time.Parse(dateLayout, a.Trend.Origin)
		if err != nil {
			return nil, fmt.Errorf("parse trend origin %q: %w", a.Trend.Origin, err)
		}
	}
	if a.Sigma < 0 || math.IsNaN(a.Sigma) {
		return nil, fmt.Errorf("invalid sigma %v", a.Sigma)
	}
	if a.IntervalWidth == 0 {
		a.IntervalWidth = defaultIntervalWidth
	}
	if a.IntervalWidth <= 0 || a.IntervalWidth >= 1 {
		return nil, fmt.Errorf("interval_width %v outside (0, 1)", a.IntervalWidth)
	}
	if a.TrendUncertainty < 0 {
		return nil, fmt.Errorf("invalid trend_uncertainty %v", a.TrendUncertainty)
	}

	m := &Model{
		artifact:     a,
		lastTraining: lastTraining,
		origin:       origin,
		z:            distuv.UnitNormal.Quantile(0.5 + a.IntervalWidth/2),
	}
	seen := make(map[string]bool, len(a.Regressors))
	for _, r := range a.Regressors {
		if r.Name == "" {
			return nil, errors.New("regressor with empty name")
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate regressor %q", r.Name)
		}
		seen[r.Name] = true
		scale := r.Std
		if scale == 0 {
			scale = 1
		}
		m.names = append(m.names, r.Name)
		m.coefs = append(m.coefs, r.Coef)
		m.means = append(m.means, r.Mean)
		m.scales = append(m.scales, scale)
	}
	return m, nil
}

func (m *Model) City() string    { return m.artifact.City }
func (m *Model) Version() string { return m.artifact.Version }

// LastTrainingDate is the final day of the training history, at midnight UTC.
func (m *Model) LastTrainingDate() time.Time { return m.lastTraining }

// RegressorNames returns the exogenous variables in fit order.
func (m *Model) RegressorNames() []string {
	return append([]string(nil), m.names...)
}

// FutureDates returns the n days immediately following the training history.
func (m *Model) FutureDates(n int) []time.Time {
	dates := make([]time.Time, 0, max(n, 0))
	for i := 1; i <= n; i++ {
		dates = append(dates, m.lastTraining.AddDate(0, 0, i))
	}
	return dates
}

// Predict runs inference for every date in frame. The frame must carry a
// value for each of the model's regressors on every row.
func (m *Model) Predict(frame *Frame) ([]Prediction, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrFrameMismatch)
	}
	cols := make([]int, len(m.names))
	for j, name := range m.names {
		cols[j] = frame.ColumnIndex(name)
		if cols[j] < 0 {
			return nil, fmt.Errorf("%w: column %q absent", ErrFrameMismatch, name)
		}
	}
	if len(frame.Values) != len(frame.Dates) {
		return nil, fmt.Errorf("%w: %d rows for %d dates", ErrFrameMismatch, len(frame.Values), len(frame.Dates))
	}

	x := make([]float64, len(m.names))
	out := make([]Prediction, 0, len(frame.Dates))
	for i, d := range frame.Dates {
		for j, c := range cols {
			v := frame.Values[i][c]
			if math.IsNaN(v) {
				return nil, fmt.Errorf("%w: %s on %s", ErrMissingRegressor, m.names[j], d.Format(dateLayout))
			}
			x[j] = (v - m.means[j]) / m.scales[j]
		}

		yhat := m.baseline(d)
		if len(x) > 0 {
			yhat += floats.Dot(m.coefs, x)
		}
		half := m.halfWidth(d)
		out = append(out, Prediction{
			Date:  d,
			Yhat:  yhat,
			Lower: yhat - half,
			Upper: yhat + half,
		})
	}
	return out, nil
}

func (m *Model) baseline(d time.Time) float64 {
	t := d.Sub(m.origin).Hours() / 24
	y := m.artifact.Trend.Intercept + m.artifact.Trend.Slope*t

	doy := float64(d.YearDay() - 1)
	for k, f := range m.artifact.Yearly {
		angle := 2 * math.Pi * float64(k+1) * doy / daysPerYear
		y += f.Cos*math.Cos(angle) + f.Sin*math.Sin(angle)
	}
	return y + m.artifact.Weekly[d.Weekday()]
}

// halfWidth widens with distance past the training cutoff.
func (m *Model) halfWidth(d time.Time) float64 {
	steps := math.Max(0, d.Sub(m.lastTraining).Hours()/24)
	return m.z * m.artifact.Sigma * math.Sqrt(1+m.artifact.TrendUncertainty*steps)
}
