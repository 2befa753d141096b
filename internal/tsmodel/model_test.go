package tsmodel

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func flatArtifact() Artifact {
	return Artifact{
		City:             "Delhi",
		Version:          "v1",
		LastTrainingDate: "2025-01-10",
		Trend:            Trend{Origin: "2025-01-10", Intercept: 100, Slope: 2},
		Regressors: []Regressor{
			{Name: "temperature", Coef: -5, Mean: 20, Std: 5},
			{Name: "wind_speed", Coef: -10, Mean: 10, Std: 0},
		},
		Sigma:         10,
		IntervalWidth: 0.8,
	}
}

func TestDecode(t *testing.T) {
	data, err := json.Marshal(flatArtifact())
	require.NoError(t, err)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "Delhi", m.City())
	assert.Equal(t, "v1", m.Version())
	assert.Equal(t, day("2025-01-10"), m.LastTrainingDate())
	assert.Equal(t, []string{"temperature", "wind_speed"}, m.RegressorNames())
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Artifact)
	}{
		{"no city", func(a *Artifact) { a.City = "" }},
		{"bad date", func(a *Artifact) { a.LastTrainingDate = "10/01/2025" }},
		{"negative sigma", func(a *Artifact) { a.Sigma = -1 }},
		{"interval too wide", func(a *Artifact) { a.IntervalWidth = 1 }},
		{"duplicate regressor", func(a *Artifact) { a.Regressors = append(a.Regressors, a.Regressors[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := flatArtifact()
			tt.mutate(&a)
			_, err := New(a)
			assert.Error(t, err)
		})
	}

	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestFutureDates(t *testing.T) {
	m, err := New(flatArtifact())
	require.NoError(t, err)

	dates := m.FutureDates(3)
	require.Len(t, dates, 3)
	assert.Equal(t, day("2025-01-11"), dates[0])
	assert.Equal(t, day("2025-01-13"), dates[2])
	assert.Empty(t, m.FutureDates(0))
}

func TestPredict(t *testing.T) {
	m, err := New(flatArtifact())
	require.NoError(t, err)

	frame := NewFrame(m.FutureDates(2), []string{"wind_speed", "temperature"})
	frame.Values[0] = []float64{10, 25} // wind at mean, temp +1 std
	frame.Values[1] = []float64{11, 20} // wind +1 (std 0 treated as 1), temp at mean

	preds, err := m.Predict(frame)
	require.NoError(t, err)
	require.Len(t, preds, 2)

	// trend 100 + 2*1, weekly/yearly zero, temperature -5
	assert.InDelta(t, 97, preds[0].Yhat, 1e-9)
	// trend 100 + 2*2, wind -10
	assert.InDelta(t, 94, preds[1].Yhat, 1e-9)

	assert.Less(t, preds[0].Lower, preds[0].Yhat)
	assert.Greater(t, preds[0].Upper, preds[0].Yhat)
	assert.InDelta(t, preds[0].Yhat-preds[0].Lower, preds[0].Upper-preds[0].Yhat, 1e-9)
}

func TestPredict_IntervalWidensWithHorizon(t *testing.T) {
	a := flatArtifact()
	a.Regressors = nil
	a.TrendUncertainty = 0.5
	m, err := New(a)
	require.NoError(t, err)

	preds, err := m.Predict(NewFrame(m.FutureDates(5), nil))
	require.NoError(t, err)
	for i := 1; i < len(preds); i++ {
		assert.Greater(t, preds[i].Upper-preds[i].Lower, preds[i-1].Upper-preds[i-1].Lower)
	}
}

func TestPredict_Seasonality(t *testing.T) {
	a := flatArtifact()
	a.Regressors = nil
	a.Trend = Trend{Intercept: 50}
	a.Weekly[time.Saturday] = 7
	a.Yearly = []Fourier{{Cos: 3}}
	m, err := New(a)
	require.NoError(t, err)

	// 2025-01-11 is a Saturday, day-of-year index 10
	preds, err := m.Predict(NewFrame([]time.Time{day("2025-01-11")}, nil))
	require.NoError(t, err)
	want := 50 + 7 + 3*math.Cos(2*math.Pi*10/daysPerYear)
	assert.InDelta(t, want, preds[0].Yhat, 1e-9)
}

func TestPredict_RejectsMissingValues(t *testing.T) {
	m, err := New(flatArtifact())
	require.NoError(t, err)

	frame := NewFrame(m.FutureDates(1), []string{"temperature", "wind_speed"})
	frame.Values[0][0] = 20

	_, err = m.Predict(frame)
	assert.ErrorIs(t, err, ErrMissingRegressor)
}

func TestPredict_RejectsMissingColumn(t *testing.T) {
	m, err := New(flatArtifact())
	require.NoError(t, err)

	_, err = m.Predict(NewFrame(m.FutureDates(1), []string{"temperature"}))
	assert.ErrorIs(t, err, ErrFrameMismatch)

	_, err = m.Predict(nil)
	assert.ErrorIs(t, err, ErrFrameMismatch)
}

func TestFrame_FillForwardBackward(t *testing.T) {
	nan := math.NaN()
	f := NewFrame(make([]time.Time, 5), []string{"a", "b", "c"})
	f.Values = [][]float64{
		{nan, 1, nan},
		{2, nan, nan},
		{nan, nan, nan},
		{3, 4, nan},
		{nan, nan, nan},
	}
	f.FillForwardBackward()

	col := func(j int) []float64 {
		out := make([]float64, len(f.Values))
		for i := range f.Values {
			out[i] = f.Values[i][j]
		}
		return out
	}
	assert.Equal(t, []float64{2, 2, 2, 3, 3}, col(0))
	assert.Equal(t, []float64{1, 1, 1, 4, 4}, col(1))

	name, _, ok := f.FirstMissing()
	assert.True(t, ok)
	assert.Equal(t, "c", name)
}
