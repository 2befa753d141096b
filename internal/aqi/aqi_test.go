package aqi

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/airwatch/internal/httputil"
)

func TestLookupCategory(t *testing.T) {
	tests := []struct {
		value float64
		level string
		ok    bool
	}{
		{0, "Good", true},
		{50, "Good", true},
		{50.4, "Good", true},
		{50.5, "Satisfactory", true},
		{75, "Satisfactory", true},
		{100, "Satisfactory", true},
		{101, "Moderate", true},
		{250, "Poor", true},
		{399.9, "Very Poor", true},
		{400.5, "Severe", true},
		{350, "Very Poor", true},
		{401, "Severe", true},
		{999, "Severe", true},
		{-3, "", false},
		{math.NaN(), "", false},
		{math.Inf(1), "", false},
	}

	for _, tt := range tests {
		got, ok := LookupCategory(tt.value)
		assert.Equal(t, tt.ok, ok, "value %v", tt.value)
		assert.Equal(t, tt.level, got.Level, "value %v", tt.value)
	}
}

func TestCategories_Contiguous(t *testing.T) {
	for i := 1; i < len(Categories); i++ {
		assert.Equal(t, Categories[i-1].Max+1, Categories[i].Min, "gap before %s", Categories[i].Level)
	}
}

func testClient(baseURL string) *Client {
	c := NewClient("tok", baseURL, 5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.maxRetry = 5 * time.Second
	return c
}

func TestCurrent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/delhi/", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		io.WriteString(w, `{"status":"ok","data":{"aqi":187,"city":{"name":"Anand Vihar, Delhi"},"time":{"iso":"2025-01-15T10:00:00+05:30"}}}`)
	}))
	defer srv.Close()

	obs, err := testClient(srv.URL).Current(context.Background(), "delhi")
	require.NoError(t, err)
	require.NotNil(t, obs)
	assert.Equal(t, 187.0, obs.AQI)
	assert.Equal(t, "Anand Vihar, Delhi", obs.Station)
	assert.Equal(t, 2025, obs.Timestamp.Year())
}

func TestCurrent_NoReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"ok","data":{"aqi":"-","city":{"name":"Somewhere"}}}`)
	}))
	defer srv.Close()

	obs, err := testClient(srv.URL).Current(context.Background(), "somewhere")
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestCurrent_UnknownStation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"error","data":"Unknown station"}`)
	}))
	defer srv.Close()

	obs, err := testClient(srv.URL).Current(context.Background(), "atlantis")
	require.NoError(t, err)
	assert.Nil(t, obs)
}

func TestCurrent_InvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"error","data":"Invalid key"}`)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Current(context.Background(), "delhi")
	assert.ErrorIs(t, err, httputil.ErrAuth)
}

func TestCurrent_ServerErrorRetriedThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.maxRetry = 300 * time.Millisecond
	_, err := c.Current(context.Background(), "delhi")
	assert.ErrorIs(t, err, httputil.ErrUpstream)
	assert.GreaterOrEqual(t, calls, 1)
}
