// Package aqi reads live air-quality observations and maps AQI values to
// health categories.
package aqi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/airwatch/internal/httputil"
	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/models"
)

const (
	DefaultBaseURL = "https://api.waqi.info"
	sourceName     = "waqi"
)

// PayloadRecorder archives raw supplier responses.
type PayloadRecorder interface {
	StoreRawPayload(source, endpoint, city string, httpStatus int, payload []byte) (int64, error)
}

// Client reads city feeds from the World Air Quality Index project.
type Client struct {
	token    string
	baseURL  string
	client   *http.Client
	recorder PayloadRecorder
	logger   *slog.Logger
	maxRetry time.Duration
}

func NewClient(token, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:    token,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   httputil.NewClient(timeout),
		logger:   logger,
		maxRetry: 20 * time.Second,
	}
}

// SetPayloadRecorder enables archiving of raw responses.
func (c *Client) SetPayloadRecorder(r PayloadRecorder) {
	c.recorder = r
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  json.RawMessage `json:"aqi"` // number, or "-" when the station has no reading
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
}

// Current returns the latest observation for city, or nil when the city has
// no station or the station has no reading.
func (c *Client) Current(ctx context.Context, city string) (*models.AQIObservation, error) {
	endpoint := fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, url.PathEscape(city), url.QueryEscape(c.token))

	var body []byte
	var status int
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		metrics.SupplierLatency.WithLabelValues(sourceName).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.SupplierCallsTotal.WithLabelValues(sourceName, "error").Inc()
			return backoff.Permanent(httputil.TransportError(sourceName, err))
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		metrics.SupplierCallsTotal.WithLabelValues(sourceName, strconv.Itoa(status)).Inc()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(httputil.TransportError(sourceName, fmt.Errorf("read body: %w", err)))
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := httputil.StatusError(sourceName, resp.StatusCode, b)
			if httputil.Retryable(apiErr) {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxRetry
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("fetch live aqi for %s: %w", city, err)
	}

	if c.recorder != nil {
		if _, err := c.recorder.StoreRawPayload(sourceName, "feed", city, status, body); err != nil {
			c.logger.Warn("aqi: store raw payload", "error", err)
		}
	}

	return parseFeed(city, body)
}

func parseFeed(city string, body []byte) (*models.AQIObservation, error) {
	var resp feedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrUpstream, Err: fmt.Errorf("unmarshal: %w", err)}
	}

	if resp.Status != "ok" {
		var msg string
		_ = json.Unmarshal(resp.Data, &msg)
		switch strings.ToLower(msg) {
		case "unknown station":
			return nil, nil
		case "invalid key":
			return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrAuth, Err: fmt.Errorf("%s", msg)}
		case "over quota":
			return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrRateLimit, Err: fmt.Errorf("%s", msg)}
		}
		return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrUpstream, Err: fmt.Errorf("status %q: %s", resp.Status, msg)}
	}

	var data feedData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrUpstream, Err: fmt.Errorf("unmarshal data: %w", err)}
	}

	var value float64
	if err := json.Unmarshal(data.AQI, &value); err != nil {
		return nil, nil
	}

	obs := &models.AQIObservation{
		City:    city,
		AQI:     value,
		Station: data.City.Name,
	}
	if ts, err := time.Parse(time.RFC3339, data.Time.ISO); err == nil {
		obs.Timestamp = ts
	}
	return obs, nil
}
