package weather

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/lox/airwatch/internal/httputil"
	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/models"
)

const (
	DefaultBaseURL = "https://api.weatherapi.com/v1"
	sourceName     = "weatherapi"
	forecastPath   = "forecast.json"

	// WeatherAPI error code for an unresolvable location.
	codeNoLocation = 1006
)

// PayloadRecorder archives raw supplier responses.
type PayloadRecorder interface {
	StoreRawPayload(source, endpoint, city string, httpStatus int, payload []byte) (int64, error)
}

// Client fetches daily outlooks from WeatherAPI.com.
type Client struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	recorder PayloadRecorder
	logger   *slog.Logger
	maxRetry time.Duration
}

type ClientOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64
	Logger            *slog.Logger
}

func NewClient(opts ClientOptions) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:   opts.APIKey,
		baseURL:  baseURL,
		client:   httputil.NewClient(opts.Timeout),
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		maxRetry: 30 * time.Second,
	}
}

// SetPayloadRecorder enables archiving of raw responses.
func (c *Client) SetPayloadRecorder(r PayloadRecorder) {
	c.recorder = r
}

type forecastResponse struct {
	Location struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"location"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC          *float64 `json:"maxtemp_c"`
				MinTempC          *float64 `json:"mintemp_c"`
				AvgTempC          *float64 `json:"avgtemp_c"`
				MaxWindKph        *float64 `json:"maxwind_kph"`
				TotalPrecipMM     *float64 `json:"totalprecip_mm"`
				AvgVisKm          *float64 `json:"avgvis_km"`
				AvgHumidity       *float64 `json:"avghumidity"`
				UV                *float64 `json:"uv"`
				DailyChanceOfRain *int     `json:"daily_chance_of_rain"`
				Condition         struct {
					Text string `json:"text"`
					Icon string `json:"icon"`
				} `json:"condition"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Outlook returns up to days daily summaries starting today. It returns nil
// without error when the supplier does not know the city.
func (c *Client) Outlook(ctx context.Context, city string, days int) ([]models.WeatherDay, error) {
	if days < 1 {
		days = 1
	}
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", city)
	q.Set("days", strconv.Itoa(days))
	q.Set("aqi", "no")
	q.Set("alerts", "no")
	endpoint := c.baseURL + "/" + forecastPath + "?" + q.Encode()

	var body []byte
	var status int
	unknownCity := false
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
		}

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

		if resp.StatusCode == http.StatusBadRequest {
			var e errorResponse
			if json.Unmarshal(b, &e) == nil && e.Error.Code == codeNoLocation {
				unknownCity = true
				return nil
			}
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
		return nil, fmt.Errorf("fetch outlook for %s: %w", city, err)
	}
	if unknownCity {
		c.logger.Info("weather: unknown city", "city", city)
		return nil, nil
	}

	if c.recorder != nil {
		if _, err := c.recorder.StoreRawPayload(sourceName, forecastPath, city, status, body); err != nil {
			c.logger.Warn("weather: store raw payload", "error", err)
		}
	}

	return parseOutlook(body)
}

func parseOutlook(body []byte) ([]models.WeatherDay, error) {
	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrUpstream, Err: fmt.Errorf("unmarshal: %w", err)}
	}

	var days []models.WeatherDay
	var parseErrs []error
	for i, fd := range data.Forecast.ForecastDay {
		date, err := time.Parse("2006-01-02", fd.Date)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("forecastday[%d].date=%q: %w", i, fd.Date, err))
			continue
		}
		d := fd.Day
		wd := models.WeatherDay{
			Date:          date,
			AvgTempC:      nullFloat(d.AvgTempC),
			MaxTempC:      nullFloat(d.MaxTempC),
			MinTempC:      nullFloat(d.MinTempC),
			AvgHumidity:   nullFloat(d.AvgHumidity),
			MaxWindKph:    nullFloat(d.MaxWindKph),
			TotalPrecipMM: nullFloat(d.TotalPrecipMM),
			AvgVisKm:      nullFloat(d.AvgVisKm),
			UV:            nullFloat(d.UV),
			Condition:     d.Condition.Text,
			Icon:          d.Condition.Icon,
		}
		if d.DailyChanceOfRain != nil {
			wd.ChanceOfRain = sql.NullInt64{Int64: int64(*d.DailyChanceOfRain), Valid: true}
		}
		days = append(days, wd)
	}
	if len(days) == 0 && len(parseErrs) > 0 {
		return nil, &httputil.APIError{Source: sourceName, Kind: httputil.ErrUpstream, Err: errors.Join(parseErrs...)}
	}
	return days, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
