// Package config holds the command-line and environment settings shared by
// every airwatch command.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is embedded in the kong CLI. Every flag can also come from the
// environment or a .env file.
type Config struct {
	DB        string `help:"SQLite database path." default:"data/airwatch.db" env:"AIRWATCH_DB"`
	LogLevel  string `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"LOG_LEVEL"`
	LogFormat string `help:"Log format." default:"text" enum:"text,json" env:"LOG_FORMAT"`
	TimeZone  string `help:"IANA zone that defines today." default:"Asia/Kolkata" env:"AIRWATCH_TZ"`

	WeatherAPIKey  string        `help:"WeatherAPI.com key." env:"WEATHER_API_KEY"`
	WeatherBaseURL string        `help:"WeatherAPI.com base URL." default:"https://api.weatherapi.com/v1" env:"WEATHER_BASE_URL"`
	WeatherRPS     float64       `help:"Weather requests per second." default:"2" env:"WEATHER_RPS"`
	WAQIToken      string        `help:"WAQI API token." env:"WAQI_TOKEN"`
	WAQIBaseURL    string        `help:"WAQI base URL." default:"https://api.waqi.info" env:"WAQI_BASE_URL"`
	HTTPTimeout    time.Duration `help:"Timeout for each supplier call." default:"12s" env:"HTTP_TIMEOUT"`

	ModelVersion    string   `help:"Model version to serve." default:"v1" env:"MODEL_VERSION"`
	Regressors      []string `help:"Regressors models are expected to use." default:"temperature,wind_speed,humidity" env:"MODEL_REGRESSORS"`
	DecayFactor     float64  `help:"Residual decay per forecast day, in (0, 1]." default:"0.7" env:"DECAY_FACTOR"`
	MaxForecastDays int      `help:"Longest horizon served." default:"14" env:"MAX_FORECAST_DAYS"`
}

// Validate is called by kong after parsing.
func (c *Config) Validate() error {
	var errs []error
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		errs = append(errs, fmt.Errorf("decay factor %v outside (0, 1]", c.DecayFactor))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("http timeout must be positive"))
	}
	if c.MaxForecastDays < 1 {
		errs = append(errs, errors.New("max forecast days must be at least 1"))
	}
	if c.WeatherRPS <= 0 {
		errs = append(errs, errors.New("weather rps must be positive"))
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("time zone %q: %w", c.TimeZone, err))
	}
	return errors.Join(errs...)
}

// Location returns the configured zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ConfiguredRegressors returns the regressor list with blanks removed.
func (c *Config) ConfiguredRegressors() []string {
	out := make([]string, 0, len(c.Regressors))
	for _, r := range c.Regressors {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnsureDir creates the parent directory of the database file.
func (c *Config) EnsureDir() error {
	dir := filepath.Dir(c.DB)
	if dir == "." || dir == "" || c.DB == ":memory:" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
