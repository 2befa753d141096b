package ingest

import (
	"strings"

	"github.com/lox/airwatch/internal/models"
)

const (
	FlagCityMissing = "city_missing"
	FlagAQINegative = "aqi_negative"
	FlagAQIUnlikely = "aqi_unlikely"
	FlagDateMissing = "date_missing"
	maxPlausibleAQI = 1000
)

// ValidateHistoricalPoint returns quality flags for a parsed row. Rejecting
// flags are listed by Rejects.
func ValidateHistoricalPoint(p *models.HistoricalPoint) []string {
	var flags []string

	if strings.TrimSpace(p.City) == "" {
		flags = append(flags, FlagCityMissing)
	}

	if p.Date.IsZero() {
		flags = append(flags, FlagDateMissing)
	}

	if p.AQI < 0 {
		flags = append(flags, FlagAQINegative)
	} else if p.AQI > maxPlausibleAQI {
		flags = append(flags, FlagAQIUnlikely)
	}

	return flags
}

// Rejects reports whether any flag makes the row unusable for training.
func Rejects(flags []string) bool {
	for _, f := range flags {
		switch f {
		case FlagCityMissing, FlagDateMissing, FlagAQINegative:
			return true
		}
	}
	return false
}
