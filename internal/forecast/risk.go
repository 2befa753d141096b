package forecast

import (
	"math"
	"time"

	"github.com/lox/airwatch/internal/models"
)

// CategoryLookup maps an AQI value to its health band.
type CategoryLookup func(value float64) (models.HealthCategory, bool)

const (
	unknownLevel        = "Unknown"
	unknownColor        = "#9e9e9e"
	unknownImplications = "Health guidance is unavailable for this forecast value."
)

// FormatRisk renders a forecast point for display. A value outside every
// band gets the Unknown level rather than an error.
func FormatRisk(p models.ForecastPoint, lookup CategoryLookup) models.RiskRecord {
	aqi := int(math.Round(p.YhatAdjusted))
	rec := models.RiskRecord{
		Date:         p.Date.Format(time.DateOnly),
		PredictedAQI: aqi,
		Level:        unknownLevel,
		Color:        unknownColor,
		Implications: unknownImplications,
	}
	if lookup == nil {
		return rec
	}
	if cat, ok := lookup(float64(aqi)); ok {
		rec.Level = cat.Level
		rec.Color = cat.Color
		rec.Implications = cat.Implications
	}
	return rec
}

// FormatRisks formats every point in order.
func FormatRisks(points []models.ForecastPoint, lookup CategoryLookup) []models.RiskRecord {
	out := make([]models.RiskRecord, 0, len(points))
	for _, p := range points {
		out = append(out, FormatRisk(p, lookup))
	}
	return out
}
