package aqi

import (
	"math"

	"github.com/lox/airwatch/internal/models"
)

// Categories are the CPCB National AQI bands.
var Categories = []models.HealthCategory{
	{Min: 0, Max: 50, Level: "Good", Color: "#00b050",
		Implications: "Minimal impact."},
	{Min: 51, Max: 100, Level: "Satisfactory", Color: "#92d050",
		Implications: "Minor breathing discomfort to sensitive people."},
	{Min: 101, Max: 200, Level: "Moderate", Color: "#ffff00",
		Implications: "Breathing discomfort to people with lung disease such as asthma, and discomfort to people with heart disease, children and older adults."},
	{Min: 201, Max: 300, Level: "Poor", Color: "#ff9900",
		Implications: "Breathing discomfort to people on prolonged exposure, and discomfort to people with heart disease."},
	{Min: 301, Max: 400, Level: "Very Poor", Color: "#ff0000",
		Implications: "Respiratory illness to people on prolonged exposure. Effect may be more pronounced in people with lung and heart diseases."},
	{Min: 401, Max: math.MaxInt, Level: "Severe", Color: "#c00000",
		Implications: "Respiratory effects even on healthy people, and serious health impacts on people with lung/heart disease. The health impacts may be experienced even during light physical activity."},
}

// LookupCategory returns the band containing value rounded to the nearest
// integer. Negative and NaN values have no band.
func LookupCategory(value float64) (models.HealthCategory, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return models.HealthCategory{}, false
	}
	v := int(math.Round(value))
	for _, c := range Categories {
		if v >= c.Min && v <= c.Max {
			return c, true
		}
	}
	return models.HealthCategory{}, false
}
