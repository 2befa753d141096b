package models

import (
	"database/sql"
	"time"
)

// HistoricalPoint is one daily AQI value from the historical dataset.
type HistoricalPoint struct {
	City string
	Date time.Time
	AQI  float64
}

// WeatherDay is a supplier's daily outlook for one city. Fields the
// supplier omitted are left invalid.
type WeatherDay struct {
	Date          time.Time
	AvgTempC      sql.NullFloat64
	MaxTempC      sql.NullFloat64
	MinTempC      sql.NullFloat64
	AvgHumidity   sql.NullFloat64
	MaxWindKph    sql.NullFloat64
	TotalPrecipMM sql.NullFloat64
	AvgVisKm      sql.NullFloat64
	UV            sql.NullFloat64
	ChanceOfRain  sql.NullInt64
	Condition     string
	Icon          string
}

type AQIObservation struct {
	City      string
	AQI       float64
	Station   string
	Timestamp time.Time
}

// ForecastPoint is one predicted day. YhatAdjusted is never negative.
type ForecastPoint struct {
	Date         time.Time
	Yhat         float64
	YhatLower    float64
	YhatUpper    float64
	Residual     float64
	YhatAdjusted float64
}

type HealthCategory struct {
	Min          int
	Max          int
	Level        string
	Color        string
	Implications string
}

// RiskRecord is the UI-facing form of a forecast day.
type RiskRecord struct {
	Date         string `json:"date"`
	PredictedAQI int    `json:"predicted_aqi"`
	Level        string `json:"level"`
	Color        string `json:"color"`
	Implications string `json:"implications"`
}

type ModelInfo struct {
	City               string
	Version            string
	LastTrainingDate   time.Time
	RegressorNames     []string
	HistoricalResidual sql.NullFloat64
	PayloadHash        string
	ImportedAt         time.Time
}
