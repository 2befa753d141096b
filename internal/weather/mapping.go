package weather

import (
	"database/sql"
	"strings"

	"github.com/lox/airwatch/internal/models"
)

// RegressorFields maps model regressor names to supplier field names. It is
// the only place the two vocabularies meet.
var RegressorFields = map[string]string{
	"temperature":      "avgtemp_c",
	"temp":             "avgtemp_c",
	"avg_temp":         "avgtemp_c",
	"mean_temperature": "avgtemp_c",
	"temp_max":         "maxtemp_c",
	"max_temperature":  "maxtemp_c",
	"temp_min":         "mintemp_c",
	"min_temperature":  "mintemp_c",
	"humidity":         "avghumidity",
	"avg_humidity":     "avghumidity",
	"wind_speed":       "maxwind_kph",
	"wind":             "maxwind_kph",
	"precipitation":    "totalprecip_mm",
	"precip":           "totalprecip_mm",
	"rainfall":         "totalprecip_mm",
	"visibility":       "avgvis_km",
	"uv":               "uv",
	"uv_index":         "uv",
	"rain_chance":      "daily_chance_of_rain",
}

var supplierFields = map[string]func(models.WeatherDay) sql.NullFloat64{
	"avgtemp_c":      func(d models.WeatherDay) sql.NullFloat64 { return d.AvgTempC },
	"maxtemp_c":      func(d models.WeatherDay) sql.NullFloat64 { return d.MaxTempC },
	"mintemp_c":      func(d models.WeatherDay) sql.NullFloat64 { return d.MinTempC },
	"avghumidity":    func(d models.WeatherDay) sql.NullFloat64 { return d.AvgHumidity },
	"maxwind_kph":    func(d models.WeatherDay) sql.NullFloat64 { return d.MaxWindKph },
	"totalprecip_mm": func(d models.WeatherDay) sql.NullFloat64 { return d.TotalPrecipMM },
	"avgvis_km":      func(d models.WeatherDay) sql.NullFloat64 { return d.AvgVisKm },
	"uv":             func(d models.WeatherDay) sql.NullFloat64 { return d.UV },
	"daily_chance_of_rain": func(d models.WeatherDay) sql.NullFloat64 {
		return sql.NullFloat64{Float64: float64(d.ChanceOfRain.Int64), Valid: d.ChanceOfRain.Valid}
	},
}

// FieldFor returns the supplier field a regressor reads from.
func FieldFor(regressor string) (string, bool) {
	field, ok := RegressorFields[strings.ToLower(strings.TrimSpace(regressor))]
	return field, ok
}

func fieldValue(field string, d models.WeatherDay) (float64, bool) {
	get, ok := supplierFields[field]
	if !ok {
		return 0, false
	}
	v := get(d)
	return v.Float64, v.Valid
}
