package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SupplierCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airwatch_supplier_calls_total",
			Help: "Total calls to external weather and AQI suppliers",
		},
		[]string{"supplier", "status"},
	)

	SupplierLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airwatch_supplier_latency_seconds",
			Help:    "External supplier call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"supplier"},
	)

	ModelCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airwatch_model_cache_total",
			Help: "Model cache lookups by result",
		},
		[]string{"result"},
	)

	ModelLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airwatch_model_load_duration_seconds",
			Help:    "Time to read and decode a model artifact",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	ForecastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airwatch_forecasts_total",
			Help: "Forecast requests by outcome",
		},
		[]string{"outcome"},
	)

	CorrectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airwatch_residual_corrections_total",
			Help: "Residual corrections by outcome",
		},
		[]string{"outcome"},
	)

	HistoryRowsImported = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "airwatch_history_rows_imported_total",
			Help: "Historical AQI rows written to the store",
		},
	)
)
