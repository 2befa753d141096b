package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lox/airwatch/internal/metrics"
	"github.com/lox/airwatch/internal/models"
	"github.com/lox/airwatch/internal/tsmodel"
)

// Correction is the outcome of anchoring a forecast to today's observed AQI.
// When Applied is false, Reason says why and the forecast is left raw.
type Correction struct {
	Applied      bool
	BaseResidual float64
	Actual       float64
	Predicted    float64
	Reason       string
}

func skipped(format string, args ...any) Correction {
	return Correction{Reason: fmt.Sprintf(format, args...)}
}

// Corrector computes the residual between the live AQI and the model's own
// estimate for its training cutoff.
type Corrector struct {
	regressors RegressorSource
	live       LiveAQISource
	logger     *slog.Logger
}

func NewCorrector(regressors RegressorSource, live LiveAQISource, logger *slog.Logger) *Corrector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrector{regressors: regressors, live: live, logger: logger}
}

// Compute never fails. Every problem yields a Correction with Applied false.
// lastKnown, when set, is used as today's actual value and the live source
// is not consulted.
func (c *Corrector) Compute(ctx context.Context, model *tsmodel.Model, city string, lastKnown *float64) Correction {
	corr := c.compute(ctx, model, city, lastKnown)
	if corr.Applied {
		metrics.CorrectionsTotal.WithLabelValues("applied").Inc()
		c.logger.Info("forecast: residual correction",
			"city", city, "actual", corr.Actual, "predicted", corr.Predicted, "residual", corr.BaseResidual)
	} else {
		metrics.CorrectionsTotal.WithLabelValues("skipped").Inc()
		c.logger.Warn("forecast: correction skipped", "city", city, "reason", corr.Reason)
	}
	return corr
}

func (c *Corrector) compute(ctx context.Context, model *tsmodel.Model, city string, lastKnown *float64) Correction {
	if model == nil {
		return skipped("no model")
	}

	var actual float64
	switch {
	case lastKnown != nil:
		actual = *lastKnown
	case c.live == nil:
		return skipped("no live aqi source")
	default:
		obs, err := c.live.Current(ctx, city)
		if err != nil {
			return skipped("live aqi: %v", err)
		}
		if obs == nil {
			return skipped("live aqi unavailable")
		}
		actual = obs.AQI
	}
	if math.IsNaN(actual) || math.IsInf(actual, 0) {
		return skipped("actual aqi not finite")
	}

	// Current conditions stand in for the weather on the training cutoff.
	cutoff := model.LastTrainingDate()
	names := model.RegressorNames()
	frame := tsmodel.NewFrame([]time.Time{cutoff}, nil)
	if len(names) > 0 {
		if c.regressors == nil {
			return skipped("no regressor source")
		}
		var err error
		frame, err = c.regressors.CurrentConditionsFrame(ctx, city, cutoff, names)
		if err != nil {
			return skipped("current conditions: %v", err)
		}
	}

	preds, err := model.Predict(frame)
	if err != nil {
		return skipped("proxy prediction: %v", err)
	}
	if len(preds) == 0 {
		return skipped("proxy prediction empty")
	}

	predicted := preds[0].Yhat
	return Correction{
		Applied:      true,
		BaseResidual: actual - predicted,
		Actual:       actual,
		Predicted:    predicted,
	}
}

// ApplyCorrection sets each point's residual to BaseResidual*decay^i and its
// adjusted value to yhat+residual floored at zero. An unapplied correction
// leaves a zero residual.
func ApplyCorrection(points []models.ForecastPoint, corr Correction, decay float64) {
	for i := range points {
		residual := 0.0
		if corr.Applied {
			residual = corr.BaseResidual * math.Pow(decay, float64(i))
		}
		points[i].Residual = residual
		points[i].YhatAdjusted = math.Max(0, points[i].Yhat+residual)
	}
}
