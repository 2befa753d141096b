package forecast

import (
	"fmt"
	"time"
)

// DateRange is the span a model must step through to reach the requested
// horizon. Inference covers BridgeStart..TargetEnd; only
// TargetStart..TargetEnd is ever returned.
type DateRange struct {
	LastTraining time.Time
	BridgeStart  time.Time
	TargetStart  time.Time
	TargetEnd    time.Time
	TotalPeriods int
}

// ResolveDateRange computes the forecast window for a model trained through
// lastTraining. today is a calendar day; the window is tomorrow through
// today+daysAhead.
func ResolveDateRange(lastTraining time.Time, daysAhead int, today time.Time) (DateRange, error) {
	if daysAhead <= 0 {
		return DateRange{}, fmt.Errorf("%w: days ahead must be positive, got %d", ErrForecastRange, daysAhead)
	}

	r := DateRange{
		LastTraining: lastTraining,
		BridgeStart:  lastTraining.AddDate(0, 0, 1),
		TargetStart:  today.AddDate(0, 0, 1),
		TargetEnd:    today.AddDate(0, 0, daysAhead),
	}
	if !r.TargetEnd.After(lastTraining) {
		return DateRange{}, fmt.Errorf("%w: target end %s is not after training cutoff %s",
			ErrForecastRange, r.TargetEnd.Format(time.DateOnly), lastTraining.Format(time.DateOnly))
	}

	r.TotalPeriods = daysBetween(lastTraining, r.TargetEnd)
	if r.TotalPeriods <= 0 {
		return DateRange{}, fmt.Errorf("%w: %d periods to reach %s", ErrForecastRange, r.TotalPeriods, r.TargetEnd.Format(time.DateOnly))
	}
	return r, nil
}

// Contains reports whether d falls in the user-visible window.
func (r DateRange) Contains(d time.Time) bool {
	return !d.Before(r.TargetStart) && !d.After(r.TargetEnd)
}

// Bridging is the number of days predicted and then discarded because they
// fall between the training cutoff and tomorrow.
func (r DateRange) Bridging() int {
	return max(0, daysBetween(r.LastTraining, r.TargetStart)-1)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Round(time.Hour).Hours() / 24)
}
