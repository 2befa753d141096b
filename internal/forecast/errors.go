package forecast

import (
	"errors"
	"fmt"
)

var ErrForecastRange = errors.New("forecast range invalid")

// PredictionError reports which pipeline stage failed for a city. The cause
// stays reachable through errors.Is and errors.As.
type PredictionError struct {
	City  string
	Stage string
	Err   error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("forecast %s: %s: %v", e.City, e.Stage, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

const (
	stageLoad       = "load model"
	stageRange      = "resolve range"
	stageRegressors = "assemble regressors"
	stageInference  = "inference"
)
