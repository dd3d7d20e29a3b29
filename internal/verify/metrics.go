// Package verify scores forecast series against observations.
package verify

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrLengthMismatch is returned when predictions and targets differ in length.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrEmptySeries is returned when a metric is asked for over no values.
	ErrEmptySeries = errors.New("empty series")
)

func check(pred, target []float64) error {
	if len(pred) != len(target) {
		return fmt.Errorf("%w: %d predictions, %d targets", ErrLengthMismatch, len(pred), len(target))
	}
	if len(pred) == 0 {
		return ErrEmptySeries
	}
	return nil
}

// Errors returns pred[k] - target[k] for every k.
func Errors(pred, target []float64) ([]float64, error) {
	if err := check(pred, target); err != nil {
		return nil, err
	}
	e := make([]float64, len(pred))
	floats.SubTo(e, pred, target)
	return e, nil
}

// RMSE returns the root mean square of pred - target.
func RMSE(pred, target []float64) (float64, error) {
	e, err := Errors(pred, target)
	if err != nil {
		return 0, err
	}
	return rmse(e), nil
}

// Bias returns the mean of pred - target.
func Bias(pred, target []float64) (float64, error) {
	e, err := Errors(pred, target)
	if err != nil {
		return 0, err
	}
	return bias(e), nil
}

// MAE returns the mean absolute value of pred - target.
func MAE(pred, target []float64) (float64, error) {
	e, err := Errors(pred, target)
	if err != nil {
		return 0, err
	}
	return mae(e), nil
}

func rmse(e []float64) float64 { return math.Sqrt(floats.Dot(e, e) / float64(len(e))) }
func bias(e []float64) float64 { return floats.Sum(e) / float64(len(e)) }
func mae(e []float64) float64  { return floats.Norm(e, 1) / float64(len(e)) }
