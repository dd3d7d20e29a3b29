package verify

import (
	"fmt"
	"slices"
)

// Score summarises one forecast series against the observations.
type Score struct {
	Label  string
	Errors []float64
	RMSE   float64
	Bias   float64
	MAE    float64
}

// ScoreMember compares m against observed. Both series must be in the same unit.
func ScoreMember(m Member, observed TimeSeries) (Score, error) {
	if m.Series.Unit != observed.Unit {
		return Score{}, fmt.Errorf("%w: %s is in %q, observations in %q",
			ErrUnitMismatch, m.Label, m.Series.Unit, observed.Unit)
	}
	e, err := Errors(m.Series.Values, observed.Values)
	if err != nil {
		return Score{}, fmt.Errorf("score %s: %w", m.Label, err)
	}
	return Score{
		Label:  m.Label,
		Errors: e,
		RMSE:   rmse(e),
		Bias:   bias(e),
		MAE:    mae(e),
	}, nil
}

// Evaluate scores every member and then the ensemble mean, which is the
// last entry of the result.
func Evaluate(members []Member, observed TimeSeries) ([]Score, error) {
	mean, err := EnsembleMean(members)
	if err != nil {
		return nil, err
	}
	scores := make([]Score, 0, len(members)+1)
	for _, m := range append(slices.Clip(members), mean) {
		s, err := ScoreMember(m, observed)
		if err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, nil
}
