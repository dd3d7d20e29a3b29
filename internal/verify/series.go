package verify

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/rtm0/ensverif/internal/units"
)

// EnsembleMeanLabel labels the member built by EnsembleMean.
const EnsembleMeanLabel = "ensemble-mean"

// ErrUnitMismatch is returned when series in different units are combined.
var ErrUnitMismatch = errors.New("unit mismatch")

// TimeSeries is accumulated precipitation at a sequence of times.
// Values[k] is valid at Times[k].
type TimeSeries struct {
	Times  []time.Time
	Values []float64
	Unit   units.Unit
}

// NewTimeSeries copies times and values into a new series.
func NewTimeSeries(times []time.Time, values []float64, unit units.Unit) (TimeSeries, error) {
	if len(times) != len(values) {
		return TimeSeries{}, fmt.Errorf("%w: %d times, %d values", ErrLengthMismatch, len(times), len(values))
	}
	return TimeSeries{
		Times:  slices.Clone(times),
		Values: slices.Clone(values),
		Unit:   unit,
	}, nil
}

// Len returns the number of samples.
func (s TimeSeries) Len() int { return len(s.Values) }

// In returns a copy of s converted to unit u.
func (s TimeSeries) In(u units.Unit) (TimeSeries, error) {
	v, err := units.Convert(s.Values, s.Unit, u)
	if err != nil {
		return TimeSeries{}, err
	}
	return TimeSeries{Times: slices.Clone(s.Times), Values: v, Unit: u}, nil
}

// Member pairs a forecast series with the label of the run that produced it.
type Member struct {
	Label  string
	Series TimeSeries
}

// EnsembleMean returns the elementwise mean of the members' series. All
// members must share length and unit; times are taken from the first.
func EnsembleMean(members []Member) (Member, error) {
	if len(members) == 0 {
		return Member{}, ErrEmptySeries
	}
	first := members[0].Series
	sum := make([]float64, first.Len())
	for _, m := range members {
		if m.Series.Len() != first.Len() {
			return Member{}, fmt.Errorf("%w: member %s has %d values, want %d",
				ErrLengthMismatch, m.Label, m.Series.Len(), first.Len())
		}
		if m.Series.Unit != first.Unit {
			return Member{}, fmt.Errorf("%w: member %s is in %q, want %q",
				ErrUnitMismatch, m.Label, m.Series.Unit, first.Unit)
		}
		floats.Add(sum, m.Series.Values)
	}
	floats.Scale(1/float64(len(members)), sum)
	return Member{
		Label:  EnsembleMeanLabel,
		Series: TimeSeries{Times: slices.Clone(first.Times), Values: sum, Unit: first.Unit},
	}, nil
}
