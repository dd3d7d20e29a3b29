// Package obs reads observed precipitation increments and aligns them with
// forecast valid times.
package obs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rtm0/ensverif/internal/units"
	"github.com/rtm0/ensverif/internal/verify"
)

var (
	// ErrColumn is returned when a required column is missing from the header.
	ErrColumn = errors.New("missing column")
	// ErrEmpty is returned for input without data rows and for empty Increments.
	ErrEmpty = errors.New("no observations")
	// ErrCoverage is returned when observations end before a requested valid time.
	ErrCoverage = errors.New("observations do not cover valid time")
)

// Options describes the observation table.
type Options struct {
	TimeColumn  string
	ValueColumn string
	// TimeLayout is a time.Parse layout. Times without a zone are read as UTC.
	TimeLayout string
	Unit       units.Unit
}

// Increments are precipitation amounts, each fallen in the interval ending
// at its time. Times are sorted.
type Increments struct {
	Times  []time.Time
	Values []float64
	Unit   units.Unit
}

// Read parses a CSV table with a header row. Blank values count as no
// precipitation.
func Read(r io.Reader, opts Options) (*Increments, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	ti, vi := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case opts.TimeColumn:
			ti = i
		case opts.ValueColumn:
			vi = i
		}
	}
	if ti < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumn, opts.TimeColumn)
	}
	if vi < 0 {
		return nil, fmt.Errorf("%w: %q", ErrColumn, opts.ValueColumn)
	}

	type row struct {
		t time.Time
		v float64
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		t, err := time.ParseInLocation(opts.TimeLayout, strings.TrimSpace(rec[ti]), time.UTC)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var v float64
		if s := strings.TrimSpace(rec[vi]); s != "" {
			if v, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		rows = append(rows, row{t: t, v: v})
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].t.Before(rows[j].t) })

	inc := &Increments{
		Times:  make([]time.Time, len(rows)),
		Values: make([]float64, len(rows)),
		Unit:   opts.Unit,
	}
	for i, r := range rows {
		inc.Times[i], inc.Values[i] = r.t, r.v
	}
	return inc, nil
}

// Accumulate returns, for every valid time t, the precipitation observed in
// (validTimes[0], t]. That is the running total since the forecast start,
// resampled onto the forecast's output interval. validTimes must be sorted.
//
// Each increment covers the interval ending at its time, so the span before
// the first observation is read as no precipitation. Observations ending
// before the last valid time are an ErrCoverage error.
func (inc *Increments) Accumulate(validTimes []time.Time) ([]float64, error) {
	if len(inc.Times) == 0 || len(inc.Times) != len(inc.Values) {
		return nil, ErrEmpty
	}
	if len(validTimes) == 0 {
		return nil, verify.ErrEmptySeries
	}
	if last := validTimes[len(validTimes)-1]; inc.Times[len(inc.Times)-1].Before(last) {
		return nil, fmt.Errorf("%w: last observation %s, last valid time %s",
			ErrCoverage, inc.Times[len(inc.Times)-1].Format(time.RFC3339), last.Format(time.RFC3339))
	}

	// cum[k] is the total up to and including Times[k].
	cum := make([]float64, len(inc.Values))
	var total float64
	for k, v := range inc.Values {
		total += v
		cum[k] = total
	}
	upTo := func(t time.Time) float64 {
		n := sort.Search(len(inc.Times), func(k int) bool { return inc.Times[k].After(t) })
		if n == 0 {
			return 0
		}
		return cum[n-1]
	}

	start := upTo(validTimes[0])
	out := make([]float64, len(validTimes))
	for i, t := range validTimes {
		out[i] = upTo(t) - start
	}
	return out, nil
}

// Series returns the accumulated observations on validTimes.
func (inc *Increments) Series(validTimes []time.Time) (verify.TimeSeries, error) {
	v, err := inc.Accumulate(validTimes)
	if err != nil {
		return verify.TimeSeries{}, err
	}
	return verify.TimeSeries{Times: slices.Clone(validTimes), Values: v, Unit: inc.Unit}, nil
}
