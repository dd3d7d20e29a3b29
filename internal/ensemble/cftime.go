package ensemble

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrTimeUnits is returned for time axes without usable CF "units".
var ErrTimeUnits = errors.New("unsupported time units")

var cfSteps = map[string]time.Duration{
	"days":    24 * time.Hour,
	"day":     24 * time.Hour,
	"hours":   time.Hour,
	"hour":    time.Hour,
	"minutes": time.Minute,
	"minute":  time.Minute,
	"seconds": time.Second,
	"second":  time.Second,
}

var cfLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeUnits parses CF units such as "hours since 1900-01-01 00:00:00.0",
// which is what ERA5 files carry.
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	step, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: %q", ErrTimeUnits, units)
	}
	d, ok := cfSteps[strings.ToLower(step)]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("%w: %q", ErrTimeUnits, units)
	}
	since = strings.TrimSuffix(strings.TrimSpace(since), " UTC")
	for _, layout := range cfLayouts {
		if t, err := time.ParseInLocation(layout, since, time.UTC); err == nil {
			return d, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("%w: %q", ErrTimeUnits, units)
}

// validTimes converts offsets counted in step units from base into times.
func validTimes(offsets []float64, step time.Duration, base time.Time) []time.Time {
	ts := make([]time.Time, len(offsets))
	for i, o := range offsets {
		ts[i] = base.Add(time.Duration(math.Round(o * float64(step))))
	}
	return ts
}
