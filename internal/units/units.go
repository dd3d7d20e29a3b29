package units

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Unit is a precipitation depth unit.
type Unit string

const (
	Metre      Unit = "m"
	Centimetre Unit = "cm"
	Millimetre Unit = "mm"
	Inch       Unit = "in"
)

// ErrUnknownUnit is returned for unit names that Parse does not recognise.
var ErrUnknownUnit = errors.New("unknown unit")

var aliases = map[string]Unit{
	"m":           Metre,
	"metre":       Metre,
	"meter":       Metre,
	"metres":      Metre,
	"meters":      Metre,
	"cm":          Centimetre,
	"mm":          Millimetre,
	"millimetres": Millimetre,
	"millimeters": Millimetre,
	// 1 kg of water over 1 m2 is 1 mm deep.
	"kg m-2":   Millimetre,
	"kg m**-2": Millimetre,
	"kg/m2":    Millimetre,
	"kg/m^2":   Millimetre,
	"in":       Inch,
	"inch":     Inch,
	"inches":   Inch,
}

var mmPer = map[Unit]float64{
	Metre:      1000,
	Centimetre: 10,
	Millimetre: 1,
	Inch:       25.4,
}

// Parse normalises a unit name as found in NetCDF attributes or config.
func Parse(s string) (Unit, error) {
	u, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
	return u, nil
}

// Factor returns the multiplier converting values in from into values in to.
func Factor(from, to Unit) (float64, error) {
	f, ok := mmPer[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	t, ok := mmPer[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	return f / t, nil
}

// Convert returns a copy of values converted from one unit to another.
func Convert(values []float64, from, to Unit) ([]float64, error) {
	k, err := Factor(from, to)
	if err != nil {
		return nil, err
	}
	return floats.ScaleTo(make([]float64, len(values)), k, values), nil
}
