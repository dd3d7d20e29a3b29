// Package ensemble reads gridded ensemble precipitation forecasts from NetCDF.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"golang.org/x/sync/errgroup"

	"github.com/rtm0/ensverif/internal/geo"
	"github.com/rtm0/ensverif/internal/units"
	"github.com/rtm0/ensverif/internal/verify"
)

var (
	// ErrVariable is returned when a variable is missing or has an unexpected layout.
	ErrVariable = errors.New("bad variable")
	// ErrNoMembers is returned when no ensemble member could be found.
	ErrNoMembers = errors.New("no ensemble members")
	// ErrInconsistent is returned when member files disagree on grid, time or unit.
	ErrInconsistent = errors.New("member files are inconsistent")
)

// Options names the files and variables that make up an ensemble.
type Options struct {
	// Files holds one file per member, or a single file whose precipitation
	// variable has a MemberDim dimension.
	Files     []string
	PrecipVar string
	LatVar    string
	LonVar    string
	TimeVar   string
	MemberDim string
	// Unit is used when the precipitation variable has no "units" attribute.
	Unit units.Unit
	// Concurrency bounds the number of files read at once.
	Concurrency int
}

// Dataset is an ensemble of precipitation fields on a shared grid and time axis.
type Dataset struct {
	Grid       *geo.Grid
	ValidTimes []time.Time
	Unit       units.Unit

	precipVar string
	rows      int
	cols      int
	members   []field
}

// field is one member's values laid out as [time][row][col].
type field struct {
	label  string
	values []float64
}

// Open reads every file in opts.Files. Files are read concurrently.
func Open(ctx context.Context, opts Options) (*Dataset, error) {
	if len(opts.Files) == 0 {
		return nil, ErrNoMembers
	}
	parts := make([]*Dataset, len(opts.Files))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, path := range opts.Files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := readFile(path, opts, len(opts.Files) == 1)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			parts[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ds := parts[0]
	for i, p := range parts[1:] {
		if err := ds.compatible(p); err != nil {
			return nil, fmt.Errorf("%s: %w", opts.Files[i+1], err)
		}
		ds.members = append(ds.members, p.members...)
	}
	if len(ds.members) == 0 {
		return nil, ErrNoMembers
	}
	return ds, nil
}

func (d *Dataset) compatible(o *Dataset) error {
	if d.rows != o.rows || d.cols != o.cols {
		return fmt.Errorf("%w: grid %dx%d vs %dx%d", ErrInconsistent, d.rows, d.cols, o.rows, o.cols)
	}
	for i := range d.Grid.Lat {
		if !slices.Equal(d.Grid.Lat[i], o.Grid.Lat[i]) || !slices.Equal(d.Grid.Lon[i], o.Grid.Lon[i]) {
			return fmt.Errorf("%w: coordinates differ", ErrInconsistent)
		}
	}
	if !slices.EqualFunc(d.ValidTimes, o.ValidTimes, time.Time.Equal) {
		return fmt.Errorf("%w: valid times differ", ErrInconsistent)
	}
	if d.Unit != o.Unit {
		return fmt.Errorf("%w: unit %q vs %q", ErrInconsistent, d.Unit, o.Unit)
	}
	return nil
}

func readFile(path string, opts Options, splitMembers bool) (*Dataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	grid, err := readGrid(nc, opts.LatVar, opts.LonVar)
	if err != nil {
		return nil, err
	}
	ts, err := readTimes(nc, opts.TimeVar)
	if err != nil {
		return nil, err
	}

	vr, err := nc.GetVariable(opts.PrecipVar)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVariable, opts.PrecipVar, err)
	}
	values, shape, err := decode(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVariable, opts.PrecipVar, err)
	}
	unpack(values, vr.Attributes)

	unit := opts.Unit
	if s, ok := attrString(vr.Attributes, "units"); ok {
		if unit, err = units.Parse(s); err != nil {
			return nil, fmt.Errorf("%s: %w", opts.PrecipVar, err)
		}
	}
	if unit == "" {
		return nil, fmt.Errorf("%w: %s has no units", ErrVariable, opts.PrecipVar)
	}

	rows, cols := grid.Shape()
	d := &Dataset{
		Grid:       grid,
		ValidTimes: ts,
		Unit:       unit,
		precipVar:  opts.PrecipVar,
		rows:       rows,
		cols:       cols,
	}
	label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	d.members, err = splitFields(values, shape, vr.Dimensions, opts.MemberDim, splitMembers, label, len(ts), rows, cols)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVariable, opts.PrecipVar, err)
	}
	return d, nil
}

// splitFields cuts a decoded precipitation variable into member fields.
// Accepted layouts are (time, y, x) and, when splitMembers is set, 4D
// variables with the member dimension in either of the first two axes.
func splitFields(values []float64, shape []int, dims []string, memberDim string,
	splitMembers bool, label string, nt, rows, cols int) ([]field, error) {
	if len(shape) < 3 {
		return nil, fmt.Errorf("unsupported rank %d", len(shape))
	}
	cell := rows * cols
	if shape[len(shape)-2] != rows || shape[len(shape)-1] != cols {
		return nil, fmt.Errorf("spatial shape %v does not match grid %dx%d", shape[len(shape)-2:], rows, cols)
	}
	switch len(shape) {
	case 3:
		if shape[0] != nt {
			return nil, fmt.Errorf("%d time steps, time axis has %d", shape[0], nt)
		}
		return []field{{label: label, values: values}}, nil
	case 4:
		if !splitMembers {
			return nil, fmt.Errorf("4D variable in a multi-file ensemble")
		}
		m := slices.Index(dims, memberDim)
		if m != 0 && m != 1 {
			return nil, fmt.Errorf("member dimension %q not in %v", memberDim, dims)
		}
		nm := shape[m]
		if shape[1-m] != nt {
			return nil, fmt.Errorf("%d time steps, time axis has %d", shape[1-m], nt)
		}
		fields := make([]field, nm)
		for k := range nm {
			f := make([]float64, 0, nt*cell)
			for t := range nt {
				var off int
				if m == 0 {
					off = (k*nt + t) * cell
				} else {
					off = (t*nm + k) * cell
				}
				f = append(f, values[off:off+cell]...)
			}
			fields[k] = field{label: fmt.Sprintf("member-%02d", k), values: f}
		}
		return fields, nil
	}
	return nil, fmt.Errorf("unsupported rank %d", len(shape))
}

func readGrid(nc api.Group, latVar, lonVar string) (*geo.Grid, error) {
	lat, latShape, err := coordValues(nc, latVar)
	if err != nil {
		return nil, err
	}
	lon, lonShape, err := coordValues(nc, lonVar)
	if err != nil {
		return nil, err
	}
	if len(latShape) == 1 && len(lonShape) == 1 {
		return geo.NewRegularGrid(lat, lon)
	}
	return geo.NewGrid(rowsOf(lat, latShape), rowsOf(lon, lonShape))
}

// coordValues reads a 1D or 2D coordinate variable. For 3D variables, such
// as WRF's XLAT(Time, y, x), the first time slice is used.
func coordValues(nc api.Group, name string) ([]float64, []int, error) {
	vr, err := nc.GetVariable(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrVariable, name, err)
	}
	v, shape, err := decode(vr.Values)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrVariable, name, err)
	}
	if len(shape) == 3 {
		shape = shape[1:]
		v = v[:shape[0]*shape[1]]
	}
	if len(shape) > 2 {
		return nil, nil, fmt.Errorf("%w: %s has rank %d", ErrVariable, name, len(shape))
	}
	return v, shape, nil
}

func rowsOf(v []float64, shape []int) [][]float64 {
	if len(shape) == 1 {
		return [][]float64{v}
	}
	out := make([][]float64, shape[0])
	for i := range out {
		out[i] = v[i*shape[1] : (i+1)*shape[1]]
	}
	return out
}

func readTimes(nc api.Group, name string) ([]time.Time, error) {
	vr, err := nc.GetVariable(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVariable, name, err)
	}
	offsets, shape, err := decode(vr.Values)
	if err != nil || len(shape) != 1 {
		return nil, fmt.Errorf("%w: %s is not a 1D numeric axis", ErrVariable, name)
	}
	u, ok := attrString(vr.Attributes, "units")
	if !ok {
		return nil, fmt.Errorf("%w: %s has no units", ErrTimeUnits, name)
	}
	step, base, err := parseTimeUnits(u)
	if err != nil {
		return nil, err
	}
	return validTimes(offsets, step, base), nil
}

// Members returns the member labels in load order.
func (d *Dataset) Members() []string {
	labels := make([]string, len(d.members))
	for i, m := range d.members {
		labels[i] = m.label
	}
	return labels
}

// Point extracts every member's series at the grid cell idx.
func (d *Dataset) Point(idx geo.Index) ([]verify.Member, error) {
	if idx.Row < 0 || idx.Row >= d.rows || idx.Col < 0 || idx.Col >= d.cols {
		return nil, fmt.Errorf("index %+v outside %dx%d grid", idx, d.rows, d.cols)
	}
	cell := d.rows * d.cols
	pos := idx.Row*d.cols + idx.Col
	out := make([]verify.Member, len(d.members))
	for i, m := range d.members {
		v := make([]float64, len(d.ValidTimes))
		for t := range v {
			v[t] = m.values[t*cell+pos]
		}
		out[i] = verify.Member{
			Label:  m.label,
			Series: verify.TimeSeries{Times: slices.Clone(d.ValidTimes), Values: v, Unit: d.Unit},
		}
	}
	return out, nil
}

// Summary returns the summary information about the dataset suitable for
// logging.
func (d *Dataset) Summary() []any {
	s := []any{
		"variable", d.precipVar,
		"unit", d.Unit,
		"members", len(d.members),
		"rows", d.rows,
		"cols", d.cols,
		"tsCnt", len(d.ValidTimes),
	}
	if n := len(d.ValidTimes); n > 0 {
		s = append(s, "first", d.ValidTimes[0], "last", d.ValidTimes[n-1])
	}
	return s
}
