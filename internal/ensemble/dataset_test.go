package ensemble

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/ensverif/internal/geo"
	"github.com/rtm0/ensverif/internal/units"
)

var (
	epoch1900 = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
	runStart  = time.Date(2021, time.June, 25, 0, 0, 0, 0, time.UTC)
)

type ncVar struct {
	name string
	v    api.Variable
}

func attrs(t *testing.T, kv ...any) api.AttributeMap {
	t.Helper()
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k := kv[i].(string)
		keys = append(keys, k)
		vals[k] = kv[i+1]
	}
	m, err := util.NewOrderedMap(keys, vals)
	require.NoError(t, err)
	return m
}

func writeNC(t *testing.T, path string, vars ...ncVar) {
	t.Helper()
	w, err := cdf.OpenWriter(path)
	require.NoError(t, err)
	for _, v := range vars {
		require.NoError(t, w.AddVar(v.name, v.v))
	}
	require.NoError(t, w.Close())
}

func axes(t *testing.T) []ncVar {
	h0 := int32(runStart.Sub(epoch1900).Hours())
	return []ncVar{
		{"latitude", api.Variable{
			Values:     []float32{43, 42},
			Dimensions: []string{"latitude"},
			Attributes: attrs(t, "units", "degrees_north"),
		}},
		{"longitude", api.Variable{
			Values:     []float32{-85, -84},
			Dimensions: []string{"longitude"},
			Attributes: attrs(t, "units", "degrees_east"),
		}},
		{"time", api.Variable{
			Values:     []int32{h0, h0 + 6, h0 + 12},
			Dimensions: []string{"time"},
			Attributes: attrs(t, "units", "hours since 1900-01-01 00:00:00.0"),
		}},
	}
}

// memberFile writes a member whose value at (t, i, j) is scale*(t + i*10 + j*100).
func memberFile(t *testing.T, dir, name string, scale float32) string {
	t.Helper()
	tp := make([][][]float32, 3)
	for ti := range tp {
		tp[ti] = make([][]float32, 2)
		for i := range tp[ti] {
			tp[ti][i] = make([]float32, 2)
			for j := range tp[ti][i] {
				tp[ti][i][j] = scale * float32(ti+i*10+j*100)
			}
		}
	}
	path := filepath.Join(dir, name)
	writeNC(t, path, append(axes(t), ncVar{"tp", api.Variable{
		Values:     tp,
		Dimensions: []string{"time", "latitude", "longitude"},
		Attributes: attrs(t, "units", "mm"),
	}})...)
	return path
}

func defaultOptions(files ...string) Options {
	return Options{
		Files:       files,
		PrecipVar:   "tp",
		LatVar:      "latitude",
		LonVar:      "longitude",
		TimeVar:     "time",
		MemberDim:   "number",
		Concurrency: 2,
	}
}

func TestOpen_FilePerMember(t *testing.T) {
	dir := t.TempDir()
	a := memberFile(t, dir, "ens_00.nc", 1)
	b := memberFile(t, dir, "ens_01.nc", 2)

	ds, err := Open(context.Background(), defaultOptions(a, b))
	require.NoError(t, err)

	assert.Equal(t, []string{"ens_00", "ens_01"}, ds.Members())
	assert.Equal(t, units.Millimetre, ds.Unit)
	require.Len(t, ds.ValidTimes, 3)
	assert.True(t, ds.ValidTimes[0].Equal(runStart))
	assert.True(t, ds.ValidTimes[2].Equal(runStart.Add(12*time.Hour)))

	rows, cols := ds.Grid.Shape()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)

	members, err := ds.Point(geo.Index{Row: 1, Col: 1})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "ens_00", members[0].Label)
	assert.Equal(t, []float64{110, 111, 112}, members[0].Series.Values)
	assert.Equal(t, []float64{220, 222, 224}, members[1].Series.Values)
	assert.Equal(t, units.Millimetre, members[1].Series.Unit)
	assert.Len(t, members[1].Series.Times, 3)

	assert.NotEmpty(t, ds.Summary())
}

func TestOpen_MemberDimension(t *testing.T) {
	dir := t.TempDir()
	// (time, number, latitude, longitude), packed int16.
	tp := make([][][][]int16, 3)
	for ti := range tp {
		tp[ti] = make([][][]int16, 2)
		for k := range tp[ti] {
			tp[ti][k] = [][]int16{{0, 0}, {0, int16(ti*10 + k)}}
		}
	}
	tp[1][1][0][0] = -32767
	path := filepath.Join(dir, "ens.nc")
	writeNC(t, path, append(axes(t), ncVar{"tp", api.Variable{
		Values:     tp,
		Dimensions: []string{"time", "number", "latitude", "longitude"},
		Attributes: attrs(t,
			"units", "m",
			"scale_factor", 0.001,
			"add_offset", 0.0,
			"_FillValue", int16(-32767),
		),
	}})...)

	ds, err := Open(context.Background(), defaultOptions(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"member-00", "member-01"}, ds.Members())
	assert.Equal(t, units.Metre, ds.Unit)

	members, err := ds.Point(geo.Index{Row: 1, Col: 1})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.010, 0.020}, members[0].Series.Values, 1e-9)
	assert.InDeltaSlice(t, []float64{0.001, 0.011, 0.021}, members[1].Series.Values, 1e-9)

	masked, err := ds.Point(geo.Index{Row: 0, Col: 0})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(masked[1].Series.Values[1]))
	assert.Equal(t, 0.0, masked[1].Series.Values[0])
}

func TestOpen_InconsistentGrid(t *testing.T) {
	dir := t.TempDir()
	a := memberFile(t, dir, "a.nc", 1)

	other := axes(t)
	other[0].v.Values = []float32{44, 43}
	b := filepath.Join(dir, "b.nc")
	writeNC(t, b, append(other, ncVar{"tp", api.Variable{
		Values:     [][][]float32{{{0, 0}, {0, 0}}, {{0, 0}, {0, 0}}, {{0, 0}, {0, 0}}},
		Dimensions: []string{"time", "latitude", "longitude"},
		Attributes: attrs(t, "units", "mm"),
	}})...)

	_, err := Open(context.Background(), defaultOptions(a, b))
	require.ErrorIs(t, err, ErrInconsistent)
}

func TestOpen_MissingVariable(t *testing.T) {
	path := memberFile(t, t.TempDir(), "a.nc", 1)
	opts := defaultOptions(path)
	opts.PrecipVar = "cp"

	_, err := Open(context.Background(), opts)
	require.ErrorIs(t, err, ErrVariable)
}

func TestOpen_NoFiles(t *testing.T) {
	_, err := Open(context.Background(), defaultOptions())
	require.ErrorIs(t, err, ErrNoMembers)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), defaultOptions(filepath.Join(t.TempDir(), "nope.nc")))
	require.Error(t, err)
}

func TestPoint_OutOfRange(t *testing.T) {
	path := memberFile(t, t.TempDir(), "a.nc", 1)
	ds, err := Open(context.Background(), defaultOptions(path))
	require.NoError(t, err)

	_, err = ds.Point(geo.Index{Row: 2, Col: 0})
	require.Error(t, err)
}

func unitlessFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unitless.nc")
	writeNC(t, path, append(axes(t), ncVar{"tp", api.Variable{
		Values:     [][][]float32{{{0, 0}, {0, 1}}, {{0, 0}, {0, 2}}, {{0, 0}, {0, 3}}},
		Dimensions: []string{"time", "latitude", "longitude"},
		Attributes: attrs(t),
	}})...)
	return path
}

func TestOpen_UnitFallback(t *testing.T) {
	opts := defaultOptions(unitlessFile(t))
	opts.Unit = units.Inch

	ds, err := Open(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, units.Inch, ds.Unit)

	members, err := ds.Point(geo.Index{Row: 1, Col: 1})
	require.NoError(t, err)
	assert.Equal(t, units.Inch, members[0].Series.Unit)
	assert.Equal(t, []float64{1, 2, 3}, members[0].Series.Values)
}

func TestOpen_NoUnits(t *testing.T) {
	_, err := Open(context.Background(), defaultOptions(unitlessFile(t)))
	require.ErrorIs(t, err, ErrVariable)
	assert.Contains(t, err.Error(), "has no units")
}

func TestOpen_AttributeOverridesFallback(t *testing.T) {
	opts := defaultOptions(memberFile(t, t.TempDir(), "a.nc", 1))
	opts.Unit = units.Inch

	ds, err := Open(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, units.Millimetre, ds.Unit)
}
