// Package geo locates the grid cell nearest to a target point.
package geo

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/golang/geo/s2"
)

// EarthRadius is the sphere radius, in metres, used for great-circle distances.
const EarthRadius = 6_373_000.0

var (
	// ErrEmptyGrid is returned for a grid with no cells.
	ErrEmptyGrid = errors.New("empty grid")
	// ErrShapeMismatch is returned when latitude and longitude grids differ in shape.
	ErrShapeMismatch = errors.New("latitude and longitude grids differ in shape")
)

// Index identifies a grid cell by row and column.
type Index struct {
	Row int
	Col int
}

// Grid holds the latitude and longitude, in degrees, of every cell of a
// 2D sampling grid. A Grid must not be modified after construction.
type Grid struct {
	Lat [][]float64
	Lon [][]float64
}

// NewGrid checks that lat and lon are non-empty, rectangular and of identical
// shape. The grid holds its own copy of the coordinates.
func NewGrid(lat, lon [][]float64) (*Grid, error) {
	if len(lat) == 0 || len(lat[0]) == 0 {
		return nil, ErrEmptyGrid
	}
	if len(lat) != len(lon) {
		return nil, fmt.Errorf("%w: %d rows vs %d rows", ErrShapeMismatch, len(lat), len(lon))
	}
	cols := len(lat[0])
	for i := range lat {
		if len(lat[i]) != cols || len(lon[i]) != cols {
			return nil, fmt.Errorf("%w: row %d has %d/%d columns, want %d",
				ErrShapeMismatch, i, len(lat[i]), len(lon[i]), cols)
		}
	}
	return &Grid{Lat: clone2(lat), Lon: clone2(lon)}, nil
}

func clone2(v [][]float64) [][]float64 {
	out := make([][]float64, len(v))
	for i := range v {
		out[i] = slices.Clone(v[i])
	}
	return out
}

// NewRegularGrid meshes 1D latitude and longitude axes into a grid with one
// row per latitude and one column per longitude.
func NewRegularGrid(lats, lons []float64) (*Grid, error) {
	if len(lats) == 0 || len(lons) == 0 {
		return nil, ErrEmptyGrid
	}
	lat := make([][]float64, len(lats))
	lon := make([][]float64, len(lats))
	for i, la := range lats {
		lat[i] = make([]float64, len(lons))
		lon[i] = make([]float64, len(lons))
		for j, lo := range lons {
			lat[i][j] = la
			lon[i][j] = lo
		}
	}
	return &Grid{Lat: lat, Lon: lon}, nil
}

// Shape returns the number of rows and columns.
func (g *Grid) Shape() (rows, cols int) {
	return len(g.Lat), len(g.Lat[0])
}

// At returns the coordinates of the cell at idx.
func (g *Grid) At(idx Index) (lat, lon float64) {
	return g.Lat[idx.Row][idx.Col], g.Lon[idx.Row][idx.Col]
}

// Distance returns the haversine great-circle distance in metres between
// target and the point (lat, lon) given in degrees.
func Distance(target s2.LatLng, lat, lon float64) float64 {
	p := s2.LatLngFromDegrees(lat, lon)
	lat1 := target.Lat.Radians()
	lat2 := p.Lat.Radians()
	dLat := lat2 - lat1
	dLon := p.Lng.Radians() - target.Lng.Radians()

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadius * c
}

// Nearest returns the index of the cell closest to target and its distance
// in metres. Ties go to the first cell in row-major order.
func (g *Grid) Nearest(target s2.LatLng) (Index, float64, error) {
	if len(g.Lat) == 0 || len(g.Lat[0]) == 0 {
		return Index{}, 0, ErrEmptyGrid
	}
	if len(g.Lat) != len(g.Lon) {
		return Index{}, 0, ErrShapeMismatch
	}
	best := Index{}
	bestDist := math.Inf(1)
	for i := range g.Lat {
		if len(g.Lat[i]) != len(g.Lon[i]) {
			return Index{}, 0, fmt.Errorf("%w: row %d", ErrShapeMismatch, i)
		}
		for j := range g.Lat[i] {
			d := Distance(target, g.Lat[i][j], g.Lon[i][j])
			if d < bestDist {
				best, bestDist = Index{Row: i, Col: j}, d
			}
		}
	}
	return best, bestDist, nil
}
