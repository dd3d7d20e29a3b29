package ensemble

import (
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

type number interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// decode flattens the nested slices go-native-netcdf returns for a variable
// into row-major float64 values and the variable's shape.
func decode(v any) ([]float64, []int, error) {
	switch v := v.(type) {
	case []int8:
		return flat1(v)
	case []int16:
		return flat1(v)
	case []int32:
		return flat1(v)
	case []int64:
		return flat1(v)
	case []float32:
		return flat1(v)
	case []float64:
		return flat1(v)
	case [][]int8:
		return flat2(v)
	case [][]int16:
		return flat2(v)
	case [][]int32:
		return flat2(v)
	case [][]int64:
		return flat2(v)
	case [][]float32:
		return flat2(v)
	case [][]float64:
		return flat2(v)
	case [][][]int8:
		return flat3(v)
	case [][][]int16:
		return flat3(v)
	case [][][]int32:
		return flat3(v)
	case [][][]int64:
		return flat3(v)
	case [][][]float32:
		return flat3(v)
	case [][][]float64:
		return flat3(v)
	case [][][][]int8:
		return flat4(v)
	case [][][][]int16:
		return flat4(v)
	case [][][][]int32:
		return flat4(v)
	case [][][][]int64:
		return flat4(v)
	case [][][][]float32:
		return flat4(v)
	case [][][][]float64:
		return flat4(v)
	}
	return nil, nil, fmt.Errorf("unsupported value type %T", v)
}

func flat1[T number](v []T) ([]float64, []int, error) {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, []int{len(v)}, nil
}

func flat2[T number](v [][]T) ([]float64, []int, error) {
	if len(v) == 0 {
		return nil, []int{0, 0}, nil
	}
	n := len(v[0])
	out := make([]float64, 0, len(v)*n)
	for _, row := range v {
		if len(row) != n {
			return nil, nil, fmt.Errorf("ragged 2D variable")
		}
		for _, x := range row {
			out = append(out, float64(x))
		}
	}
	return out, []int{len(v), n}, nil
}

func flat3[T number](v [][][]T) ([]float64, []int, error) {
	if len(v) == 0 {
		return nil, []int{0, 0, 0}, nil
	}
	var out []float64
	var inner []int
	for _, p := range v {
		f, s, err := flat2(p)
		if err != nil {
			return nil, nil, err
		}
		if inner != nil && (s[0] != inner[0] || s[1] != inner[1]) {
			return nil, nil, fmt.Errorf("ragged 3D variable")
		}
		inner = s
		out = append(out, f...)
	}
	return out, []int{len(v), inner[0], inner[1]}, nil
}

func flat4[T number](v [][][][]T) ([]float64, []int, error) {
	if len(v) == 0 {
		return nil, []int{0, 0, 0, 0}, nil
	}
	var out []float64
	var inner []int
	for _, c := range v {
		f, s, err := flat3(c)
		if err != nil {
			return nil, nil, err
		}
		if inner != nil && (s[0] != inner[0] || s[1] != inner[1] || s[2] != inner[2]) {
			return nil, nil, fmt.Errorf("ragged 4D variable")
		}
		inner = s
		out = append(out, f...)
	}
	return out, []int{len(v), inner[0], inner[1], inner[2]}, nil
}

func attrString(attrs api.AttributeMap, key string) (string, bool) {
	if attrs == nil {
		return "", false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// attrFloat reads a numeric scalar attribute. Single-element arrays count as
// scalars.
func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, ok := attrs.Get(key)
	if !ok {
		return 0, false
	}
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int8:
		return float64(v), true
	}
	f, _, err := decode(v)
	if err != nil || len(f) != 1 {
		return 0, false
	}
	return f[0], true
}

// unpack applies CF packing attributes in place: missing values become NaN,
// then value*scale_factor + add_offset.
func unpack(values []float64, attrs api.AttributeMap) {
	fill, hasFill := attrFloat(attrs, "_FillValue")
	missing, hasMissing := attrFloat(attrs, "missing_value")
	scale, hasScale := attrFloat(attrs, "scale_factor")
	offset, _ := attrFloat(attrs, "add_offset")
	if !hasScale {
		scale = 1
	}
	for i, v := range values {
		if (hasFill && v == fill) || (hasMissing && v == missing) {
			values[i] = math.NaN()
			continue
		}
		values[i] = v*scale + offset
	}
}
