package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSE_Identical(t *testing.T) {
	got, err := RMSE([]float64{1, 2, 3}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestRMSE_Constant(t *testing.T) {
	got, err := RMSE([]float64{2, 2, 2}, []float64{0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestRMSE_Symmetric(t *testing.T) {
	a := []float64{0.3, 4.1, 7.7, 12.25}
	b := []float64{0, 5, 6.5, 15}

	ab, err := RMSE(a, b)
	require.NoError(t, err)
	ba, err := RMSE(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	// (0.09 + 0.81 + 1.44 + 7.5625) / 4
	assert.InDelta(t, math.Sqrt(9.9025/4), ab, 1e-12)
}

func TestErrors(t *testing.T) {
	e, err := Errors([]float64{1, 5, 2}, []float64{2, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2, 0}, e)

	r, err := Errors([]float64{2, 3, 2}, []float64{1, 5, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, -2, 0}, r)
}

func TestMetrics_LengthMismatch(t *testing.T) {
	_, err := Errors([]float64{1, 2}, []float64{1})
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = RMSE([]float64{1}, []float64{1, 2})
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = Bias([]float64{1}, nil)
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = MAE(nil, []float64{1})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestMetrics_Empty(t *testing.T) {
	_, err := RMSE(nil, nil)
	require.ErrorIs(t, err, ErrEmptySeries)

	_, err = Errors([]float64{}, []float64{})
	require.ErrorIs(t, err, ErrEmptySeries)
}

func TestBiasAndMAE(t *testing.T) {
	pred := []float64{1, 5, 2, 0}
	obs := []float64{2, 3, 2, 0}

	b, err := Bias(pred, obs)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, b, 1e-12)

	m, err := MAE(pred, obs)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, m, 1e-12)
}
