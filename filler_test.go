package tripletnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func fillerValues(t *testing.T, c *FillerConfig, n int) []float64 {
	t.Helper()
	f, err := NewFiller(c)
	require.NoError(t, err)
	b := NewBlob("b", &BlobPoint{1, 1, 1, n})
	f.Fill(b)
	values := make([]float64, n)
	for i, v := range b.Data.CpuValues() {
		values[i] = float64(v)
	}
	return values
}

func TestFillers(t *testing.T) {
	constant := fillerValues(t, &FillerConfig{Type: "constant", Value: 0.25}, 10)
	for _, v := range constant {
		assert.Equal(t, 0.25, v)
	}
	assert.Equal(t, make([]float64, 3), fillerValues(t, nil, 3))

	gaussian := fillerValues(t, &FillerConfig{Type: "gaussian", Mean: 2, Std: 0.5, Seed: 7}, 10000)
	mean, std := stat.MeanStdDev(gaussian, nil)
	assert.InDelta(t, 2, mean, 0.05)
	assert.InDelta(t, 0.5, std, 0.05)

	uniform := fillerValues(t, &FillerConfig{Type: "uniform", Min: -3, Max: -1, Seed: 7}, 10000)
	for _, v := range uniform {
		require.GreaterOrEqual(t, v, -3.0)
		require.LessOrEqual(t, v, -1.0)
	}
	assert.InDelta(t, -2, stat.Mean(uniform, nil), 0.05)

	_, err := NewFiller(&FillerConfig{Type: "msra"})
	assert.ErrorIs(t, err, ErrUnknownFillerType)
}

func TestFillerSeed(t *testing.T) {
	c := &FillerConfig{Type: "gaussian", Seed: 3}
	assert.Equal(t, fillerValues(t, c, 50), fillerValues(t, c, 50))
	c2 := &FillerConfig{Type: "gaussian", Seed: 4}
	assert.NotEqual(t, fillerValues(t, c, 50), fillerValues(t, c2, 50))
}
