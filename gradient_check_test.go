package tripletnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

const (
	gradientStep      = 1e-2
	gradientThreshold = 1e-2
)

// checkGradient compares the diffs written by FeedBackward into the checked
// blobs with central finite differences. Loss layers are checked against
// their weighted loss, other layers against a fixed random linear
// combination of their tops.
func checkGradient(t *testing.T, layer Layer, d *LayerData, checked []*Blob, paramPropagate bool) {
	t.Helper()

	isLoss := len(d.Top) == 1 && d.Top[0].NumAxes == 0
	var weights [][]float32
	if !isLoss {
		filler := NewGaussianFiller(0, 1, 1701)
		for _, top := range d.Top {
			w := NewBlob(top.Name+"_objective", &top.Dim)
			filler.Fill(w)
			weights = append(weights, w.Data.CpuValues())
		}
	}
	objective := func() float64 {
		loss := layer.FeedForward(d)
		if isLoss {
			return float64(loss)
		}
		sum := 0.0
		for i, top := range d.Top {
			for j, v := range top.Data.CpuValues() {
				sum += float64(weights[i][j]) * float64(v)
			}
		}
		return sum
	}

	objective()
	for i, top := range d.Top {
		if !isLoss {
			Copy32(weights[i], top.Diff.MutableCpuValues(), len(weights[i]), 0)
		}
	}
	layer.FeedBackward(d, paramPropagate)
	analytic := make([][]float32, len(checked))
	for i, b := range checked {
		analytic[i] = append([]float32(nil), b.Diff.CpuValues()...)
	}

	settings := &fd.Settings{Formula: fd.Central, Step: gradientStep}
	for i, b := range checked {
		data := b.Data.MutableCpuValues()
		x := make([]float64, len(data))
		for j, v := range data {
			x[j] = float64(v)
		}
		numeric := fd.Gradient(nil, func(y []float64) float64 {
			for j, v := range y {
				data[j] = float32(v)
			}
			return objective()
		}, x, settings)
		for j, v := range x {
			data[j] = float32(v)
		}

		for j, want := range numeric {
			got := float64(analytic[i][j])
			scale := math.Max(math.Max(math.Abs(got), math.Abs(want)), 1)
			require.LessOrEqualf(t, math.Abs(got-want), gradientThreshold*scale,
				"%s[%d]: analytic %g, numeric %g", b.Name, j, got, want)
		}
	}
}

func gaussianBlob(name string, dim BlobPoint, std float64, seed uint64) *Blob {
	b := NewBlob(name, &dim)
	NewGaussianFiller(0, std, seed).Fill(b)
	return b
}

// awayFromZero pushes every value at least margin away from 0, keeping its sign.
func awayFromZero(b *Blob, margin float32) {
	data := b.Data.MutableCpuValues()
	for i, v := range data {
		if v < 0 {
			data[i] = v - margin
		} else {
			data[i] = v + margin
		}
	}
}
