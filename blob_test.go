package tripletnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas"
)

func TestBlobOffset(t *testing.T) {
	b := NewBlob("b", &BlobPoint{2, 3, 4, 5})
	assert.Equal(t, 120, b.Count())
	assert.Equal(t, 0, b.Offset(&BlobPoint{0, 0, 0, 0}))
	assert.Equal(t, 1, b.Offset(&BlobPoint{0, 0, 0, 1}))
	assert.Equal(t, 5, b.Offset(&BlobPoint{0, 0, 1, 0}))
	assert.Equal(t, 20, b.Offset(&BlobPoint{0, 1, 0, 0}))
	assert.Equal(t, 119, b.Offset(&BlobPoint{1, 2, 3, 4}))

	b.Data.MutableCpuValues()[119] = 7
	b.Diff.MutableCpuValues()[20] = -1
	assert.Equal(t, float32(7), b.DataAt(&BlobPoint{1, 2, 3, 4}))
	assert.Equal(t, float32(-1), b.DiffAt(&BlobPoint{0, 1, 0, 0}))
}

func TestBlobReshape(t *testing.T) {
	b := NewBlob("b", &BlobPoint{2, 3, 1, 1})
	b.Data.Fill(2)
	data := b.Data

	b.Reshape(&BlobPoint{1, 6, 1, 1})
	assert.Same(t, data, b.Data, "same size keeps the storage")
	assert.Equal(t, BlobPoint{1, 6, 1, 1}, b.Dim)
	assert.Equal(t, float32(2), b.Data.CpuValues()[5])

	b.Reshape(&BlobPoint{2, 6, 1, 1})
	assert.NotSame(t, data, b.Data)
	assert.Equal(t, 12, b.Data.Size())
	assert.Equal(t, 12, b.Diff.Size())
	assert.Equal(t, float32(0), b.Data.Sum())
}

func TestBlobShape(t *testing.T) {
	b, err := NewBlobShape("b", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, b.NumAxes)
	assert.Equal(t, BlobPoint{3, 2, 1, 1}, b.Dim)
	assert.Equal(t, 6, b.Count())

	square := NewBlob("c", &BlobPoint{3, 2, 1, 1})
	assert.False(t, b.ShapeEquals(square), "axis count differs")
	square.NumAxes = 2
	assert.True(t, b.ShapeEquals(square))

	_, err = NewBlobShape("b", 1, 2, 3, 4, 5)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = NewBlobShape("b", 2, 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	loss := NewScalarBlob("loss")
	assert.Equal(t, 0, loss.NumAxes)
	assert.Equal(t, 1, loss.Count())
	assert.Equal(t, "loss: scalar", loss.String())
}

func TestSyncedData(t *testing.T) {
	d := NewSyncedData(4)
	assert.False(t, d.Dirty())
	_ = d.CpuValues()
	assert.False(t, d.Dirty())

	copy(d.MutableCpuValues(), []float32{1, -2, 3, -4})
	assert.True(t, d.Dirty())
	assert.Equal(t, float32(10), d.Sum())
	assert.Equal(t, float32(30), d.SumSq())
}

func TestMath32(t *testing.T) {
	// (2x3) * (3x2)
	a := []float32{1, 2, 3, 4, 5, 6}
	b := []float32{7, 8, 9, 10, 11, 12}
	c := []float32{1, 1, 1, 1}
	Gemm32(blas.NoTrans, blas.NoTrans, 2, 2, 3, 1, a, b, 1, c)
	assert.Equal(t, []float32{59, 65, 140, 155}, c)

	y := make([]float32, 3)
	Gemv32(blas.Trans, 2, 3, 2, a, []float32{1, -1}, 0, y)
	assert.Equal(t, []float32{-6, -6, -6}, y)

	x := []float32{1, 2, 3}
	z := []float32{10, 20, 30}
	Axpby32(3, 2, x, 0.5, z)
	assert.Equal(t, []float32{7, 14, 21}, z)
	Sub32(3, z, x, z)
	assert.Equal(t, []float32{6, 12, 18}, z)
	assert.Equal(t, float32(6+24+54), Dot32(3, x, 1, z, 1))

	dst := make([]float32, 2)
	Copy32(x, dst, 2, 1)
	assert.Equal(t, []float32{2, 3}, dst)
	assert.Equal(t, []float32{3, 4}, Subslice32(a, 1, 2))

	// zero length is a no-op
	Axpy32(0, 1, nil, nil)
	Scal32(0, 1, nil)
	assert.Zero(t, Asum32(0, nil))
}
