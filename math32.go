package tripletnet

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"
)

func Floor32(x float32) float32 { return float32(math.Floor(float64(x))) }
func Exp32(x float32) float32   { return float32(math.Exp(float64(x))) }
func Abs32(x float32) float32   { return float32(math.Abs(float64(x))) }
func Sq32(x float32) float32    { return x * x }
func Max32(x, y float32) float32 { return float32(math.Max(float64(x), float64(y))) }
func Min32(x, y float32) float32 { return float32(math.Min(float64(x), float64(y))) }
func Pow32(x, n float32) float32 { return float32(math.Pow(float64(x), float64(n))) }

var (
	cpuBlas = gonum.Implementation{}
)

func Subslice32(a []float32, offset, size int) []float32 {
	return a[offset*size : (offset+1)*size]
}

func Set32(a []float32, value float32) {
	for i := range a {
		a[i] = value
	}
}

// Copy32 copies count values of a starting at offset into the front of b.
func Copy32(a, b []float32, count, offset int) {
	if count == 0 {
		return
	}
	cpuBlas.Scopy(count, a[offset:offset+count], 1, b, 1)
}

// Sub32 stores a-b into y elementwise.
func Sub32(n int, a, b, y []float32) {
	for i := 0; i < n; i++ {
		y[i] = a[i] - b[i]
	}
}

func Gemm32(transA, transB blas.Transpose, m, n, k int,
	alpha float32, a, b []float32, beta float32, c []float32) {
	var lda, ldb int
	if transA == blas.NoTrans {
		lda = k
	} else {
		lda = m
	}
	if transB == blas.NoTrans {
		ldb = n
	} else {
		ldb = k
	}
	ldc := n
	cpuBlas.Sgemm(transA, transB, m, n, k, alpha, a, lda, b, ldb, beta, c, ldc)
}

func Gemv32(transA blas.Transpose, m, n int,
	alpha float32, a, x []float32, beta float32, y []float32) {
	lda := n
	incX := 1
	incY := 1
	cpuBlas.Sgemv(transA, m, n, alpha, a, lda, x, incX, beta, y, incY)
}

func Dot32(n int, x []float32, incX int, y []float32, incY int) float32 {
	if n == 0 {
		return 0
	}
	return cpuBlas.Sdot(n, x, incX, y, incY)
}

func Axpy32(n int, alpha float32, x []float32, y []float32) {
	if n == 0 {
		return
	}
	cpuBlas.Saxpy(n, alpha, x, 1, y, 1)
}

// Axpby32 computes y = alpha*x + beta*y.
func Axpby32(n int, alpha float32, x []float32, beta float32, y []float32) {
	Scal32(n, beta, y)
	Axpy32(n, alpha, x, y)
}

func Scal32(n int, alpha float32, x []float32) {
	if n == 0 {
		return
	}
	cpuBlas.Sscal(n, alpha, x, 1)
}

func Asum32(n int, x []float32) float32 {
	if n == 0 {
		return 0
	}
	return cpuBlas.Sasum(n, x, 1)
}
