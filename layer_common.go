package tripletnet

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
)

// InnerProductLayer is a fully connected layer. Every bottom is mapped to
// the top at the same index through one shared weight and bias pair, which
// is how the anchor, positive and negative towers of a triplet network stay
// tied.
type InnerProductLayer struct {
	BaseLayer
	NumOutputs   int
	IncludeBias  bool
	WeightFiller Filler
	BiasFiller   Filler

	m              int
	n              int
	k              int
	weightParams   *Blob
	biasParams     *Blob
	biasMultiplier *Blob
}

var _ = Layer(new(InnerProductLayer))

func (l *InnerProductLayer) LayerType() string { return "InnerProduct" }

func (l *InnerProductLayer) Setup(d *LayerData) error {
	if len(l.BottomNames) == 0 {
		return l.checkBottomNames(1)
	}
	err := l.checkTopNames(len(l.BottomNames))
	if err != nil {
		return err
	}
	if err := l.checkBottoms(d); err != nil {
		return err
	}
	if l.NumOutputs <= 0 {
		return fmt.Errorf("%w: layer %s requires num_output", ErrConfigurationMissing, l.Name)
	}

	l.n = l.NumOutputs
	l.k = d.Bottom[0].Dim.BatchSize()

	l.weightParams = NewBlob(l.LayerName()+"_weight", &BlobPoint{1, 1, l.n, l.k})
	if l.WeightFiller != nil {
		l.WeightFiller.Fill(l.weightParams)
	}
	if l.IncludeBias {
		l.biasParams = NewBlob(l.LayerName()+"_bias", &BlobPoint{1, 1, 1, l.n})
		if l.BiasFiller != nil {
			l.BiasFiller.Fill(l.biasParams)
		}
	}

	d.Top = make([]*Blob, len(l.TopNames))
	for i := range d.Top {
		d.Top[i] = NewBlob(l.TopNames[i], &BlobPoint{1, l.n, 1, 1})
	}
	return l.Reshape(d)
}

func (l *InnerProductLayer) Reshape(d *LayerData) error {
	if err := l.checkBottoms(d); err != nil {
		return err
	}
	l.m = d.Bottom[0].Dim.Batch
	for i, bottom := range d.Bottom {
		if bottom.Dim.BatchSize() != l.k {
			return l.shapeError("bottom %d has %d inputs per sample, weights expect %d", i, bottom.Dim.BatchSize(), l.k)
		}
		if bottom.Dim.Batch != l.m {
			return l.shapeError("bottom %d has batch %d, bottom 0 has %d", i, bottom.Dim.Batch, l.m)
		}
	}
	for _, top := range d.Top {
		top.Reshape(&BlobPoint{l.m, l.n, 1, 1})
	}
	if l.IncludeBias {
		l.biasMultiplier = NewBlob(l.LayerName()+"_biasMultiplier", &BlobPoint{1, 1, 1, l.m})
		Set32(l.biasMultiplier.Data.MutableCpuValues(), 1)
	}
	return nil
}

func (l *InnerProductLayer) FeedForward(d *LayerData) float32 {
	weightParams := l.weightParams.Data.CpuValues()
	for i, bottom := range d.Bottom {
		bottomData := bottom.Data.CpuValues()
		topData := d.Top[i].Data.MutableCpuValues()
		Gemm32(blas.NoTrans, blas.Trans, l.m, l.n, l.k, 1, bottomData, weightParams, 0, topData)
		if l.IncludeBias {
			biasParams := l.biasParams.Data.CpuValues()
			biasMultiplier := l.biasMultiplier.Data.CpuValues()
			Gemm32(blas.NoTrans, blas.NoTrans, l.m, l.n, 1, 1, biasMultiplier, biasParams, 1, topData)
		}
	}
	return 0
}

func (l *InnerProductLayer) FeedBackward(d *LayerData, paramPropagate bool) {
	if paramPropagate {
		l.weightParams.Diff.Fill(0)
		if l.IncludeBias {
			l.biasParams.Diff.Fill(0)
		}
	}
	weightParams := l.weightParams.Data.CpuValues()

	for i, top := range d.Top {
		topDiff := top.Diff.CpuValues()

		if paramPropagate {
			bottomData := d.Bottom[i].Data.CpuValues()
			weightParamDiffs := l.weightParams.Diff.MutableCpuValues()
			// Gradient w.r.t. weight
			Gemm32(blas.Trans, blas.NoTrans, l.n, l.k, l.m, 1, topDiff, bottomData, 1, weightParamDiffs)

			if l.IncludeBias {
				biasMultiplier := l.biasMultiplier.Data.CpuValues()
				biasParamsDiff := l.biasParams.Diff.MutableCpuValues()
				// Gradient w.r.t. bias
				Gemv32(blas.Trans, l.m, l.n, 1, topDiff, biasMultiplier, 1, biasParamsDiff)
			}
		}

		if d.propagate(i) {
			bottomDiff := d.Bottom[i].Diff.MutableCpuValues()
			// Gradient w.r.t. bottom data
			Gemm32(blas.NoTrans, blas.NoTrans, l.m, l.k, l.n, 1, topDiff, weightParams, 0, bottomDiff)
		}
	}
}

func (l *InnerProductLayer) Params() []*Blob {
	if l.IncludeBias {
		return []*Blob{l.weightParams, l.biasParams}
	}
	return []*Blob{l.weightParams}
}

func NewInnerProductLayer(baseLayer BaseLayer, numOutputs int, includeBias bool) *InnerProductLayer {
	return &InnerProductLayer{
		BaseLayer:   baseLayer,
		NumOutputs:  numOutputs,
		IncludeBias: includeBias,
	}
}

// SplitLayer hands one bottom to several consumers. Every top shares the
// bottom data and the bottom diff is the sum of the top diffs.
type SplitLayer struct {
	BaseLayer
}

var _ = Layer(new(SplitLayer))

func (l *SplitLayer) LayerType() string { return "Split" }

func (l *SplitLayer) Setup(d *LayerData) error {
	if err := l.checkBottomNames(1); err != nil {
		return err
	}
	if len(l.TopNames) == 0 {
		return l.checkTopNames(1)
	}
	d.Top = make([]*Blob, len(l.TopNames))
	for i, topName := range l.TopNames {
		d.Top[i] = &Blob{Name: topName}
	}
	return l.Reshape(d)
}

func (l *SplitLayer) Reshape(d *LayerData) error {
	if err := l.checkBottoms(d); err != nil {
		return err
	}
	bottom := d.Bottom[0]
	for _, top := range d.Top {
		top.Dim = bottom.Dim
		top.NumAxes = bottom.NumAxes
		top.Data = bottom.Data
		if top.Diff == nil || top.Diff.Size() != bottom.Data.Size() {
			top.Diff = NewSyncedData(bottom.Data.Size())
		}
	}
	return nil
}

func (l *SplitLayer) FeedForward(d *LayerData) float32 { return 0 }

func (l *SplitLayer) FeedBackward(d *LayerData, paramPropagate bool) {
	if !d.propagate(0) {
		return
	}
	bottomDiff := d.Bottom[0].Diff.MutableCpuValues()
	Copy32(d.Top[0].Diff.CpuValues(), bottomDiff, len(bottomDiff), 0)
	for _, top := range d.Top[1:] {
		Axpy32(len(bottomDiff), 1, top.Diff.CpuValues(), bottomDiff)
	}
}

func NewSplitLayer(baseLayer BaseLayer) *SplitLayer {
	return &SplitLayer{baseLayer}
}
