package tripletnet

import (
	"fmt"
)

// TripletLossRegLayer is a margin triplet loss over anchor, positive and
// negative embeddings, regularized by the squared distance between each
// embedding and a label vector supplied alongside it.
//
// Bottoms, in order: anchor, positive, negative, anchor label, positive
// label, negative label. Top: the scalar loss.
type TripletLossRegLayer struct {
	LossLayer
	Alpha *float32
	Gamma *float32

	alpha           float32
	gamma           float32
	diffSameClass   *Blob
	diffDiffClass   *Blob
	labAnchResidual *Blob
	labPosResidual  *Blob
	labNegResidual  *Blob
	perSampleLoss   []float32
	perSampleReg    []float32
	batchSize       int
	sampleDim       int
}

var _ = Layer(new(TripletLossRegLayer))

const (
	tripletAnchor = iota
	tripletPositive
	tripletNegative
	tripletLabelAnchor
	tripletLabelPositive
	tripletLabelNegative
)

func (l *TripletLossRegLayer) LayerType() string { return "TripletLossReg" }

func (l *TripletLossRegLayer) Setup(d *LayerData) error {
	err := l.checkNames(6, 1)
	if err != nil {
		return err
	}
	if l.Alpha == nil {
		return l.configError("alpha")
	}
	if l.Gamma == nil {
		return l.configError("gamma")
	}
	l.alpha = *l.Alpha
	l.gamma = *l.Gamma

	l.setupLossTop(d)
	return l.Reshape(d)
}

func (l *TripletLossRegLayer) configError(param string) error {
	return fmt.Errorf("%w: layer %s requires triplet parameter %s", ErrConfigurationMissing, l.Name, param)
}

func (l *TripletLossRegLayer) Reshape(d *LayerData) error {
	if err := l.checkBottoms(d); err != nil {
		return err
	}
	anchor := d.Bottom[tripletAnchor]
	if !anchor.ShapeEquals(d.Bottom[tripletPositive]) {
		return l.shapeError("positive %s must have the anchor dimensions %s",
			d.Bottom[tripletPositive].Dim, anchor.Dim)
	}
	if !anchor.ShapeEquals(d.Bottom[tripletNegative]) {
		return l.shapeError("negative %s must have the anchor dimensions %s",
			d.Bottom[tripletNegative].Dim, anchor.Dim)
	}
	for i := tripletAnchor; i <= tripletNegative; i++ {
		embedding, label := d.Bottom[i], d.Bottom[i+3]
		if embedding.Dim.Channel != label.Dim.Channel {
			return l.shapeError("label %s has %d channels, embedding %s has %d",
				l.BottomNames[i+3], label.Dim.Channel, l.BottomNames[i], embedding.Dim.Channel)
		}
		if embedding.Count() != label.Count() {
			return l.shapeError("label %s holds %d values, embedding %s holds %d",
				l.BottomNames[i+3], label.Count(), l.BottomNames[i], embedding.Count())
		}
	}
	if anchor.Dim.Batch == 0 {
		return l.shapeError("empty batch")
	}

	dim := &anchor.Dim
	l.diffSameClass = NewBlob(l.Name+"_diff_same_class", dim)
	l.diffDiffClass = NewBlob(l.Name+"_diff_diff_class", dim)
	l.labAnchResidual = NewBlob(l.Name+"_lab_anch_class", dim)
	l.labPosResidual = NewBlob(l.Name+"_lab_pos_class", dim)
	l.labNegResidual = NewBlob(l.Name+"_lab_neg_class", dim)

	l.batchSize = dim.Batch
	l.sampleDim = dim.Size() / l.batchSize
	l.perSampleLoss = make([]float32, l.batchSize)
	l.perSampleReg = make([]float32, l.batchSize)
	return nil
}

func (l *TripletLossRegLayer) FeedForward(d *LayerData) float32 {
	count := d.Bottom[tripletAnchor].Count()
	anchor := d.Bottom[tripletAnchor].Data.CpuValues()
	positive := d.Bottom[tripletPositive].Data.CpuValues()
	negative := d.Bottom[tripletNegative].Data.CpuValues()

	diffSame := l.diffSameClass.Data.MutableCpuValues()
	diffDiff := l.diffDiffClass.Data.MutableCpuValues()
	labAnch := l.labAnchResidual.Data.MutableCpuValues()
	labPos := l.labPosResidual.Data.MutableCpuValues()
	labNeg := l.labNegResidual.Data.MutableCpuValues()
	Sub32(count, anchor, positive, diffSame)
	Sub32(count, anchor, negative, diffDiff)
	Sub32(count, anchor, d.Bottom[tripletLabelAnchor].Data.CpuValues(), labAnch)
	Sub32(count, positive, d.Bottom[tripletLabelPositive].Data.CpuValues(), labPos)
	Sub32(count, negative, d.Bottom[tripletLabelNegative].Data.CpuValues(), labNeg)

	loss := float32(0)
	for v := 0; v < l.batchSize; v++ {
		l.perSampleReg[v] = sqNorm32(Subslice32(labAnch, v, l.sampleDim)) +
			sqNorm32(Subslice32(labPos, v, l.sampleDim)) +
			sqNorm32(Subslice32(labNeg, v, l.sampleDim))

		rawLoss := l.alpha +
			sqNorm32(Subslice32(diffSame, v, l.sampleDim)) -
			sqNorm32(Subslice32(diffDiff, v, l.sampleDim))

		l.perSampleLoss[v] = Max32(0, rawLoss) + l.gamma*l.perSampleReg[v]
		loss += l.perSampleLoss[v]
	}
	loss /= float32(l.batchSize)

	d.Top[0].Data.MutableCpuValues()[0] = loss
	return loss * d.Top[0].Diff.CpuValues()[0]
}

func (l *TripletLossRegLayer) FeedBackward(d *LayerData, paramPropagate bool) {
	scale := 2 * d.Top[0].Diff.CpuValues()[0] / float32(l.batchSize)
	n := d.Bottom[tripletAnchor].Count()
	diffSame := l.diffSameClass.Data.CpuValues()
	diffDiff := l.diffDiffClass.Data.CpuValues()

	if d.propagate(tripletAnchor) {
		anchorDiff := d.Bottom[tripletAnchor].Diff.MutableCpuValues()
		Sub32(n, diffSame, diffDiff, anchorDiff)
		Axpby32(n, -l.gamma, l.labAnchResidual.Data.CpuValues(), 1, anchorDiff)
		Scal32(n, scale, anchorDiff)
	}
	if d.propagate(tripletPositive) {
		positiveDiff := d.Bottom[tripletPositive].Diff.MutableCpuValues()
		Copy32(diffSame, positiveDiff, n, 0)
		Axpy32(n, -l.gamma, l.labPosResidual.Data.CpuValues(), positiveDiff)
		Scal32(n, -scale, positiveDiff)
	}
	if d.propagate(tripletNegative) {
		negativeDiff := d.Bottom[tripletNegative].Diff.MutableCpuValues()
		Copy32(diffDiff, negativeDiff, n, 0)
		Axpy32(n, -l.gamma, l.labNegResidual.Data.CpuValues(), negativeDiff)
		Scal32(n, scale, negativeDiff)
	}

	// The gate is on the full per sample loss, regularization included.
	for v := 0; v < l.batchSize; v++ {
		if l.perSampleLoss[v] != 0 {
			continue
		}
		for i := tripletAnchor; i <= tripletNegative; i++ {
			if d.propagate(i) {
				Set32(Subslice32(d.Bottom[i].Diff.MutableCpuValues(), v, l.sampleDim), 0)
			}
		}
	}
}

// PerSampleLoss returns the hinge plus regularization of each sample from
// the last forward pass.
func (l *TripletLossRegLayer) PerSampleLoss() []float32 { return l.perSampleLoss }

func sqNorm32(x []float32) float32 {
	return Dot32(len(x), x, 1, x, 1)
}

func NewTripletLossRegLayer(baseLayer BaseLayer, alpha, gamma float32) *TripletLossRegLayer {
	return &TripletLossRegLayer{
		LossLayer: LossLayer{BaseLayer: baseLayer, LossWeight: 1},
		Alpha:     &alpha,
		Gamma:     &gamma,
	}
}
