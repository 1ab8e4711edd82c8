package tripletnet

// NeuronLayer applies an activation elementwise. Each bottom maps to the top
// at the same index, so one layer can serve all towers of a triplet network.
type NeuronLayer struct {
	BaseLayer
	f ActivationFn
}

var _ = Layer(new(NeuronLayer))

func (l *NeuronLayer) LayerType() string { return l.f.Name() }

func setupElementwise(l *BaseLayer, d *LayerData) error {
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
	d.Top = make([]*Blob, len(l.TopNames))
	for i, bottom := range d.Bottom {
		d.Top[i] = NewBlob(l.TopNames[i], &bottom.Dim)
	}
	return nil
}

func reshapeElementwise(d *LayerData) {
	for i, bottom := range d.Bottom {
		d.Top[i].Reshape(&bottom.Dim)
	}
}

func (l *NeuronLayer) Setup(d *LayerData) error {
	return setupElementwise(&l.BaseLayer, d)
}

func (l *NeuronLayer) Reshape(d *LayerData) error {
	reshapeElementwise(d)
	return nil
}

func (l *NeuronLayer) FeedForward(d *LayerData) float32 {
	for i, bottom := range d.Bottom {
		bottomData := bottom.Data.CpuValues()
		topData := d.Top[i].Data.MutableCpuValues()
		for j, v := range bottomData {
			topData[j] = l.f.Eval(v)
		}
	}
	return 0
}

func (l *NeuronLayer) FeedBackward(d *LayerData, paramPropagate bool) {
	for i, top := range d.Top {
		if !d.propagate(i) {
			continue
		}
		topDiff := top.Diff.CpuValues()
		topData := top.Data.CpuValues()
		bottomDiff := d.Bottom[i].Diff.MutableCpuValues()
		for j, diff := range topDiff {
			bottomDiff[j] = diff * l.f.Deriv(topData[j])
		}
	}
}

func NewIdentityLayer(baseLayer BaseLayer) Layer {
	return &NeuronLayer{baseLayer, Identity}
}

func NewSigmoidLayer(baseLayer BaseLayer) Layer {
	return &NeuronLayer{baseLayer, Sigmoid}
}

func NewSoftsignLayer(baseLayer BaseLayer) Layer {
	return &NeuronLayer{baseLayer, Softsign}
}

func NewTanhLayer(baseLayer BaseLayer) Layer {
	return &NeuronLayer{baseLayer, Tanh}
}

type ReLULayer struct {
	BaseLayer
	NegativeSlope float32
}

var _ = Layer(new(ReLULayer))

func (l *ReLULayer) LayerType() string { return "ReLU" }

func (l *ReLULayer) Setup(d *LayerData) error {
	return setupElementwise(&l.BaseLayer, d)
}

func (l *ReLULayer) Reshape(d *LayerData) error {
	reshapeElementwise(d)
	return nil
}

func (l *ReLULayer) FeedForward(d *LayerData) float32 {
	negativeSlope := l.NegativeSlope
	for i, bottom := range d.Bottom {
		bottomData := bottom.Data.CpuValues()
		topData := d.Top[i].Data.MutableCpuValues()
		for j, v := range bottomData {
			topData[j] = Max32(v, 0) + (negativeSlope * Min32(v, 0))
		}
	}
	return 0
}

func (l *ReLULayer) FeedBackward(d *LayerData, paramPropagate bool) {
	negativeSlope := l.NegativeSlope
	for i, top := range d.Top {
		if !d.propagate(i) {
			continue
		}
		topDiff := top.Diff.CpuValues()
		bottomData := d.Bottom[i].Data.CpuValues()
		bottomDiff := d.Bottom[i].Diff.MutableCpuValues()
		for j, diff := range topDiff {
			if bottomData[j] > 0 {
				bottomDiff[j] = diff
			} else {
				bottomDiff[j] = diff * negativeSlope
			}
		}
	}
}

func NewReLULayer(baseLayer BaseLayer, negativeSlope float32) *ReLULayer {
	return &ReLULayer{baseLayer, negativeSlope}
}
