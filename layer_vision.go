package tripletnet

const (
	neighbourRadius = 2
	neighbourSize   = 2*neighbourRadius + 1
)

// NeighbourNormalization selects how NeighbourLayer combines the gradient
// terms reaching one input pixel.
type NeighbourNormalization int

const (
	// NeighbourAverage divides the summed terms by their number (25 to 50).
	NeighbourAverage NeighbourNormalization = iota
	// NeighbourSum keeps the plain sum, the exact gradient of the forward pass.
	NeighbourSum
)

// NeighbourLayer compares every pixel of one feature map with the 5x5
// neighbourhood of the same position in the other map. Each input pixel
// (h,w) becomes a 5x5 output block whose cell (dy+2,dx+2) holds
// a(h,w) - b(h+dy,w+dx), with b read as 0 outside the frame. The second top
// is the same with both inputs swapped.
type NeighbourLayer struct {
	BaseLayer
	Normalization NeighbourNormalization

	num      int
	channels int
	height   int
	width    int
}

var _ = Layer(new(NeighbourLayer))

func (l *NeighbourLayer) LayerType() string { return "Neighbour" }

func (l *NeighbourLayer) Setup(d *LayerData) error {
	err := l.checkNames(2, 2)
	if err != nil {
		return err
	}
	d.Top = make([]*Blob, 2)
	for i := range d.Top {
		d.Top[i] = NewBlob(l.TopNames[i], &BlobPoint{1, 1, 1, 1})
	}
	return l.Reshape(d)
}

func (l *NeighbourLayer) Reshape(d *LayerData) error {
	if err := l.checkBottoms(d); err != nil {
		return err
	}
	for i, bottom := range d.Bottom {
		if bottom.NumAxes != 4 {
			return l.shapeError("input %d must have 4 axes, corresponding to (num, channels, height, width), got %d",
				i, bottom.NumAxes)
		}
	}
	first, second := d.Bottom[0].Dim, d.Bottom[1].Dim
	if first.Batch != second.Batch {
		return l.shapeError("number of images must be the same: %d != %d", first.Batch, second.Batch)
	}
	if first.Height != second.Height {
		return l.shapeError("dimensions (height) must agree: %d != %d", first.Height, second.Height)
	}
	if first.Width != second.Width {
		return l.shapeError("dimensions (width) must agree: %d != %d", first.Width, second.Width)
	}
	if first.Channel != second.Channel {
		return l.shapeError("dimensions (channels) must agree: %d != %d", first.Channel, second.Channel)
	}

	l.num = first.Batch
	l.channels = first.Channel
	l.height = first.Height
	l.width = first.Width

	topDim := &BlobPoint{l.num, l.channels, neighbourSize * l.height, neighbourSize * l.width}
	for _, top := range d.Top {
		top.Reshape(topDim)
	}
	return nil
}

func (l *NeighbourLayer) inFrame(h, w int) bool {
	return h >= 0 && w >= 0 && h < l.height && w < l.width
}

func (l *NeighbourLayer) FeedForward(d *LayerData) float32 {
	for i := 0; i < 2; i++ {
		other := 1 - i
		l.forwardDifference(d.Bottom[i], d.Bottom[other], d.Top[i])
	}
	return 0
}

func (l *NeighbourLayer) forwardDifference(center, neighbour, top *Blob) {
	centerData := center.Data.CpuValues()
	neighbourData := neighbour.Data.CpuValues()
	topData := top.Data.MutableCpuValues()
	topWidth := top.Dim.Width
	spatialSize := l.height * l.width
	topSpatialSize := top.Dim.SpatialSize()

	for nc := 0; nc < l.num*l.channels; nc++ {
		centerSlice := Subslice32(centerData, nc, spatialSize)
		neighbourSlice := Subslice32(neighbourData, nc, spatialSize)
		topSlice := Subslice32(topData, nc, topSpatialSize)
		for h := 0; h < l.height; h++ {
			for w := 0; w < l.width; w++ {
				value := centerSlice[h*l.width+w]
				for y := 0; y < neighbourSize; y++ {
					nh := h + y - neighbourRadius
					row := (neighbourSize*h + y) * topWidth
					for x := 0; x < neighbourSize; x++ {
						nw := w + x - neighbourRadius
						temp := float32(0)
						if l.inFrame(nh, nw) {
							temp = neighbourSlice[nh*l.width+nw]
						}
						topSlice[row+neighbourSize*w+x] = value - temp
					}
				}
			}
		}
	}
}

func (l *NeighbourLayer) FeedBackward(d *LayerData, paramPropagate bool) {
	for i := 0; i < 2; i++ {
		if !d.propagate(i) {
			continue
		}
		other := 1 - i
		l.backwardDifference(d.Top[i], d.Top[other], d.Bottom[i])
	}
}

func (l *NeighbourLayer) backwardDifference(top, otherTop, bottom *Blob) {
	topDiff := top.Diff.CpuValues()
	otherDiff := otherTop.Diff.CpuValues()
	bottomDiff := bottom.Diff.MutableCpuValues()
	topWidth := top.Dim.Width
	spatialSize := l.height * l.width
	topSpatialSize := top.Dim.SpatialSize()

	for nc := 0; nc < l.num*l.channels; nc++ {
		topSlice := Subslice32(topDiff, nc, topSpatialSize)
		otherSlice := Subslice32(otherDiff, nc, topSpatialSize)
		bottomSlice := Subslice32(bottomDiff, nc, spatialSize)
		for h := 0; h < l.height; h++ {
			for w := 0; w < l.width; w++ {
				sum := float32(0)
				count := 0
				for y := 0; y < neighbourSize; y++ {
					dy := y - neighbourRadius
					for x := 0; x < neighbourSize; x++ {
						dx := x - neighbourRadius
						sum += topSlice[(neighbourSize*h+y)*topWidth+neighbourSize*w+x]
						count++
						if !l.inFrame(h+dy, w+dx) {
							continue
						}
						// The neighbour's own block, at the offset pointing back to (h,w).
						otherH := neighbourSize*(h+dy) + neighbourRadius - dy
						otherW := neighbourSize*(w+dx) + neighbourRadius - dx
						sum -= otherSlice[otherH*topWidth+otherW]
						count++
					}
				}
				if l.Normalization == NeighbourAverage {
					sum /= float32(count)
				}
				bottomSlice[h*l.width+w] = sum
			}
		}
	}
}

func NewNeighbourLayer(baseLayer BaseLayer, normalization NeighbourNormalization) *NeighbourLayer {
	return &NeighbourLayer{BaseLayer: baseLayer, Normalization: normalization}
}
