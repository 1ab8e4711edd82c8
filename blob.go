package tripletnet

import (
	"fmt"
)

// SyncedData holds the values of one side (data or diff) of a blob.
type SyncedData struct {
	values []float32
	dirty  bool
}

func (d *SyncedData) Size() int {
	return len(d.values)
}

func (d *SyncedData) Sum() float32 {
	return Asum32(len(d.values), d.values)
}

func (d *SyncedData) SumSq() float32 {
	return Dot32(len(d.values), d.values, 1, d.values, 1)
}

func (d *SyncedData) CpuValues() []float32 {
	return d.values
}

func (d *SyncedData) MutableCpuValues() []float32 {
	d.dirty = true
	return d.values
}

func (d *SyncedData) Fill(value float32) {
	Set32(d.MutableCpuValues(), value)
}

// Dirty reports whether the values were handed out for writing since creation.
func (d *SyncedData) Dirty() bool { return d.dirty }

func NewSyncedData(capacity int) *SyncedData {
	return &SyncedData{values: make([]float32, capacity)}
}

type BlobPoint struct {
	Batch   int
	Channel int
	Height  int
	Width   int
}

func (p BlobPoint) Size() int {
	return p.Batch * p.BatchSize()
}

func (p BlobPoint) BatchSize() int {
	return p.Channel * p.SpatialSize()
}

func (p BlobPoint) SpatialSize() int {
	return p.Height * p.Width
}

func (p BlobPoint) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", p.Batch, p.Channel, p.Height, p.Width)
}

type Blob struct {
	Name    string
	Dim     BlobPoint
	NumAxes int
	Data    *SyncedData
	Diff    *SyncedData
}

func (b *Blob) Offset(p *BlobPoint) int {
	return ((p.Batch*b.Dim.Channel+p.Channel)*b.Dim.Height+p.Height)*b.Dim.Width + p.Width
}

func (b *Blob) DataAt(p *BlobPoint) float32 {
	return b.Data.CpuValues()[b.Offset(p)]
}

func (b *Blob) DiffAt(p *BlobPoint) float32 {
	return b.Diff.CpuValues()[b.Offset(p)]
}

// Count is the number of elements held by the blob.
func (b *Blob) Count() int {
	return b.Dim.Size()
}

// ShapeEquals compares both the axis count and the dimensions.
func (b *Blob) ShapeEquals(other *Blob) bool {
	return b.NumAxes == other.NumAxes && b.Dim == other.Dim
}

// Reshape changes the blob to a 4 axes shape. Storage is only reallocated
// when the element count changes, old values are kept otherwise.
func (b *Blob) Reshape(dim *BlobPoint) {
	b.NumAxes = 4
	if b.Data != nil && b.Data.Size() == dim.Size() {
		b.Dim = *dim
		return
	}
	b.alloc(dim)
}

func (b *Blob) alloc(dim *BlobPoint) {
	b.Dim = *dim
	capacity := dim.Size()
	b.Data = NewSyncedData(capacity)
	b.Diff = NewSyncedData(capacity)
}

func (b *Blob) String() string {
	if b.NumAxes == 0 {
		return fmt.Sprintf("%s: scalar", b.Name)
	}
	return fmt.Sprintf("%s: dim=%s", b.Name, b.Dim.String())
}

func NewBlob(name string, dim *BlobPoint) *Blob {
	b := new(Blob)
	b.Name = name
	b.NumAxes = 4
	b.alloc(dim)
	return b
}

// NewScalarBlob creates a blob with zero axes holding a single value,
// the shape of a loss output.
func NewScalarBlob(name string) *Blob {
	b := NewBlob(name, &BlobPoint{1, 1, 1, 1})
	b.NumAxes = 0
	return b
}

// NewBlobShape creates a blob of up to four axes. Missing trailing axes
// are treated as 1 when addressing elements.
func NewBlobShape(name string, shape ...int) (*Blob, error) {
	if len(shape) > 4 {
		return nil, fmt.Errorf("%w: blob %s has %d axes, at most 4 supported", ErrShapeMismatch, name, len(shape))
	}
	dims := [4]int{1, 1, 1, 1}
	for i, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("%w: blob %s axis %d has size %d", ErrShapeMismatch, name, i, n)
		}
		dims[i] = n
	}
	b := NewBlob(name, &BlobPoint{dims[0], dims[1], dims[2], dims[3]})
	b.NumAxes = len(shape)
	return b, nil
}
