package tripletnet

import (
	"errors"
	"fmt"
	"log"
)

var (
	ErrInvalidBottomBlobNames = errors.New("invalid bottom blob names")
	ErrInvalidTopBlobNames    = errors.New("invalid top blob names")
	ErrShapeMismatch          = errors.New("shape mismatch")
	ErrConfigurationMissing   = errors.New("configuration missing")
)

type LayerData struct {
	Bottom []*Blob
	Top    []*Blob
	Params []*Blob

	// PropagateDown marks which bottoms want a diff. A nil slice means all of them.
	PropagateDown []bool
}

func (d *LayerData) propagate(i int) bool {
	if d.PropagateDown == nil {
		return true
	}
	return i < len(d.PropagateDown) && d.PropagateDown[i]
}

func (d *LayerData) DebugLayerData() {
	log.Printf("Layer Data: %#v\n", d)
	for j, bottomBlob := range d.Bottom {
		log.Printf("Bottom Blob %d: %s\n", j, bottomBlob)
	}
	for j, topBlob := range d.Top {
		log.Printf("Top Blob %d: %s\n", j, topBlob)
	}
}

type Layer interface {
	LayerName() string
	LayerType() string
	TopBlobNames() []string
	BottomBlobNames() []string

	// Setup checks the blob counts, reads the layer parameters and allocates
	// the top blobs. It ends with a Reshape.
	Setup(d *LayerData) error
	// Reshape validates the bottom shapes and resizes tops and internal buffers.
	Reshape(d *LayerData) error
	FeedForward(d *LayerData) float32
	FeedBackward(d *LayerData, paramPropagate bool)
	Params() []*Blob
}

type BaseLayer struct {
	Name        string
	BottomNames []string
	TopNames    []string
}

func (l *BaseLayer) String() string            { return l.Name }
func (l *BaseLayer) LayerName() string         { return l.Name }
func (l *BaseLayer) TopBlobNames() []string    { return l.TopNames }
func (l *BaseLayer) BottomBlobNames() []string { return l.BottomNames }
func (l *BaseLayer) Params() []*Blob           { return nil }
func (l *BaseLayer) checkNames(expectedBottom, expectedTop int) error {
	err := l.checkBottomNames(expectedBottom)
	if err != nil {
		return err
	}
	return l.checkTopNames(expectedTop)
}
func (l *BaseLayer) checkBottomNames(expected int) error {
	if len(l.BottomNames) != expected {
		return fmt.Errorf("%w: layer %s wants %d, got %d", ErrInvalidBottomBlobNames, l.Name, expected, len(l.BottomNames))
	}
	return nil
}
func (l *BaseLayer) checkTopNames(expected int) error {
	if len(l.TopNames) != expected {
		return fmt.Errorf("%w: layer %s wants %d, got %d", ErrInvalidTopBlobNames, l.Name, expected, len(l.TopNames))
	}
	return nil
}

// checkBottoms makes sure the engine handed over one blob per bottom name.
func (l *BaseLayer) checkBottoms(d *LayerData) error {
	if len(d.Bottom) != len(l.BottomNames) {
		return fmt.Errorf("%w: layer %s got %d bottom blobs for %d names",
			ErrInvalidBottomBlobNames, l.Name, len(d.Bottom), len(l.BottomNames))
	}
	for i, b := range d.Bottom {
		if b == nil {
			return fmt.Errorf("%w: layer %s bottom %q is missing", ErrInvalidBottomBlobNames, l.Name, l.BottomNames[i])
		}
	}
	return nil
}

func (l *BaseLayer) shapeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: layer %s: %s", ErrShapeMismatch, l.Name, fmt.Sprintf(format, args...))
}

// LossLayer is embedded by layers producing a scalar objective. The top diff
// carries the loss weight, the top data the unweighted loss.
type LossLayer struct {
	BaseLayer
	// LossWeight scales the objective and its gradients, 0 switches the loss off.
	LossWeight float32
}

func (l *LossLayer) setupLossTop(d *LayerData) {
	d.Top = make([]*Blob, 1)
	d.Top[0] = NewScalarBlob(l.TopNames[0])
	d.Top[0].Diff.MutableCpuValues()[0] = l.LossWeight
}
