package tripletnet

import (
	"errors"
	"fmt"
	"io"
	"log"
)

var (
	ErrUnreachableLayer = errors.New("invalid network definition, unreachable layers")
	ErrDuplicateTopBlob = errors.New("invalid network definition, top blob produced twice")
)

type Network struct {
	Layers       []Layer
	LayerDatas   []*LayerData
	UpdateParams bool

	BlobsByName map[string]*Blob
	Params      []*Blob

	// needsBackward is indexed like Layers.
	needsBackward []bool
	blobBackward  map[string]bool

	// consumers counts the bottoms reading each blob name. Blobs read more
	// than once get a SplitLayer, splitTops holds its tops not handed out yet.
	consumers map[string]int
	splitTops map[string][]*Blob
}

func NewNetwork(layers []Layer) (*Network, error) {
	n := new(Network)
	err := n.initLayers(layers)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) initLayers(layers []Layer) error {
	// create layer data and connect layers via blob names
	n.Layers = make([]Layer, 0, len(layers))
	n.LayerDatas = make([]*LayerData, 0, len(layers))
	n.BlobsByName = make(map[string]*Blob)
	n.blobBackward = make(map[string]bool)
	n.consumers = make(map[string]int)
	n.splitTops = make(map[string][]*Blob)
	for _, layer := range layers {
		for _, bottomName := range layer.BottomBlobNames() {
			n.consumers[bottomName]++
		}
	}
	added := make([]bool, len(layers))
	numAdded := 0
finalLayer:
	for numAdded < len(layers) {
		// find a layer that can be added (bottom blobs defined) and push to final layer
		for i := 0; i < len(layers); i++ {
			layer := layers[i]
			if !added[i] && n.addableLayer(layer) {
				added[i] = true
				numAdded++
				err := n.addLayer(layer)
				if err != nil {
					return fmt.Errorf("setting up layer %s: %w", layer.LayerName(), err)
				}
				continue finalLayer
			}
		}
		log.Println("Added Layers:", added)
		return ErrUnreachableLayer
	}
	return nil
}

// bottomBlob returns the blob a consumer of name reads, one split top per
// consumer when the blob is shared.
func (n *Network) bottomBlob(name string) *Blob {
	if tops := n.splitTops[name]; len(tops) > 0 {
		n.splitTops[name] = tops[1:]
		return tops[0]
	}
	return n.BlobsByName[name]
}

func (n *Network) addLayer(layer Layer) error {
	for _, topName := range layer.TopBlobNames() {
		if _, ok := n.BlobsByName[topName]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTopBlob, topName)
		}
	}
	layerData := new(LayerData)
	bottomNames := layer.BottomBlobNames()
	layerData.Bottom = make([]*Blob, len(bottomNames))
	layerData.PropagateDown = make([]bool, len(bottomNames))
	layerNeedsBackward := false
	for i, bottomName := range bottomNames {
		layerData.Bottom[i] = n.bottomBlob(bottomName)
		layerData.PropagateDown[i] = n.blobBackward[layerData.Bottom[i].Name]
		layerNeedsBackward = layerNeedsBackward || layerData.PropagateDown[i]
	}
	err := layer.Setup(layerData)
	if err != nil {
		return err
	}
	layerData.Params = layer.Params()
	layerNeedsBackward = layerNeedsBackward || len(layerData.Params) > 0

	log.Printf("Setting up %s (%s)\n", layer.LayerName(), layer.LayerType())
	for _, topBlob := range layerData.Top {
		log.Printf("Top shape: %s\n", topBlob)
		n.BlobsByName[topBlob.Name] = topBlob
		n.blobBackward[topBlob.Name] = layerNeedsBackward
	}
	n.Layers = append(n.Layers, layer)
	n.LayerDatas = append(n.LayerDatas, layerData)
	n.needsBackward = append(n.needsBackward, layerNeedsBackward)
	n.Params = append(n.Params, layerData.Params...)

	for _, topBlob := range layerData.Top {
		if count := n.consumers[topBlob.Name]; count > 1 {
			if err := n.addSplit(topBlob.Name, count); err != nil {
				return err
			}
		}
	}
	return nil
}

// addSplit inserts a SplitLayer after the producer of a blob read count
// times, so that the diffs of all consumers are summed.
func (n *Network) addSplit(name string, count int) error {
	topNames := make([]string, count)
	for i := range topNames {
		topNames[i] = fmt.Sprintf("%s_split_%d", name, i)
	}
	split := NewSplitLayer(BaseLayer{name + "_split", []string{name}, topNames})
	if err := n.addLayer(split); err != nil {
		return fmt.Errorf("splitting %s: %w", name, err)
	}
	n.splitTops[name] = n.LayerDatas[len(n.LayerDatas)-1].Top
	return nil
}

func (n *Network) addableLayer(layer Layer) bool {
	for _, bottomName := range layer.BottomBlobNames() {
		_, ok := n.BlobsByName[bottomName]
		if !ok {
			return false
		}
	}
	return true
}

// Reshape runs shape inference through all layers again, for use after the
// shape of an input blob changed.
func (n *Network) Reshape() error {
	for i, layer := range n.Layers {
		if err := layer.Reshape(n.LayerDatas[i]); err != nil {
			return fmt.Errorf("reshaping layer %s: %w", layer.LayerName(), err)
		}
	}
	return nil
}

func (n *Network) ForwardBackward() float32 {
	loss := n.Forward()
	n.Backward()
	return loss
}

func (n *Network) Forward() float32 {
	loss := float32(0)
	for i := 0; i < len(n.Layers); i++ {
		layer := n.Layers[i]
		layerData := n.LayerDatas[i]
		loss += layer.FeedForward(layerData)
	}
	return loss
}

func (n *Network) Backward() {
	for i := len(n.Layers) - 1; i >= 0; i-- {
		if !n.needsBackward[i] {
			continue
		}
		layer := n.Layers[i]
		layerData := n.LayerDatas[i]
		layer.FeedBackward(layerData, n.UpdateParams)
	}
}

func (n *Network) ClearParamDiffs() {
	for _, param := range n.Params {
		param.Diff.Fill(0)
	}
}

// Update applies the param diffs, which the solver has already turned into
// update steps.
func (n *Network) Update() {
	for _, param := range n.Params {
		paramDiff := param.Diff.CpuValues()
		paramData := param.Data.MutableCpuValues()
		Axpy32(len(paramDiff), +1, paramDiff, paramData)
	}
}

// Close releases layers holding external resources such as databases.
func (n *Network) Close() error {
	var errs []error
	for _, layer := range n.Layers {
		if c, ok := layer.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
