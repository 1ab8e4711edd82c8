package tripletnet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

var (
	ErrUnknownLayerType = errors.New("unknown layer type")
	ErrInvalidParam     = errors.New("invalid layer parameter")
)

// NetConfig is a JSON network definition.
type NetConfig struct {
	Name   string        `json:"name"`
	Layers []LayerConfig `json:"layers"`
	Solver *SolverConfig `json:"solver,omitempty"`
}

type LayerConfig struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Bottom     []string `json:"bottom"`
	Top        []string `json:"top"`
	LossWeight *float32 `json:"loss_weight,omitempty"`

	TripletParam      *TripletParam      `json:"triplet_param,omitempty"`
	InnerProductParam *InnerProductParam `json:"inner_product_param,omitempty"`
	ReLUParam         *ReLUParam         `json:"relu_param,omitempty"`
	DataParam         *DataParam         `json:"data_param,omitempty"`
	NeighbourParam    *NeighbourParam    `json:"neighbour_param,omitempty"`
}

// TripletParam has no defaults, a missing value fails layer creation.
type TripletParam struct {
	Alpha *float32 `json:"alpha"`
	Gamma *float32 `json:"gamma"`
}

type InnerProductParam struct {
	NumOutput    int           `json:"num_output"`
	BiasTerm     *bool         `json:"bias_term"`
	WeightFiller *FillerConfig `json:"weight_filler"`
	BiasFiller   *FillerConfig `json:"bias_filler"`
}

type ReLUParam struct {
	NegativeSlope float32 `json:"negative_slope"`
}

type DataParam struct {
	Source    string `json:"source"`
	BatchSize int    `json:"batch_size"`
}

type NeighbourParam struct {
	// Normalization is "average" (default) or "sum".
	Normalization string `json:"normalization"`
}

type SolverConfig struct {
	BaseLearningRate float32 `json:"base_lr"`
	Momentum         float32 `json:"momentum"`
	WeightDecay      float32 `json:"weight_decay"`
	Gamma            float32 `json:"gamma"`
	StepSize         int     `json:"stepsize"`
	Display          int     `json:"display"`
	MaxIter          int     `json:"max_iter"`
}

// LoadNetConfig reads a JSON network definition from a file.
func LoadNetConfig(fileName string) (c NetConfig, err error) {
	var f *os.File
	if f, err = os.Open(fileName); err != nil {
		return
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&c); err != nil {
		err = fmt.Errorf("decoding %s: %w", fileName, err)
	}
	return
}

// LayerCreator builds a layer from its definition.
type LayerCreator func(c *LayerConfig) (Layer, error)

var layerRegistry = map[string]LayerCreator{}

// RegisterLayer makes a layer type available to CreateLayer. Registering
// the same type twice panics.
func RegisterLayer(layerType string, creator LayerCreator) {
	if _, ok := layerRegistry[layerType]; ok {
		panic("layer type already registered: " + layerType)
	}
	layerRegistry[layerType] = creator
}

// LayerTypes lists the registered layer types.
func LayerTypes() []string {
	types := make([]string, 0, len(layerRegistry))
	for t := range layerRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func CreateLayer(c *LayerConfig) (Layer, error) {
	creator, ok := layerRegistry[c.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q (layer %s), known: %v", ErrUnknownLayerType, c.Type, c.Name, LayerTypes())
	}
	return creator(c)
}

// BuildLayers creates every layer of the definition, in order.
func (c *NetConfig) BuildLayers() ([]Layer, error) {
	layers := make([]Layer, 0, len(c.Layers))
	for i := range c.Layers {
		layer, err := CreateLayer(&c.Layers[i])
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// NewSolver creates an SGD solver for net, overriding the defaults with the
// values set in c.
func (c *SolverConfig) NewSolver(net *Network) *SgdSolver {
	s := NewSgdSolver(net)
	if c == nil {
		return s
	}
	if c.BaseLearningRate != 0 {
		s.BaseLearningRate = c.BaseLearningRate
	}
	if c.Momentum != 0 {
		s.Momentum = c.Momentum
	}
	if c.WeightDecay != 0 {
		s.WeightDecay = c.WeightDecay
	}
	if c.Gamma != 0 {
		s.Gamma = c.Gamma
	}
	if c.StepSize != 0 {
		s.StepSize = c.StepSize
	}
	if c.Display != 0 {
		s.DisplayEvery = c.Display
	}
	return s
}

func (c *LayerConfig) baseLayer() BaseLayer {
	return BaseLayer{c.Name, c.Bottom, c.Top}
}

func missingParam(c *LayerConfig, param string) error {
	return fmt.Errorf("%w: layer %s (%s) requires %s", ErrConfigurationMissing, c.Name, c.Type, param)
}

func init() {
	RegisterLayer("TripletLossReg", func(c *LayerConfig) (Layer, error) {
		p := c.TripletParam
		if p == nil {
			return nil, missingParam(c, "triplet_param")
		}
		if p.Alpha == nil {
			return nil, missingParam(c, "triplet_param.alpha")
		}
		if p.Gamma == nil {
			return nil, missingParam(c, "triplet_param.gamma")
		}
		l := NewTripletLossRegLayer(c.baseLayer(), *p.Alpha, *p.Gamma)
		if c.LossWeight != nil {
			l.LossWeight = *c.LossWeight
		}
		return l, nil
	})
	RegisterLayer("Neighbour", func(c *LayerConfig) (Layer, error) {
		normalization := NeighbourAverage
		if c.NeighbourParam != nil {
			switch c.NeighbourParam.Normalization {
			case "", "average":
			case "sum":
				normalization = NeighbourSum
			default:
				return nil, fmt.Errorf("%w: layer %s: unknown normalization %q", ErrInvalidParam, c.Name, c.NeighbourParam.Normalization)
			}
		}
		return NewNeighbourLayer(c.baseLayer(), normalization), nil
	})
	RegisterLayer("InnerProduct", func(c *LayerConfig) (Layer, error) {
		p := c.InnerProductParam
		if p == nil || p.NumOutput <= 0 {
			return nil, missingParam(c, "inner_product_param.num_output")
		}
		includeBias := p.BiasTerm == nil || *p.BiasTerm
		l := NewInnerProductLayer(c.baseLayer(), p.NumOutput, includeBias)
		var err error
		if l.WeightFiller, err = NewFiller(p.WeightFiller); err != nil {
			return nil, err
		}
		if l.BiasFiller, err = NewFiller(p.BiasFiller); err != nil {
			return nil, err
		}
		return l, nil
	})
	RegisterLayer("ReLU", func(c *LayerConfig) (Layer, error) {
		negativeSlope := float32(0)
		if c.ReLUParam != nil {
			negativeSlope = c.ReLUParam.NegativeSlope
		}
		return NewReLULayer(c.baseLayer(), negativeSlope), nil
	})
	RegisterLayer("TanH", func(c *LayerConfig) (Layer, error) {
		return NewTanhLayer(c.baseLayer()), nil
	})
	RegisterLayer("Sigmoid", func(c *LayerConfig) (Layer, error) {
		return NewSigmoidLayer(c.baseLayer()), nil
	})
	RegisterLayer("Softsign", func(c *LayerConfig) (Layer, error) {
		return NewSoftsignLayer(c.baseLayer()), nil
	})
	RegisterLayer("Identity", func(c *LayerConfig) (Layer, error) {
		return NewIdentityLayer(c.baseLayer()), nil
	})
	RegisterLayer("BoltData", func(c *LayerConfig) (Layer, error) {
		p := c.DataParam
		if p == nil || p.Source == "" {
			return nil, missingParam(c, "data_param.source")
		}
		if p.BatchSize <= 0 {
			return nil, missingParam(c, "data_param.batch_size")
		}
		return &BoltDbDataLayer{
			BaseLayer:  c.baseLayer(),
			DbFileName: p.Source,
			NumInBatch: p.BatchSize,
		}, nil
	})
}
