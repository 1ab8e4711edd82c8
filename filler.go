package tripletnet

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

var (
	ErrUnknownFillerType = errors.New("unknown filler type")
)

type Filler interface {
	Fill(b *Blob)
}

// FillerConfig describes a filler in a network definition.
type FillerConfig struct {
	Type  string  `json:"type"`
	Value float32 `json:"value"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Seed  uint64  `json:"seed"`
}

type ConstantFiller struct {
	Value float32
}

func (f ConstantFiller) Fill(b *Blob) {
	b.Data.Fill(f.Value)
}

type GaussianFiller struct {
	Dist distuv.Normal
}

func (f GaussianFiller) Fill(b *Blob) {
	data := b.Data.MutableCpuValues()
	for i := range data {
		data[i] = float32(f.Dist.Rand())
	}
}

type UniformFiller struct {
	Dist distuv.Uniform
}

func (f UniformFiller) Fill(b *Blob) {
	data := b.Data.MutableCpuValues()
	for i := range data {
		data[i] = float32(f.Dist.Rand())
	}
}

func NewGaussianFiller(mean, std float64, seed uint64) GaussianFiller {
	return GaussianFiller{distuv.Normal{Mu: mean, Sigma: std, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}}
}

func NewUniformFiller(min, max float64, seed uint64) UniformFiller {
	return UniformFiller{distuv.Uniform{Min: min, Max: max, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}}
}

// NewFiller builds the filler named by c. An empty type is a constant 0 filler.
func NewFiller(c *FillerConfig) (Filler, error) {
	if c == nil {
		return ConstantFiller{}, nil
	}
	switch c.Type {
	case "", "constant":
		return ConstantFiller{c.Value}, nil
	case "gaussian":
		std := c.Std
		if std == 0 {
			std = 1
		}
		return NewGaussianFiller(c.Mean, std, c.Seed), nil
	case "uniform":
		max := c.Max
		if c.Min == 0 && max == 0 {
			max = 1
		}
		return NewUniformFiller(c.Min, max, c.Seed), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFillerType, c.Type)
}
