package tripletnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tripletTestLayers is a linear embedding of three 4 dimensional inputs into
// 3 dimensions trained with the triplet loss.
func tripletTestLayers() []Layer {
	const batch = 2
	inputDim := &BlobPoint{batch, 4, 1, 1}
	labelDim := &BlobPoint{batch, 3, 1, 1}
	input := func(seed uint64, dim *BlobPoint) [][]float32 {
		b := gaussianBlob("input", *dim, 1, seed)
		return [][]float32{b.Data.CpuValues()}
	}
	data := &FixedDataLayer{
		BaseLayer: BaseLayer{
			Name:     "data",
			TopNames: []string{"xa", "xp", "xn", "la", "lp", "ln"},
		},
		DataDims: []*BlobPoint{inputDim, inputDim, inputDim, labelDim, labelDim, labelDim},
		Data: [][][]float32{
			input(41, inputDim), input(42, inputDim), input(43, inputDim),
			input(44, labelDim), input(45, labelDim), input(46, labelDim),
		},
	}
	ip := NewInnerProductLayer(BaseLayer{"ip", []string{"xa", "xp", "xn"}, []string{"fa", "fp", "fn"}}, 3, true)
	ip.WeightFiller = NewGaussianFiller(0, 0.5, 47)
	loss := NewTripletLossRegLayer(BaseLayer{
		"loss",
		[]string{"fa", "fp", "fn", "la", "lp", "ln"},
		[]string{"loss"},
	}, 100, 0.001)
	// listed out of order, the network sorts them by their inputs
	return []Layer{loss, ip, data}
}

func TestNetworkSetup(t *testing.T) {
	net, err := NewNetwork(tripletTestLayers())
	require.NoError(t, err)
	defer net.Close()

	require.Len(t, net.Layers, 3)
	assert.Equal(t, "data", net.Layers[0].LayerName())
	assert.Equal(t, "ip", net.Layers[1].LayerName())
	assert.Equal(t, "loss", net.Layers[2].LayerName())
	assert.Len(t, net.Params, 2)
	for _, name := range []string{"xa", "la", "fa", "fn", "loss"} {
		assert.Contains(t, net.BlobsByName, name)
	}

	assert.Equal(t, []bool{false, false, false}, net.LayerDatas[1].PropagateDown)
	assert.Equal(t, []bool{true, true, true, false, false, false}, net.LayerDatas[2].PropagateDown)
	assert.Equal(t, []bool{false, true, true}, net.needsBackward)
}

func TestNetworkForwardBackward(t *testing.T) {
	net, err := NewNetwork(tripletTestLayers())
	require.NoError(t, err)
	net.UpdateParams = true

	loss := net.ForwardBackward()
	assert.Greater(t, loss, float32(0))
	assert.Equal(t, loss, net.BlobsByName["loss"].Data.CpuValues()[0])
	assert.True(t, net.BlobsByName["fa"].Diff.Dirty())
	assert.False(t, net.BlobsByName["xa"].Diff.Dirty(), "inputs get no diff")
	assert.False(t, net.BlobsByName["la"].Diff.Dirty(), "labels get no diff")
	for _, param := range net.Params {
		assert.True(t, param.Diff.Dirty())
	}

	net.ClearParamDiffs()
	for _, param := range net.Params {
		assert.Zero(t, param.Diff.Sum())
	}
	require.NoError(t, net.Reshape())
	assert.Equal(t, loss, net.Forward(), "a single input is served every pass")
}

func TestNetworkSolve(t *testing.T) {
	net, err := NewNetwork(tripletTestLayers())
	require.NoError(t, err)

	solver := NewSgdSolver(net)
	solver.Momentum = 0
	solver.WeightDecay = 0
	solver.DisplayEvery = 0
	first := solver.Solve(1)
	last := solver.Solve(10)
	assert.Equal(t, 11, solver.Iterations())
	assert.Less(t, last, first)
}

func TestSolverLearningRate(t *testing.T) {
	net, err := NewNetwork(tripletTestLayers())
	require.NoError(t, err)
	s := NewSgdSolver(net)
	s.BaseLearningRate = 0.1
	s.Gamma = 0.5
	s.StepSize = 2

	var rates []float32
	for i := 0; i < 5; i++ {
		rates = append(rates, s.calculateRate())
		s.iterations++
	}
	assert.InDeltaSlice(t, []float32{0.1, 0.1, 0.05, 0.05, 0.025}, rates, 1e-7)

	s.StepSize = 0
	assert.Equal(t, float32(0.1), s.calculateRate())
}

func TestSolverUpdate(t *testing.T) {
	net, err := NewNetwork(tripletTestLayers())
	require.NoError(t, err)
	s := NewSgdSolver(net)
	s.BaseLearningRate = 0.5
	s.Momentum = 0.9
	s.WeightDecay = 0.1

	weight := net.Params[0]
	weight.Data.Fill(2)
	weight.Diff.Fill(1)
	s.ComputeUpdates()
	// -lr * (diff + decay*data)
	assert.InDelta(t, -0.6, weight.Diff.CpuValues()[0], 1e-6)
	net.Update()
	assert.InDelta(t, 1.4, weight.Data.CpuValues()[0], 1e-6)

	weight.Diff.Fill(1)
	s.ComputeUpdates()
	// momentum carries the previous step
	assert.InDelta(t, 0.9*-0.6-0.5*(1+0.1*1.4), weight.Diff.CpuValues()[0], 1e-6)
}

func TestNetworkUnreachableLayer(t *testing.T) {
	layers := tripletTestLayers()
	layers = append(layers, NewTanhLayer(BaseLayer{"orphan", []string{"missing"}, []string{"out"}}))
	_, err := NewNetwork(layers)
	assert.ErrorIs(t, err, ErrUnreachableLayer)
}

func TestNetworkSetupError(t *testing.T) {
	layers := tripletTestLayers()
	layers[0] = NewTripletLossRegLayer(BaseLayer{
		"loss",
		[]string{"fa", "fp", "xn", "la", "lp", "ln"},
		[]string{"loss"},
	}, 1, 0.1)
	_, err := NewNetwork(layers)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.ErrorContains(t, err, "setting up layer loss")
}

func TestNetworkSharedBlobDiffsAreSummed(t *testing.T) {
	const batch = 2
	inputDim := &BlobPoint{batch, 4, 1, 1}
	embedDim := &BlobPoint{batch, 3, 1, 1}
	input := func(seed uint64, dim *BlobPoint) [][]float32 {
		return [][]float32{gaussianBlob("input", *dim, 1, seed).Data.CpuValues()}
	}
	data := &FixedDataLayer{
		BaseLayer: BaseLayer{Name: "data", TopNames: []string{"x", "xn", "la", "lp", "ln"}},
		DataDims:  []*BlobPoint{inputDim, embedDim, embedDim, embedDim, embedDim},
		Data: [][][]float32{
			input(61, inputDim), input(62, embedDim),
			input(63, embedDim), input(64, embedDim), input(65, embedDim),
		},
	}
	ip := NewInnerProductLayer(BaseLayer{"ip", []string{"x"}, []string{"h"}}, 3, true)
	ip.WeightFiller = NewGaussianFiller(0, 0.5, 66)
	layers := []Layer{
		data,
		ip,
		NewTanhLayer(BaseLayer{"tanh", []string{"h"}, []string{"h1"}}),
		NewIdentityLayer(BaseLayer{"identity", []string{"h"}, []string{"h2"}}),
		NewTripletLossRegLayer(BaseLayer{
			"loss",
			[]string{"h1", "h2", "xn", "la", "lp", "ln"},
			[]string{"loss"},
		}, 100, 0.001),
	}
	net, err := NewNetwork(layers)
	require.NoError(t, err)
	require.Len(t, net.Layers, 6)
	assert.Equal(t, "Split", net.Layers[2].LayerType())
	assert.Equal(t, []bool{true}, net.LayerDatas[2].PropagateDown)

	net.UpdateParams = true
	net.ForwardBackward()

	h, h1, h2 := net.BlobsByName["h"], net.BlobsByName["h1"], net.BlobsByName["h2"]
	h1Data, h1Diff, h2Diff := h1.Data.CpuValues(), h1.Diff.CpuValues(), h2.Diff.CpuValues()
	require.NotZero(t, h1.Diff.Sum())
	require.NotZero(t, h2.Diff.Sum())
	for j, got := range h.Diff.CpuValues() {
		want := h1Diff[j]*(1-h1Data[j]*h1Data[j]) + h2Diff[j]
		assert.InDelta(t, want, got, 1e-5, "h diff %d", j)
	}

	// the shared embedding trains on the summed diff
	x := net.BlobsByName["x"].Data.CpuValues()
	hDiff := h.Diff.CpuValues()
	weightDiff := net.Params[0].Diff.CpuValues()
	for o := 0; o < 3; o++ {
		for k := 0; k < 4; k++ {
			want := float32(0)
			for m := 0; m < batch; m++ {
				want += hDiff[m*3+o] * x[m*4+k]
			}
			assert.InDelta(t, want, weightDiff[o*4+k], 1e-5, "weight diff (%d,%d)", o, k)
		}
	}
}

func TestNetworkDuplicateTopBlob(t *testing.T) {
	layers := tripletTestLayers()
	layers = append(layers, NewTanhLayer(BaseLayer{"dup", []string{"xa"}, []string{"fa"}}))
	_, err := NewNetwork(layers)
	assert.ErrorIs(t, err, ErrDuplicateTopBlob)
	assert.ErrorContains(t, err, "setting up layer dup")
}
