package tripletnet

import (
	"log"
)

type Solver interface {
	ComputeUpdates()
}

// SgdSolver is stochastic gradient descent with momentum, L2 weight decay
// and a step learning rate policy.
type SgdSolver struct {
	Momentum         float32
	BaseLearningRate float32
	WeightDecay      float32
	Gamma            float32
	StepSize         int
	DisplayEvery     int
	net              *Network

	lastParams []*Blob // diffs are last param diffs, data is temporary
	iterations int
}

var _ = Solver(new(SgdSolver))

func (s *SgdSolver) ComputeUpdates() {
	rate := s.calculateRate()
	s.iterations++
	for i, param := range s.net.Params {
		paramData := param.Data.CpuValues()
		paramDiff := param.Diff.MutableCpuValues()

		lastParam := s.lastParams[i]
		paramTemp := lastParam.Data.MutableCpuValues()
		lastParamDiff := lastParam.Diff.MutableCpuValues()

		// Apply Weight Decay
		Axpy32(len(paramData), s.WeightDecay, paramData, paramDiff)

		// Compute Param Updates
		Set32(paramTemp, 0)
		Axpy32(len(paramTemp), s.Momentum, lastParamDiff, paramTemp)
		Axpy32(len(paramTemp), -rate, paramDiff, paramTemp)
		Copy32(paramTemp, lastParamDiff, len(paramTemp), 0)
		Copy32(paramTemp, paramDiff, len(paramTemp), 0)
	}
}

func (s *SgdSolver) calculateRate() float32 {
	if s.StepSize <= 0 {
		return s.BaseLearningRate
	}
	return s.BaseLearningRate * Pow32(s.Gamma, Floor32(float32(s.iterations)/float32(s.StepSize)))
}

// Iterations is the number of updates computed so far.
func (s *SgdSolver) Iterations() int { return s.iterations }

// Solve runs iterations rounds of forward, backward and update and returns
// the loss of the last round.
func (s *SgdSolver) Solve(iterations int) float32 {
	s.net.UpdateParams = true
	loss := float32(0)
	for i := 0; i < iterations; i++ {
		loss = s.net.ForwardBackward()
		if s.DisplayEvery > 0 && s.iterations%s.DisplayEvery == 0 {
			log.Printf("Iteration %d, lr = %g, loss = %f\n", s.iterations, s.calculateRate(), loss)
		}
		s.ComputeUpdates()
		s.net.Update()
	}
	return loss
}

func NewSgdSolver(net *Network) *SgdSolver {
	s := &SgdSolver{net: net}
	s.Momentum = float32(0.9)
	s.BaseLearningRate = float32(0.01)
	s.Gamma = float32(0.1)
	s.StepSize = 100000
	s.WeightDecay = float32(0.0005)
	s.DisplayEvery = 100

	s.lastParams = make([]*Blob, len(net.Params))
	for i, param := range net.Params {
		s.lastParams[i] = NewBlob(param.Name+"_solver_last", &param.Dim)
	}
	return s
}
