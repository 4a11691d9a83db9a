// Package trpo implements the Trust Region Policy Optimization and
// Natural Policy Gradient algorithms with generalized advantage
// estimation (GAE)
//
// Adapted from https://github.com/openai/spinningup/blob/master/spinup/algos/pytorch/trpo/trpo.py
package trpo

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// gaeBuffer stores one epoch of interaction, computing the GAE(λ)
// advantage of each timestep and the rewards-to-go targets for the
// value function. Alongside each transition it stores the log
// probability of the selected action under the policy that selected
// it, which the surrogate objective's importance ratio needs.
//
// Episodes may span multiple calls to finishPath; each call closes the
// path started by the previous one and backs up from the argument
// bootstrap value.
type gaeBuffer struct {
	obsSize      int
	actionSize   int
	maxSize      int
	currentPos   int
	pathStartIdx int
	lambda       float64
	gamma        float64

	obsBuffer     []float64
	actBuffer     []float64
	advBuffer     []float64
	rewBuffer     []float64
	retBuffer     []float64
	valBuffer     []float64
	logProbBuffer []float64
}

func newGAEBuffer(obsDim, actDim, size int, lambda,
	gamma float64) *gaeBuffer {
	return &gaeBuffer{
		obsSize:       obsDim,
		actionSize:    actDim,
		maxSize:       size,
		currentPos:    0,
		pathStartIdx:  0,
		lambda:        lambda,
		gamma:         gamma,
		obsBuffer:     make([]float64, size*obsDim),
		actBuffer:     make([]float64, size*actDim),
		advBuffer:     make([]float64, size),
		rewBuffer:     make([]float64, size),
		retBuffer:     make([]float64, size),
		valBuffer:     make([]float64, size),
		logProbBuffer: make([]float64, size),
	}
}

// full returns whether the buffer holds a complete epoch of timesteps
func (b *gaeBuffer) full() bool {
	return b.currentPos >= b.maxSize
}

// store stores a single timestep's state, action, reward, value
// estimate, and action log probability in the buffer.
func (b *gaeBuffer) store(obs, act []float64, rew, val,
	logProb float64) error {
	if b.currentPos >= b.maxSize {
		return fmt.Errorf("store: cannot add new transition, buffer at " +
			"maximum capacity")
	}
	if len(obs) != b.obsSize {
		return fmt.Errorf("store: illegal obs length \n\twant(%v)\n\thave(%v)",
			b.obsSize, len(obs))
	}
	if len(act) != b.actionSize {
		return fmt.Errorf("store: illegal act length \n\twant(%v)\n\thave(%v)",
			b.actionSize, len(act))
	}

	start := b.currentPos * b.obsSize
	copy(b.obsBuffer[start:start+b.obsSize], obs)

	start = b.currentPos * b.actionSize
	copy(b.actBuffer[start:start+b.actionSize], act)

	b.rewBuffer[b.currentPos] = rew
	b.valBuffer[b.currentPos] = val
	b.logProbBuffer[b.currentPos] = logProb
	b.currentPos++
	return nil
}

// finishPath closes the current path, computing the advantage and
// rewards-to-go of each of its timesteps. The backup starts from
// lastVal: 0 when the episode ended in a terminal state, or the
// critic's estimate of the final state's value when the episode was
// cut off.
func (b *gaeBuffer) finishPath(lastVal float64) {
	start := b.pathStartIdx
	stop := b.currentPos
	n := stop - start

	// Copies so that the appended bootstrap value cannot clobber the
	// next path's slot in the shared backing arrays
	rews := make([]float64, n+1)
	copy(rews, b.rewBuffer[start:stop])
	rews[n] = lastVal

	vals := make([]float64, n+1)
	copy(vals, b.valBuffer[start:stop])
	vals[n] = lastVal

	// GAE(λ): δ_t = r_t + γV(s_{t+1}) - V(s_t), discounted by γλ
	stateVals := mat.NewVecDense(n, vals[:n])
	nextStateVals := mat.NewVecDense(n, vals[1:])
	rewards := mat.NewVecDense(n, rews[:n])

	deltas := mat.NewVecDense(n, nil)
	deltas.AddScaledVec(rewards, b.gamma, nextStateVals)
	deltas.SubVec(deltas, stateVals)

	copy(b.advBuffer[start:stop], discountCumSum(deltas, b.gamma*b.lambda))

	// Rewards-to-go, including the bootstrap value in the backup
	rewsToGo := discountCumSum(mat.NewVecDense(n+1, rews), b.gamma)
	copy(b.retBuffer[start:stop], rewsToGo[:n])

	b.pathStartIdx = b.currentPos
}

// get empties the buffer and returns its states, actions, advantages,
// rewards-to-go, and action log probabilities. Advantages are
// normalized to zero mean and unit standard deviation. The buffer must
// be full.
//
// The returned slices are snapshots: transitions stored afterwards
// cannot alter them.
func (b *gaeBuffer) get() ([]float64, []float64, []float64, []float64,
	[]float64, error) {
	if b.currentPos != b.maxSize {
		err := fmt.Errorf("get: buffer must be full before sampling")
		return nil, nil, nil, nil, nil, err
	}

	b.currentPos = 0
	b.pathStartIdx = 0

	mean := stat.Mean(b.advBuffer, nil)
	std := stat.StdDev(b.advBuffer, nil) + 1e-8

	adv := make([]float64, len(b.advBuffer))
	for i, a := range b.advBuffer {
		adv[i] = (a - mean) / std
	}

	obs := make([]float64, len(b.obsBuffer))
	copy(obs, b.obsBuffer)
	act := make([]float64, len(b.actBuffer))
	copy(act, b.actBuffer)
	ret := make([]float64, len(b.retBuffer))
	copy(ret, b.retBuffer)
	logProb := make([]float64, len(b.logProbBuffer))
	copy(logProb, b.logProbBuffer)

	return obs, act, adv, ret, logProb, nil
}

// discountCumSum computes the discounted cumulative sum of x:
// out_t = Σ_k discount^k x_{t+k}
func discountCumSum(x *mat.VecDense, discount float64) []float64 {
	discounts := mat.NewVecDense(x.Len(), nil)
	cumSums := make([]float64, x.Len())
	nextScaledRews := mat.NewVecDense(x.Len(), nil)
	backing := nextScaledRews.RawVector().Data

	for i := 0; i < x.Len(); i++ {
		discounts.ScaleVec(discount, discounts)
		discounts.SetVec(x.Len()-i-1, 1)

		nextScaledRews.MulElemVec(discounts, x)
		cumSums[x.Len()-i-1] = floats.Sum(backing[x.Len()-i-1:])
	}

	return cumSums
}
