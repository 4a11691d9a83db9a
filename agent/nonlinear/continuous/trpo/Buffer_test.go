package trpo

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const bufferTolerance float64 = 1e-10

func TestDiscountCumSum(t *testing.T) {
	x := mat.NewVecDense(4, []float64{1, 2, 3, 4})
	discount := 0.5

	// out_t = x_t + discount * out_{t+1}
	expected := []float64{
		1 + 0.5*(2+0.5*(3+0.5*4)),
		2 + 0.5*(3+0.5*4),
		3 + 0.5*4,
		4,
	}

	out := discountCumSum(x, discount)
	for i := range expected {
		if math.Abs(out[i]-expected[i]) > bufferTolerance {
			t.Errorf("incorrect cumulative sum at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, expected[i], out[i])
		}
	}
}

func TestBufferFinishPath(t *testing.T) {
	gamma := 0.9
	lambda := 0.5
	b := newGAEBuffer(2, 1, 3, lambda, gamma)

	rews := []float64{1.0, 2.0, 3.0}
	vals := []float64{0.5, 1.0, 1.5}
	for i := range rews {
		err := b.store([]float64{float64(i), 0}, []float64{0}, rews[i],
			vals[i], -1.0)
		if err != nil {
			t.Fatalf("could not store transition: %v", err)
		}
	}

	lastVal := 2.0
	b.finishPath(lastVal)

	// TD residuals with the bootstrap value appended
	deltas := []float64{
		rews[0] + gamma*vals[1] - vals[0],
		rews[1] + gamma*vals[2] - vals[1],
		rews[2] + gamma*lastVal - vals[2],
	}
	gl := gamma * lambda
	expectedAdv := []float64{
		deltas[0] + gl*(deltas[1]+gl*deltas[2]),
		deltas[1] + gl*deltas[2],
		deltas[2],
	}
	for i := range expectedAdv {
		if math.Abs(b.advBuffer[i]-expectedAdv[i]) > bufferTolerance {
			t.Errorf("incorrect advantage at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, expectedAdv[i], b.advBuffer[i])
		}
	}

	// Rewards-to-go include the bootstrap value
	expectedRet := []float64{
		rews[0] + gamma*(rews[1]+gamma*(rews[2]+gamma*lastVal)),
		rews[1] + gamma*(rews[2]+gamma*lastVal),
		rews[2] + gamma*lastVal,
	}
	for i := range expectedRet {
		if math.Abs(b.retBuffer[i]-expectedRet[i]) > bufferTolerance {
			t.Errorf("incorrect return at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, expectedRet[i], b.retBuffer[i])
		}
	}
}

// A bootstrap value appended to one path must not overwrite the reward
// already stored for the first timestep of the next path.
func TestBufferMultiplePaths(t *testing.T) {
	b := newGAEBuffer(1, 1, 4, 1.0, 1.0)

	b.store([]float64{0}, []float64{0}, 1.0, 0.0, 0.0)
	b.store([]float64{0}, []float64{0}, 1.0, 0.0, 0.0)
	b.finishPath(0.0)

	b.store([]float64{0}, []float64{0}, 5.0, 0.0, 0.0)
	b.store([]float64{0}, []float64{0}, 5.0, 0.0, 0.0)

	if b.rewBuffer[2] != 5.0 {
		t.Errorf("finishPath corrupted the next path's rewards"+
			"\n\twant(%v)\n\thave(%v)", 5.0, b.rewBuffer[2])
	}

	b.finishPath(0.0)

	// With γ = λ = 1 and zero values, returns are undiscounted sums
	expectedRet := []float64{2, 1, 10, 5}
	for i := range expectedRet {
		if math.Abs(b.retBuffer[i]-expectedRet[i]) > bufferTolerance {
			t.Errorf("incorrect return at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, expectedRet[i], b.retBuffer[i])
		}
	}
}

func TestBufferGet(t *testing.T) {
	b := newGAEBuffer(1, 1, 3, 0.95, 0.99)

	if _, _, _, _, _, err := b.get(); err == nil {
		t.Error("get should fail when the buffer is not full")
	}

	logProbs := []float64{-0.1, -0.2, -0.3}
	for i := 0; i < 3; i++ {
		b.store([]float64{float64(i)}, []float64{0}, float64(i), 0.5,
			logProbs[i])
	}
	b.finishPath(0.0)

	obs, _, adv, _, lp, err := b.get()
	if err != nil {
		t.Fatalf("could not sample full buffer: %v", err)
	}

	for i := range logProbs {
		if lp[i] != logProbs[i] {
			t.Errorf("incorrect log probability at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, logProbs[i], lp[i])
		}
		if obs[i] != float64(i) {
			t.Errorf("incorrect observation at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, float64(i), obs[i])
		}
	}

	// Normalized advantages have zero mean and unit standard deviation
	mean := (adv[0] + adv[1] + adv[2]) / 3
	if math.Abs(mean) > 1e-6 {
		t.Errorf("advantages not zero mean \n\twant(0)\n\thave(%v)", mean)
	}

	if b.currentPos != 0 {
		t.Errorf("get should empty the buffer \n\twant(0)\n\thave(%v)",
			b.currentPos)
	}
}

// Data returned by get must be a snapshot: storing the next epoch's
// transitions cannot alter a batch already handed out.
func TestBufferGetSnapshot(t *testing.T) {
	b := newGAEBuffer(1, 1, 2, 0.95, 0.99)

	b.store([]float64{1}, []float64{10}, 1.0, 0.0, -1.0)
	b.store([]float64{2}, []float64{20}, 2.0, 0.0, -2.0)
	b.finishPath(0.0)

	obs, act, _, ret, lp, err := b.get()
	if err != nil {
		t.Fatalf("could not sample full buffer: %v", err)
	}
	retWant := []float64{ret[0], ret[1]}

	b.store([]float64{-1}, []float64{-10}, -1.0, 0.0, -3.0)
	b.store([]float64{-2}, []float64{-20}, -2.0, 0.0, -4.0)
	b.finishPath(0.0)

	for i := 0; i < 2; i++ {
		if obs[i] != float64(i+1) {
			t.Errorf("stored transition altered sampled observation %d"+
				"\n\twant(%v)\n\thave(%v)", i, float64(i+1), obs[i])
		}
		if act[i] != float64(10*(i+1)) {
			t.Errorf("stored transition altered sampled action %d"+
				"\n\twant(%v)\n\thave(%v)", i, float64(10*(i+1)), act[i])
		}
		if lp[i] != -float64(i+1) {
			t.Errorf("stored transition altered sampled log probability %d"+
				"\n\twant(%v)\n\thave(%v)", i, -float64(i+1), lp[i])
		}
		if ret[i] != retWant[i] {
			t.Errorf("stored transition altered sampled return %d"+
				"\n\twant(%v)\n\thave(%v)", i, retWant[i], ret[i])
		}
	}
}
