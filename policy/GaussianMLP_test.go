package policy

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"

	"github.com/nmarkell/gotrpo/environment/classiccontrol/cartpole"
	"github.com/nmarkell/gotrpo/network"
)

const tolerance float64 = 1e-8

// testPolicy returns a policy over cartpole actions whose mean network
// has no hidden layers, so that the predicted mean is an affine
// function of the observation with known weights.
func testPolicy(t *testing.T, batch int) *GaussianMLP {
	env, _ := cartpole.New(cartpole.NewDefaultStarter(14), 0.99, 500)

	pol, err := NewGaussianMLP(env, batch, []int{}, []bool{},
		[]*network.Activation{}, G.Zeroes(), 14)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return pol
}

// With zero-initialized weights the mean is 0 for every observation
// and logStd is the initial constant, so the log density has a closed
// form that the graph's value must match.
func TestLogPdf(t *testing.T) {
	batch := 3
	pol := testPolicy(t, batch)

	obs := make([]float64, batch*4)
	actions := []float64{0.5, -1.2, 2.0}

	if err := pol.SetInputs(obs, actions); err != nil {
		t.Fatalf("could not set inputs: %v", err)
	}

	vm := G.NewTapeMachine(pol.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run policy graph: %v", err)
	}

	std := math.Exp(initLogStd)
	logPdf := pol.LogPdfVal().Data().([]float64)
	for i, a := range actions {
		z := a / std
		expected := -0.5*z*z - initLogStd - 0.5*math.Log(2*math.Pi)
		if math.Abs(logPdf[i]-expected) > tolerance {
			t.Errorf("incorrect log pdf at row %d \n\twant(%v)\n\thave(%v)",
				i, expected, logPdf[i])
		}
	}
}

// The KL divergence between a distribution and itself is 0.
func TestKLDivergenceIdentical(t *testing.T) {
	batch := 2
	pol := testPolicy(t, batch)

	obs := make([]float64, batch*4)
	actions := make([]float64, batch)
	if err := pol.SetInputs(obs, actions); err != nil {
		t.Fatalf("could not set inputs: %v", err)
	}

	// Reference distribution equal to the live one: mean 0, the
	// initial logStd
	if err := pol.SetReferenceDist(make([]float64, batch),
		[]float64{initLogStd}); err != nil {
		t.Fatalf("could not set reference distribution: %v", err)
	}

	vm := G.NewTapeMachine(pol.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run policy graph: %v", err)
	}

	if kl := pol.KLVal(); math.Abs(kl) > tolerance {
		t.Errorf("KL between identical distributions should be 0"+
			"\n\twant(0)\n\thave(%v)", kl)
	}
}

// A shifted reference mean gives KL = (μold-μnew)² / (2σ²) for equal
// standard deviations.
func TestKLDivergenceShiftedMean(t *testing.T) {
	batch := 2
	pol := testPolicy(t, batch)

	obs := make([]float64, batch*4)
	actions := make([]float64, batch)
	if err := pol.SetInputs(obs, actions); err != nil {
		t.Fatalf("could not set inputs: %v", err)
	}

	shift := 0.3
	oldMean := []float64{shift, shift}
	if err := pol.SetReferenceDist(oldMean,
		[]float64{initLogStd}); err != nil {
		t.Fatalf("could not set reference distribution: %v", err)
	}

	vm := G.NewTapeMachine(pol.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run policy graph: %v", err)
	}

	variance := math.Exp(2 * initLogStd)
	expected := shift * shift / (2 * variance)
	if kl := pol.KLVal(); math.Abs(kl-expected) > tolerance {
		t.Errorf("incorrect KL divergence \n\twant(%v)\n\thave(%v)",
			expected, kl)
	}
}

// Sampled actions must have the density that ActionLogProb reports.
func TestActionLogProb(t *testing.T) {
	pol := testPolicy(t, 1)

	_, step := cartpole.New(cartpole.NewDefaultStarter(14), 0.99, 500)

	action, logProb, err := pol.ActionLogProb(step)
	if err != nil {
		t.Fatalf("could not select action: %v", err)
	}

	// Mean is 0 under zero weights
	std := math.Exp(initLogStd)
	z := action.AtVec(0) / std
	expected := -0.5*z*z - initLogStd - 0.5*math.Log(2*math.Pi)
	if math.Abs(logProb-expected) > tolerance {
		t.Errorf("incorrect action log probability"+
			"\n\twant(%v)\n\thave(%v)", expected, logProb)
	}
}
