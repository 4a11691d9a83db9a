package trpo

import (
	"math"
	"strings"
	"testing"

	G "gorgonia.org/gorgonia"

	"github.com/nmarkell/gotrpo/environment/classiccontrol/cartpole"
	"github.com/nmarkell/gotrpo/network"
	"github.com/nmarkell/gotrpo/policy"
)

func testHVPPolicy(t *testing.T) *policy.GaussianMLP {
	env, _ := cartpole.New(cartpole.NewDefaultStarter(31), 0.99, 500)

	pol, err := policy.NewGaussianMLP(env, 1, []int{}, []bool{},
		[]*network.Activation{}, G.Zeroes(), 31)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return pol
}

// With a linear mean network, zero weights, and all-zero observations,
// the KL Hessian at the reference point is diagonal: 0 for the mean
// weights (their Jacobian vanishes at the zero observation), 1/σ² for
// the bias, and 2 for each log standard deviation.
func TestHVPDiagonal(t *testing.T) {
	damping := 0.1
	batch := 2

	h, err := newHVP(testHVPPolicy(t), batch, damping)
	if err != nil {
		t.Fatalf("could not create hvp: %v", err)
	}

	obs := make([]float64, batch*4)
	actions := make([]float64, batch)
	oldMean := make([]float64, batch)
	oldLogStd := []float64{-0.5}
	if err := h.setBatch(obs, actions, oldMean, oldLogStd); err != nil {
		t.Fatalf("could not set batch: %v", err)
	}

	// Expected Hessian diagonal in Learnables() order
	expected := make([]float64, 0, h.numP)
	for _, node := range h.policy.Learnables() {
		var diag float64
		switch {
		case node.Name() == "logStd":
			diag = 2.0
		case strings.HasSuffix(node.Name(), "B"):
			diag = math.Exp(-2 * (-0.5)) // 1/σ²
		default:
			diag = 0.0
		}
		for i := 0; i < node.Shape().TotalSize(); i++ {
			expected = append(expected, diag)
		}
	}

	p := make([]float64, h.numP)
	for i := range p {
		p[i] = 1.0
	}

	out, err := h.product(p)
	if err != nil {
		t.Fatalf("could not compute product: %v", err)
	}

	for i := range expected {
		want := expected[i] + damping
		if math.Abs(out[i]-want) > 1e-6 {
			t.Errorf("incorrect product at index %d"+
				"\n\twant(%v)\n\thave(%v)", i, want, out[i])
		}
	}
}

// The damped curvature operator is symmetric: u·product(v) must equal
// v·product(u) at any weights, observations, and reference
// distribution.
func TestHVPSymmetry(t *testing.T) {
	batch := 3
	h, err := newHVP(testHVPPolicy(t), batch, 0.1)
	if err != nil {
		t.Fatalf("could not create hvp: %v", err)
	}

	obs := []float64{
		0.3, -0.2, 0.1, 0.4,
		-0.1, 0.5, -0.3, 0.2,
		0.25, -0.4, 0.35, -0.15,
	}
	actions := []float64{0.5, -0.25, 0.75}
	oldMean := []float64{0.2, -0.1, 0.3}
	oldLogStd := []float64{0.1}
	if err := h.setBatch(obs, actions, oldMean, oldLogStd); err != nil {
		t.Fatalf("could not set batch: %v", err)
	}

	learnables := h.policy.Learnables()
	weights := make([]float64, h.numP)
	for i := range weights {
		weights[i] = 0.05 * float64(i+1)
		if i%2 == 0 {
			weights[i] = -weights[i]
		}
	}
	if err := setParams(weights, learnables); err != nil {
		t.Fatalf("could not set weights: %v", err)
	}

	u := make([]float64, h.numP)
	v := make([]float64, h.numP)
	for i := range u {
		u[i] = 0.1 * float64(i+1)
		v[i] = 1.0 / float64(i+2)
		if i%3 == 0 {
			v[i] = -v[i]
		}
	}

	hu, err := h.product(u)
	if err != nil {
		t.Fatalf("could not compute product: %v", err)
	}
	hv, err := h.product(v)
	if err != nil {
		t.Fatalf("could not compute product: %v", err)
	}

	uHv := dot(u, hv)
	vHu := dot(v, hu)
	tol := 1e-6 * math.Max(1.0, math.Abs(uHv))
	if math.Abs(uHv-vHu) > tol {
		t.Errorf("curvature products are asymmetric"+
			"\n\twant(%v)\n\thave(%v)", uHv, vHu)
	}

	// Products must not disturb the weights they measure curvature at
	after := flattenParams(learnables)
	for i := range weights {
		if weights[i] != after[i] {
			t.Errorf("product changed weight %d \n\twant(%v)\n\thave(%v)",
				i, weights[i], after[i])
		}
	}
}

func TestHVPZeroVector(t *testing.T) {
	h, err := newHVP(testHVPPolicy(t), 2, 0.1)
	if err != nil {
		t.Fatalf("could not create hvp: %v", err)
	}

	obs := make([]float64, 2*4)
	if err := h.setBatch(obs, make([]float64, 2), make([]float64, 2),
		[]float64{-0.5}); err != nil {
		t.Fatalf("could not set batch: %v", err)
	}

	out, err := h.product(make([]float64, h.numP))
	if err != nil {
		t.Fatalf("could not compute product: %v", err)
	}
	for i := range out {
		if math.Abs(out[i]) > 1e-8 {
			t.Errorf("product with zero vector should be zero at index %d, "+
				"got %v", i, out[i])
		}
	}
}

func TestHVPLengthMismatch(t *testing.T) {
	h, err := newHVP(testHVPPolicy(t), 2, 0.1)
	if err != nil {
		t.Fatalf("could not create hvp: %v", err)
	}

	if _, err := h.product([]float64{1.0}); err == nil {
		t.Error("products with vectors of the wrong length should fail")
	}
}
