package trpo

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"

	"github.com/nmarkell/gotrpo/policy"
)

// Perturbation magnitude for the directional derivative of the KL
// gradient
const hvpEPS float64 = 1e-5

// hvp computes products of the KL divergence's Hessian with arbitrary
// vectors, without ever materializing the Hessian. It owns a policy
// replica on its own graph whose weights are synced from the live
// policy before each update.
//
// The replica's KL node measures divergence from a frozen reference
// distribution (the pre-update policy's outputs, fed as plain inputs)
// to the replica's live distribution. Its tape computes the exact
// gradient ∇KL(θ) with respect to the replica's weights. The
// Hessian-vector product is the directional derivative of that
// gradient along p,
//
//	Hp = d/dε ∇KL(θ + εp) at ε = 0
//
// taken by a central difference of two gradient evaluations at
// θ ± ε p/‖p‖. A damping multiple of p is added to the product to keep
// the curvature matrix well conditioned:
//
//	product(p) = Hp + damping * p
//
// Each product call leaves the replica's weights unchanged.
type hvp struct {
	policy  *policy.GaussianMLP
	vm      G.VM
	damping float64
	numP    int
}

// newHVP builds the Hessian-vector product machinery around a replica
// of src with the argument batch size.
func newHVP(src *policy.GaussianMLP, batch int,
	damping float64) (*hvp, error) {
	pol, err := src.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("newHVP: could not replicate policy: %v", err)
	}

	learnables := pol.Learnables()
	if _, err := G.Grad(pol.KLNode(), learnables...); err != nil {
		return nil, fmt.Errorf("newHVP: could not differentiate KL "+
			"divergence: %v", err)
	}

	return &hvp{
		policy:  pol,
		vm:      G.NewTapeMachine(pol.Graph(), G.BindDualValues(learnables...)),
		damping: damping,
		numP:    numParams(learnables),
	}, nil
}

// sync copies the weights of src into the replica
func (h *hvp) sync(src *policy.GaussianMLP) error {
	return h.policy.Set(src)
}

// setBatch sets the observation batch at which curvature is measured
// and the frozen reference distribution at those observations.
func (h *hvp) setBatch(obs, actions, oldMean, oldLogStd []float64) error {
	if err := h.policy.SetInputs(obs, actions); err != nil {
		return fmt.Errorf("setBatch: could not set inputs: %v", err)
	}
	if err := h.policy.SetReferenceDist(oldMean, oldLogStd); err != nil {
		return fmt.Errorf("setBatch: could not set reference "+
			"distribution: %v", err)
	}
	return nil
}

// klGradAt evaluates ∇KL at the argument weights
func (h *hvp) klGradAt(params []float64, learnables G.Nodes) ([]float64,
	error) {
	if err := setParams(params, learnables); err != nil {
		return nil, err
	}
	if err := h.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run KL gradient tape: %v", err)
	}
	defer h.vm.Reset()

	return flattenGrads(learnables)
}

// product returns Hp + damping * p for the argument vector p
func (h *hvp) product(p []float64) ([]float64, error) {
	if len(p) != h.numP {
		return nil, fmt.Errorf("product: illegal vector length"+
			"\n\twant(%v)\n\thave(%v)", h.numP, len(p))
	}

	out := make([]float64, h.numP)
	pNorm := math.Sqrt(dot(p, p))
	if pNorm == 0 {
		return out, nil
	}

	learnables := h.policy.Learnables()
	theta := flattenParams(learnables)

	// Gradients at θ ± ε p/‖p‖
	shifted := make([]float64, h.numP)
	for i := range shifted {
		shifted[i] = theta[i] + hvpEPS*p[i]/pNorm
	}
	gradAhead, err := h.klGradAt(shifted, learnables)
	if err != nil {
		return nil, fmt.Errorf("product: %v", err)
	}

	for i := range shifted {
		shifted[i] = theta[i] - hvpEPS*p[i]/pNorm
	}
	gradBehind, err := h.klGradAt(shifted, learnables)
	if err != nil {
		return nil, fmt.Errorf("product: %v", err)
	}

	if err := setParams(theta, learnables); err != nil {
		return nil, fmt.Errorf("product: could not restore weights: %v", err)
	}

	for i := range out {
		out[i] = pNorm*(gradAhead[i]-gradBehind[i])/(2*hvpEPS) +
			h.damping*p[i]
	}
	return out, nil
}
