// Package policy implements stochastic policies parameterized by
// neural networks
package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	env "github.com/nmarkell/gotrpo/environment"
	"github.com/nmarkell/gotrpo/network"
	ts "github.com/nmarkell/gotrpo/timestep"
)

// Initial value for the learnable log standard deviation
const initLogStd float64 = -0.5

// GaussianMLP implements a diagonal Gaussian policy. An MLP predicts
// the mean of the action distribution from a state observation, and a
// state-independent learnable vector holds the log standard deviation
// of each action dimension.
//
// Actions are selected by sampling from the standard normal
// ɛ ~ N(0, 1) and computing action := μ + σ * ɛ.
//
// Beyond action selection, a GaussianMLP adds two nodes to its
// computation graph that policy optimization algorithms need:
//
//   - the log probability density of a batch of externally provided
//     actions in a batch of states, and
//   - the KL divergence between a frozen reference distribution
//     (provided as plain input values, so no gradient flows into it)
//     and the live distribution, averaged over the observation batch.
//
// The KL node is differentiable with respect to the policy weights,
// which is what trust-region methods differentiate twice to measure
// the local curvature of the divergence constraint.
type GaussianMLP struct {
	g   *G.ExprGraph
	net network.NeuralNet
	// logStd is ordered after the mean network's weights in
	// Learnables()
	logStd *G.Node

	actions   *G.Node
	oldMean   *G.Node
	oldLogStd *G.Node

	logPdfNode *G.Node
	logPdfVal  G.Value

	klNode *G.Node
	klVal  G.Value

	vm     G.VM // Only for batch size 1
	normal distmv.Rander
	seed   uint64

	actionDims int
	batchSize  int
}

// NewGaussianMLP returns a new GaussianMLP policy selecting actions
// for the argument environment. The MLP predicting the distribution
// mean is defined by hiddenSizes, biases, and activations; see
// network.NewMLP for details. The batch parameter fixes the number of
// rows of the observation and action inputs; only a policy with batch
// size 1 can select actions at each timestep.
func NewGaussianMLP(e env.Environment, batch int, hiddenSizes []int,
	biases []bool, activations []*network.Activation, init G.InitWFn,
	seed uint64) (*GaussianMLP, error) {
	if e.ActionSpec().Cardinality != env.Continuous {
		return nil, fmt.Errorf("newGaussianMLP: actions must be continuous")
	}

	features := e.ObservationSpec().Shape.Len()
	actionDims := e.ActionSpec().Shape.Len()

	g := G.NewGraph()
	net, err := network.NewMLP(features, batch, actionDims, g, hiddenSizes,
		biases, activations, init)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: could not create mean "+
			"network: %v", err)
	}

	logStd := G.NewVector(
		g,
		tensor.Float64,
		G.WithShape(actionDims),
		G.WithName("logStd"),
		G.WithInit(G.ValuesOf(initLogStd)),
	)

	return newFromNetwork(net, logStd, batch, actionDims, seed)
}

// newFromNetwork builds the distribution nodes of a GaussianMLP around
// an existing mean network and log-stddev node that share a graph.
func newFromNetwork(net network.NeuralNet, logStd *G.Node, batch,
	actionDims int, seed uint64) (*GaussianMLP, error) {
	g := net.Graph()

	actions := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("inputActions"),
		G.WithShape(batch, actionDims),
		G.WithInit(G.Zeroes()),
	)
	oldMean := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithName("oldMean"),
		G.WithShape(batch, actionDims),
		G.WithInit(G.Zeroes()),
	)
	oldLogStd := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("oldLogStd"),
		G.WithShape(actionDims),
		G.WithInit(G.ValuesOf(initLogStd)),
	)

	mean := net.Prediction()

	logPdfNode, err := logPdf(mean, logStd, actions)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: could not build log pdf: %v",
			err)
	}

	klNode, err := klDivergence(oldMean, oldLogStd, mean, logStd)
	if err != nil {
		return nil, fmt.Errorf("newGaussianMLP: could not build KL "+
			"divergence: %v", err)
	}

	// Standard normal for action selection
	means := make([]float64, actionDims)
	sigma := mat.NewDiagDense(actionDims, ones(actionDims))
	source := rand.NewSource(seed)
	normal, ok := distmv.NewNormal(means, sigma, source)
	if !ok {
		return nil, fmt.Errorf("newGaussianMLP: could not create standard " +
			"normal for action selection")
	}

	pol := &GaussianMLP{
		g:          g,
		net:        net,
		logStd:     logStd,
		actions:    actions,
		oldMean:    oldMean,
		oldLogStd:  oldLogStd,
		logPdfNode: logPdfNode,
		klNode:     klNode,
		normal:     normal,
		seed:       seed,
		actionDims: actionDims,
		batchSize:  batch,
	}

	G.Read(pol.logPdfNode, &pol.logPdfVal)
	G.Read(pol.klNode, &pol.klVal)

	// Policies with batch size 1 select actions at each timestep, so
	// they own a VM of their graph.
	if batch == 1 {
		pol.vm = G.NewTapeMachine(g)
	}

	return pol, nil
}

// logPdf adds nodes computing the log probability density of the
// argument actions under the diagonal Gaussian N(mean, exp(logStd)²)
// to the graph shared by mean, logStd, and actions. The returned node
// holds one log density per batch row.
//
// log p(a) = Σ_d [ -½((a_d-μ_d)/σ_d)² - log σ_d - ½ log(2π) ]
func logPdf(mean, logStd, actions *G.Node) (*G.Node, error) {
	negativeHalf := G.NewConstant(-0.5)
	logSqrt2Pi := G.NewConstant(0.5 * math.Log(2*math.Pi))

	std := G.Must(G.Exp(logStd))

	z := G.Must(G.Sub(actions, mean))
	z = G.Must(G.BroadcastHadamardDiv(z, std, nil, []byte{0}))

	exponent := G.Must(G.Square(z))
	exponent = G.Must(G.HadamardProd(negativeHalf, exponent))

	perDim := G.Must(G.BroadcastSub(exponent, logStd, nil, []byte{0}))
	perDim = G.Must(G.Sub(perDim, logSqrt2Pi))

	logProb, err := G.Sum(perDim, 1)
	if err != nil {
		return nil, err
	}
	return logProb, nil
}

// klDivergence adds nodes computing the KL divergence between two
// diagonal Gaussians, averaged over the batch: the frozen reference
// distribution N(oldMean, exp(oldLogStd)²) and the live distribution
// N(newMean, exp(newLogStd)²).
//
// KL(old ‖ new) = Σ_d [ logσnew_d - logσold_d
//	+ (σold_d² + (μold_d-μnew_d)²) / (2 σnew_d²) - ½ ]
func klDivergence(oldMean, oldLogStd, newMean, newLogStd *G.Node) (*G.Node,
	error) {
	two := G.NewConstant(2.0)
	half := G.NewConstant(0.5)

	oldVar := G.Must(G.Exp(G.Must(G.HadamardProd(two, oldLogStd))))
	newVar := G.Must(G.Exp(G.Must(G.HadamardProd(two, newLogStd))))

	meanDiff := G.Must(G.Sub(oldMean, newMean))
	meanDiff = G.Must(G.Square(meanDiff))

	numerator := G.Must(G.BroadcastAdd(meanDiff, oldVar, nil, []byte{0}))
	denominator := G.Must(G.HadamardProd(two, newVar))
	frac := G.Must(G.BroadcastHadamardDiv(numerator, denominator, nil,
		[]byte{0}))

	logTerm := G.Must(G.Sub(newLogStd, oldLogStd))
	logTerm = G.Must(G.Sub(logTerm, half))

	perDim := G.Must(G.BroadcastAdd(frac, logTerm, nil, []byte{0}))

	perRow, err := G.Sum(perDim, 1)
	if err != nil {
		return nil, err
	}

	kl, err := G.Mean(perRow)
	if err != nil {
		return nil, err
	}
	return kl, nil
}

// CloneWithBatch clones the policy onto a new graph with a new input
// batch size, copying all weights.
func (p *GaussianMLP) CloneWithBatch(batch int) (*GaussianMLP, error) {
	net, err := p.net.CloneWithBatch(batch)
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not clone mean "+
			"network: %v", err)
	}

	logStd := p.logStd.CloneTo(net.Graph())

	return newFromNetwork(net, logStd, batch, p.actionDims, p.seed)
}

// Network returns the network predicting the policy's mean
func (p *GaussianMLP) Network() network.NeuralNet {
	return p.net
}

// Graph returns the computation graph of the policy
func (p *GaussianMLP) Graph() *G.ExprGraph {
	return p.g
}

// BatchSize returns the batch size of inputs to the policy
func (p *GaussianMLP) BatchSize() int {
	return p.batchSize
}

// ActionDims returns the number of action dimensions
func (p *GaussianMLP) ActionDims() int {
	return p.actionDims
}

// Learnables returns the learnable nodes of the policy in a fixed,
// stable order: the mean network's weights followed by the log
// standard deviation.
func (p *GaussianMLP) Learnables() G.Nodes {
	return append(p.net.Learnables(), p.logStd)
}

// LogPdfNode returns the node holding the log probability density of
// the input actions after a VM of the policy's graph has run
func (p *GaussianMLP) LogPdfNode() *G.Node {
	return p.logPdfNode
}

// LogPdfVal returns the value of the node returned by LogPdfNode()
func (p *GaussianMLP) LogPdfVal() G.Value {
	return p.logPdfVal
}

// KLNode returns the node holding the batch-mean KL divergence from
// the frozen reference distribution to the live distribution
func (p *GaussianMLP) KLNode() *G.Node {
	return p.klNode
}

// KLVal returns the value of the node returned by KLNode()
func (p *GaussianMLP) KLVal() float64 {
	return p.klVal.Data().(float64)
}

// SetInputs sets the observation and action inputs of the policy's
// graph. Inputs are in row major order.
func (p *GaussianMLP) SetInputs(obs, actions []float64) error {
	if err := p.net.SetInput(obs); err != nil {
		return fmt.Errorf("setInputs: could not set observations: %v", err)
	}

	if len(actions) != p.batchSize*p.actionDims {
		return fmt.Errorf("setInputs: invalid number of actions"+
			"\n\twant(%v)\n\thave(%v)", p.batchSize*p.actionDims,
			len(actions))
	}
	actionsTensor := tensor.NewDense(
		tensor.Float64,
		[]int{p.batchSize, p.actionDims},
		tensor.WithBacking(actions),
	)
	if err := G.Let(p.actions, actionsTensor); err != nil {
		return fmt.Errorf("setInputs: could not set actions: %v", err)
	}
	return nil
}

// SetReferenceDist sets the frozen reference distribution that the
// policy's KL node compares the live distribution against. The
// arguments are copied, so no gradient can flow into the reference.
func (p *GaussianMLP) SetReferenceDist(mean, logStd []float64) error {
	if len(mean) != p.batchSize*p.actionDims {
		return fmt.Errorf("setReferenceDist: invalid mean length"+
			"\n\twant(%v)\n\thave(%v)", p.batchSize*p.actionDims, len(mean))
	}
	if len(logStd) != p.actionDims {
		return fmt.Errorf("setReferenceDist: invalid logStd length"+
			"\n\twant(%v)\n\thave(%v)", p.actionDims, len(logStd))
	}

	meanTensor := tensor.NewDense(
		tensor.Float64,
		[]int{p.batchSize, p.actionDims},
		tensor.WithBacking(append([]float64{}, mean...)),
	)
	if err := G.Let(p.oldMean, meanTensor); err != nil {
		return fmt.Errorf("setReferenceDist: could not set mean: %v", err)
	}

	logStdTensor := tensor.NewDense(
		tensor.Float64,
		[]int{p.actionDims},
		tensor.WithBacking(append([]float64{}, logStd...)),
	)
	if err := G.Let(p.oldLogStd, logStdTensor); err != nil {
		return fmt.Errorf("setReferenceDist: could not set logStd: %v", err)
	}
	return nil
}

// Mean returns a copy of the policy's predicted mean after a VM of
// the policy's graph has run
func (p *GaussianMLP) Mean() []float64 {
	return append([]float64{}, p.net.Output().Data().([]float64)...)
}

// LogStd returns a copy of the policy's log standard deviation
func (p *GaussianMLP) LogStd() []float64 {
	return append([]float64{}, p.logStd.Value().Data().([]float64)...)
}

// SelectAction selects and returns an action at the argument timestep
func (p *GaussianMLP) SelectAction(t ts.TimeStep) *mat.VecDense {
	action, _, err := p.ActionLogProb(t)
	if err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	return action
}

// ActionLogProb selects an action at the argument timestep and returns
// it together with the log probability density of selecting it. Only
// policies with batch size 1 can select actions.
func (p *GaussianMLP) ActionLogProb(t ts.TimeStep) (*mat.VecDense, float64,
	error) {
	if p.batchSize != 1 {
		return nil, 0, fmt.Errorf("actionLogProb: action selection "+
			"requires a policy with batch size 1 \n\twant(1)\n\thave(%v)",
			p.batchSize)
	}

	obs := t.Observation.(*mat.VecDense).RawVector().Data
	if err := p.net.SetInput(obs); err != nil {
		return nil, 0, fmt.Errorf("actionLogProb: could not set input: %v",
			err)
	}

	if err := p.vm.RunAll(); err != nil {
		return nil, 0, fmt.Errorf("actionLogProb: could not run policy "+
			"VM: %v", err)
	}
	defer p.vm.Reset()

	mean := p.Mean()
	logStd := p.LogStd()
	eps := p.normal.Rand(nil)

	action := make([]float64, p.actionDims)
	logProb := 0.0
	for i := range action {
		std := math.Exp(logStd[i])
		action[i] = mean[i] + std*eps[i]

		z := (action[i] - mean[i]) / std
		logProb += -0.5*z*z - logStd[i] - 0.5*math.Log(2*math.Pi)
	}

	return mat.NewVecDense(p.actionDims, action), logProb, nil
}

// Set sets the weights of the policy to be equal to the weights of
// src. The policies may differ in batch size.
func (p *GaussianMLP) Set(src *GaussianMLP) error {
	if err := network.Set(p.net, src.net); err != nil {
		return fmt.Errorf("set: could not set mean network: %v", err)
	}

	logStd := src.logStd.Clone()
	if err := G.Let(p.logStd, logStd.(*G.Node).Value()); err != nil {
		return fmt.Errorf("set: could not set log standard deviation: %v",
			err)
	}
	return nil
}

func ones(n int) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = 1.0
	}
	return o
}
