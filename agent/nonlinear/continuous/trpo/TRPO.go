package trpo

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	env "github.com/nmarkell/gotrpo/environment"
	"github.com/nmarkell/gotrpo/network"
	"github.com/nmarkell/gotrpo/policy"
	ts "github.com/nmarkell/gotrpo/timestep"
	"github.com/nmarkell/gotrpo/tracker"
)

// UpdateStats records diagnostics of a single policy update
type UpdateStats struct {
	Epoch int

	// Improvement of the surrogate objective over its pre-update value
	Improvement float64

	// Mean KL divergence between the pre-update and post-update
	// policies
	KL float64

	// Number of step size shrinkages the line search performed before
	// accepting. 0 for NPG updates.
	BacktrackSteps int

	// Whether a step was taken. False only when the line search
	// exhausted its iterations and the pre-update weights were
	// restored.
	Accepted bool
}

// TRPO implements the Trust Region Policy Optimization algorithm with
// generalized advantage estimation. Adapted from:
//
// https://spinningup.openai.com/en/latest/algorithms/trpo.html
// https://github.com/openai/spinningup/blob/master/spinup/algos/pytorch/trpo/trpo.py
//
// Each epoch, the agent estimates the policy gradient g of the
// surrogate objective
//
//	E[ exp(log π(a|s) - log π_old(a|s)) * A(s, a) ]
//
// and computes the natural gradient direction x ≈ H⁻¹g by running the
// conjugate gradient method against Hessian-vector products of the KL
// divergence. The step is scaled to the trust region boundary
// sqrt(2δ / xᵀHx). With the NPG algorithm the scaled step is applied
// directly; with TRPO a backtracking line search shrinks the step
// until the KL constraint holds and the surrogate improves, restoring
// the pre-update weights if it never does.
//
// The same agent runs Natural Policy Gradient when its Config names
// the NPGUpdate algorithm.
type TRPO struct {
	// Behaviour policy selects actions; train policy is updated with
	// batches of epoch data, then its weights are copied to the
	// behaviour policy.
	behaviour   *policy.GaussianMLP
	trainPolicy *policy.GaussianMLP
	trainVM     G.VM

	advantages  *G.Node
	oldLogProbs *G.Node
	surrogate   *G.Node
	surrVal     G.Value

	hvp *hvp

	algorithm      Algorithm
	delta          float64
	cgIterations   int
	backtrackIters int
	backtrackCoeff float64

	buffer           *gaeBuffer
	epochLength      int
	currentEpochStep int
	completedEpochs  int
	eval             bool

	// finishingEpisode becomes true when the epoch ends before the
	// current episode does. The agent continues acting until the
	// episode ends, but the remaining data is discarded.
	finishingEpisode        bool
	finishEpisodeOnEpochEnd bool

	prevStep    ts.TimeStep
	lastLogProb float64

	// State value critic: a batch-1 network for bootstrapping during
	// rollouts and a batch-N network refit to rewards-to-go each epoch
	vValueFn             network.NeuralNet
	vVM                  G.VM
	vTrainValueFn        network.NeuralNet
	vTrainValueFnVM      G.VM
	vTrainValueFnTargets *G.Node
	vSolver              G.Solver
	valueGradSteps       int

	lastStats UpdateStats
	logger    *tracker.Logger
}

// New creates and returns a new TRPO or NPG agent
func New(e env.Environment, c Config, seed uint64) (*TRPO, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if e.ActionSpec().Cardinality != env.Continuous {
		return nil, fmt.Errorf("new: actions must be continuous")
	}

	features := e.ObservationSpec().Shape.Len()
	actionDims := e.ActionSpec().Shape.Len()
	buffer := newGAEBuffer(features, actionDims, c.EpochLength, c.Lambda,
		c.Gamma)

	// Behaviour and train policies
	behaviour, err := policy.NewGaussianMLP(e, 1, c.PolicyLayers,
		c.PolicyBiases, c.PolicyActivations, c.InitWFn.InitWFn(), seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour policy: %v",
			err)
	}

	trainPolicy, err := behaviour.CloneWithBatch(c.EpochLength)
	if err != nil {
		return nil, fmt.Errorf("new: could not create train policy: %v", err)
	}

	// Surrogate objective on the train policy's graph
	g := trainPolicy.Graph()
	advantages := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("advantages"),
		G.WithShape(c.EpochLength),
		G.WithInit(G.Zeroes()),
	)
	oldLogProbs := G.NewVector(
		g,
		tensor.Float64,
		G.WithName("oldLogProbs"),
		G.WithShape(c.EpochLength),
		G.WithInit(G.Zeroes()),
	)

	ratio := G.Must(G.Exp(G.Must(G.Sub(trainPolicy.LogPdfNode(),
		oldLogProbs))))
	surrogate := G.Must(G.Mean(G.Must(G.HadamardProd(ratio, advantages))))

	if _, err := G.Grad(surrogate, trainPolicy.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not differentiate surrogate "+
			"objective: %v", err)
	}

	// Hessian-vector products of the KL divergence, on a replica
	hvp, err := newHVP(trainPolicy, c.EpochLength, c.Damping)
	if err != nil {
		return nil, fmt.Errorf("new: could not create Hessian-vector "+
			"product: %v", err)
	}

	// Prediction value function
	valueFn, err := network.NewMLP(features, 1, 1, G.NewGraph(),
		c.ValueFnLayers, c.ValueFnBiases, c.ValueFnActivations,
		c.InitWFn.InitWFn())
	if err != nil {
		return nil, fmt.Errorf("new: could not create value function: %v",
			err)
	}
	vVM := G.NewTapeMachine(valueFn.Graph())

	// Training value function
	trainValueFn, err := valueFn.CloneWithBatch(c.EpochLength)
	if err != nil {
		return nil, fmt.Errorf("new: could not create train value "+
			"function: %v", err)
	}

	trainValueFnTargets := G.NewMatrix(
		trainValueFn.Graph(),
		tensor.Float64,
		G.WithShape(trainValueFn.Prediction().Shape()...),
		G.WithName("valueFnTargets"),
		G.WithInit(G.Zeroes()),
	)
	valueFnLoss := G.Must(G.Sub(trainValueFn.Prediction(),
		trainValueFnTargets))
	valueFnLoss = G.Must(G.Square(valueFnLoss))
	valueFnLoss = G.Must(G.Mean(valueFnLoss))

	if _, err := G.Grad(valueFnLoss,
		trainValueFn.Learnables()...); err != nil {
		return nil, fmt.Errorf("new: could not differentiate value "+
			"function loss: %v", err)
	}
	trainValueFnVM := G.NewTapeMachine(trainValueFn.Graph(),
		G.BindDualValues(trainValueFn.Learnables()...))

	t := &TRPO{
		behaviour:   behaviour,
		trainPolicy: trainPolicy,

		advantages:  advantages,
		oldLogProbs: oldLogProbs,
		surrogate:   surrogate,

		hvp: hvp,

		algorithm:      c.Algorithm,
		delta:          c.Delta,
		cgIterations:   c.CGIterations,
		backtrackIters: c.BacktrackIterations,
		backtrackCoeff: c.BacktrackCoeff,

		buffer:                  buffer,
		epochLength:             c.EpochLength,
		finishEpisodeOnEpochEnd: c.FinishEpisodeOnEpochEnd,

		vValueFn:             valueFn,
		vVM:                  vVM,
		vTrainValueFn:        trainValueFn,
		vTrainValueFnVM:      trainValueFnVM,
		vTrainValueFnTargets: trainValueFnTargets,
		vSolver:              c.VSolver,
		valueGradSteps:       c.ValueGradSteps,
	}

	// The read must be registered before the tape machine compiles
	// the graph
	G.Read(t.surrogate, &t.surrVal)
	t.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(trainPolicy.Learnables()...))

	return t, nil
}

// SelectAction returns an action at the given timestep, caching the
// log probability of selecting it for the next call to Observe.
func (t *TRPO) SelectAction(step ts.TimeStep) *mat.VecDense {
	if t.eval {
		panic("selectAction: offline action selection not implemented")
	}

	action, logProb, err := t.behaviour.ActionLogProb(step)
	if err != nil {
		panic(fmt.Sprintf("selectAction: %v", err))
	}
	t.lastLogProb = logProb
	return action
}

// ObserveFirst observes and records information about the first
// timestep in an episode.
func (t *TRPO) ObserveFirst(step ts.TimeStep) error {
	if !step.First() {
		fmt.Fprintf(os.Stderr, "Warning: ObserveFirst() should only be "+
			"called on the first timestep (current timestep = %d)\n",
			step.Number)
	}
	t.prevStep = step
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (t *TRPO) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	// Finish the current episode to end the epoch, discarding its
	// data
	if t.finishingEpisode {
		t.prevStep = nextStep
		return nil
	}

	o := t.prevStep.Observation.(*mat.VecDense).RawVector().Data
	value, err := t.stateValue(o)
	if err != nil {
		return fmt.Errorf("observe: could not predict state value: %v", err)
	}

	a := action.(*mat.VecDense).RawVector().Data
	err = t.buffer.store(o, a, nextStep.Reward, value, t.lastLogProb)
	if err != nil {
		return fmt.Errorf("observe: could not store transition: %v", err)
	}

	t.prevStep = nextStep
	t.currentEpochStep++

	epochEnded := t.currentEpochStep == t.epochLength
	if nextStep.Last() || epochEnded {
		if nextStep.TerminalEnd() {
			// The episode truly ended, so there is no future return
			// to bootstrap from
			t.buffer.finishPath(0.0)
		} else {
			// Cut off by a step limit or the epoch boundary;
			// bootstrap from the critic's value of the final state
			next := nextStep.Observation.(*mat.VecDense).RawVector().Data
			lastVal, err := t.stateValue(next)
			if err != nil {
				return fmt.Errorf("observe: could not predict final state "+
					"value: %v", err)
			}
			t.buffer.finishPath(lastVal)
			t.finishingEpisode = epochEnded && t.finishEpisodeOnEpochEnd &&
				!nextStep.Last()
		}
	}
	return nil
}

// Step updates the agent if a full epoch of data has been collected.
// If the agent is in evaluation mode, this function simply returns.
func (t *TRPO) Step() error {
	if t.currentEpochStep < t.epochLength || t.eval {
		return nil
	}
	return t.update()
}

// EndEpisode performs cleanup at the end of an episode
func (t *TRPO) EndEpisode() {
	t.finishingEpisode = false
}

// Eval sets the algorithm into evaluation mode
func (t *TRPO) Eval() { t.eval = true }

// Train sets the algorithm into training mode
func (t *TRPO) Train() { t.eval = false }

// IsEval returns whether the algorithm is in evaluation mode
func (t *TRPO) IsEval() bool { return t.eval }

// LastUpdate returns diagnostics of the most recent policy update
func (t *TRPO) LastUpdate() UpdateStats {
	return t.lastStats
}

// SetLogger gives the agent a diagnostics logger to store update
// statistics in, one entry per epoch
func (t *TRPO) SetLogger(l *tracker.Logger) {
	t.logger = l
}

// stateValue returns the critic's value estimate of a single state
func (t *TRPO) stateValue(obs []float64) (float64, error) {
	if err := t.vValueFn.SetInput(obs); err != nil {
		return 0, err
	}
	if err := t.vVM.RunAll(); err != nil {
		return 0, err
	}
	defer t.vVM.Reset()

	value := t.vValueFn.Output().Data().([]float64)
	if len(value) != 1 {
		return 0, fmt.Errorf("stateValue: multiple values predicted for "+
			"a single state \n\twant(1)\n\thave(%v)", len(value))
	}
	return value[0], nil
}

// update performs a single policy and value function update from a
// full epoch of data
func (t *TRPO) update() error {
	obs, act, adv, ret, oldLogProbs, err := t.buffer.get()
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}

	learnables := t.trainPolicy.Learnables()

	// First pass: surrogate value and its gradient at the current
	// weights. The reference distribution is set to the live one so
	// every node in the graph has a valid input.
	if err := t.setUpdateInputs(obs, act, adv, oldLogProbs); err != nil {
		return fmt.Errorf("update: %v", err)
	}
	if err := t.trainPolicy.SetReferenceDist(
		make([]float64, len(act)),
		make([]float64, t.trainPolicy.ActionDims()),
	); err != nil {
		return fmt.Errorf("update: could not set placeholder reference "+
			"distribution: %v", err)
	}

	if err := t.trainVM.RunAll(); err != nil {
		return fmt.Errorf("update: could not run first pass: %v", err)
	}
	surrOld := t.surrVal.Data().(float64)
	grad, err := flattenGrads(learnables)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	oldMean := t.trainPolicy.Mean()
	oldLogStd := t.trainPolicy.LogStd()
	t.trainVM.Reset()

	// Natural gradient direction x ≈ H⁻¹g
	if err := t.hvp.sync(t.trainPolicy); err != nil {
		return fmt.Errorf("update: could not sync curvature policy: %v", err)
	}
	if err := t.hvp.setBatch(obs, act, oldMean, oldLogStd); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	x, err := conjGrad(t.hvp.product, grad, t.cgIterations)
	if err != nil {
		return fmt.Errorf("update: could not compute natural gradient: %v",
			err)
	}

	hx, err := t.hvp.product(x)
	if err != nil {
		return fmt.Errorf("update: could not compute curvature term: %v",
			err)
	}
	xHx := dot(x, hx)
	if math.IsNaN(xHx) || math.IsInf(xHx, 0) || xHx <= 0 {
		return fmt.Errorf("update: curvature term xᵀHx must be positive "+
			"and finite, got %v", xHx)
	}
	stepSize := math.Sqrt(2 * t.delta / (xHx + cgEPS))

	oldParams := flattenParams(learnables)

	// Later passes measure KL from the pre-update distribution
	if err := t.trainPolicy.SetReferenceDist(oldMean,
		oldLogStd); err != nil {
		return fmt.Errorf("update: could not set reference "+
			"distribution: %v", err)
	}

	stats := UpdateStats{Epoch: t.completedEpochs + 1}
	switch t.algorithm {
	case NPGUpdate:
		stats, err = t.naturalGradientStep(oldParams, x, stepSize, surrOld,
			stats)
	case TRPOUpdate:
		stats, err = t.lineSearch(oldParams, x, stepSize, surrOld, stats)
	default:
		err = fmt.Errorf("unknown algorithm %q", t.algorithm)
	}
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}
	t.lastStats = stats

	if t.logger != nil {
		accepted := 0.0
		if stats.Accepted {
			accepted = 1.0
		}
		t.logger.Store(map[string]float64{
			"improvement":    stats.Improvement,
			"kl":             stats.KL,
			"backtrackSteps": float64(stats.BacktrackSteps),
			"accepted":       accepted,
		})
	}

	if err := t.refitValueFn(obs, ret); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	// Propagate new weights to the acting policy and the
	// bootstrapping critic
	if err := t.behaviour.Set(t.trainPolicy); err != nil {
		return fmt.Errorf("update: could not sync behaviour policy: %v", err)
	}
	if err := network.Set(t.vValueFn, t.vTrainValueFn); err != nil {
		return fmt.Errorf("update: could not sync value function: %v", err)
	}

	t.completedEpochs++
	t.currentEpochStep = 0
	return nil
}

// setUpdateInputs sets every input of the train policy's graph other
// than the reference distribution
func (t *TRPO) setUpdateInputs(obs, act, adv, oldLogProbs []float64) error {
	if err := t.trainPolicy.SetInputs(obs, act); err != nil {
		return err
	}

	advTensor := tensor.NewDense(
		tensor.Float64,
		t.advantages.Shape(),
		tensor.WithBacking(adv),
	)
	if err := G.Let(t.advantages, advTensor); err != nil {
		return fmt.Errorf("could not set advantages: %v", err)
	}

	oldLpTensor := tensor.NewDense(
		tensor.Float64,
		t.oldLogProbs.Shape(),
		tensor.WithBacking(oldLogProbs),
	)
	if err := G.Let(t.oldLogProbs, oldLpTensor); err != nil {
		return fmt.Errorf("could not set old log probabilities: %v", err)
	}
	return nil
}

// evalCandidate writes candidate weights into the train policy and
// returns the surrogate objective and KL divergence at them
func (t *TRPO) evalCandidate(params []float64,
	learnables G.Nodes) (surr, kl float64, err error) {
	if err := setParams(params, learnables); err != nil {
		return 0, 0, err
	}
	if err := t.trainVM.RunAll(); err != nil {
		return 0, 0, fmt.Errorf("could not evaluate candidate weights: %v",
			err)
	}
	defer t.trainVM.Reset()

	return t.surrVal.Data().(float64), t.trainPolicy.KLVal(), nil
}

// naturalGradientStep applies the scaled natural gradient directly
func (t *TRPO) naturalGradientStep(oldParams, x []float64, stepSize,
	surrOld float64, stats UpdateStats) (UpdateStats, error) {
	params := make([]float64, len(oldParams))
	for i := range params {
		params[i] = oldParams[i] + stepSize*x[i]
	}

	surr, kl, err := t.evalCandidate(params, t.trainPolicy.Learnables())
	if err != nil {
		return stats, err
	}

	stats.Improvement = surr - surrOld
	stats.KL = kl
	stats.Accepted = true
	return stats, nil
}

// lineSearch backtracks along the natural gradient direction until
// the KL constraint is satisfied and the surrogate objective improves.
// If no candidate is accepted, the pre-update weights are restored.
func (t *TRPO) lineSearch(oldParams, x []float64, stepSize,
	surrOld float64, stats UpdateStats) (UpdateStats, error) {
	learnables := t.trainPolicy.Learnables()
	params := make([]float64, len(oldParams))

	frac := 1.0
	for i := 0; i < t.backtrackIters; i++ {
		frac *= t.backtrackCoeff

		for j := range params {
			params[j] = oldParams[j] + stepSize*frac*x[j]
		}

		surr, kl, err := t.evalCandidate(params, learnables)
		if err != nil {
			return stats, err
		}

		if kl <= t.delta && surr > surrOld {
			stats.Improvement = surr - surrOld
			stats.KL = kl
			stats.BacktrackSteps = i
			stats.Accepted = true
			return stats, nil
		}
	}

	// No acceptable step found
	if err := setParams(oldParams, learnables); err != nil {
		return stats, fmt.Errorf("could not restore weights: %v", err)
	}
	stats.BacktrackSteps = t.backtrackIters
	stats.Accepted = false
	return stats, nil
}

// refitValueFn regresses the training value function onto the
// rewards-to-go targets
func (t *TRPO) refitValueFn(obs, ret []float64) error {
	if err := t.vTrainValueFn.SetInput(obs); err != nil {
		return fmt.Errorf("could not set value function input: %v", err)
	}

	targets := tensor.NewDense(
		tensor.Float64,
		t.vTrainValueFnTargets.Shape(),
		tensor.WithBacking(ret),
	)
	if err := G.Let(t.vTrainValueFnTargets, targets); err != nil {
		return fmt.Errorf("could not set value function targets: %v", err)
	}

	for i := 0; i < t.valueGradSteps; i++ {
		if err := t.vTrainValueFnVM.RunAll(); err != nil {
			return fmt.Errorf("could not run value function update %d: %v",
				i, err)
		}
		if err := t.vSolver.Step(t.vTrainValueFn.Model()); err != nil {
			return fmt.Errorf("could not step value function solver: %v",
				err)
		}
		t.vTrainValueFnVM.Reset()
	}
	return nil
}
