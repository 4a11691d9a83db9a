package trpo

import (
	"fmt"

	"github.com/nmarkell/gotrpo/agent"
	env "github.com/nmarkell/gotrpo/environment"
	"github.com/nmarkell/gotrpo/initwfn"
	"github.com/nmarkell/gotrpo/network"
	"github.com/nmarkell/gotrpo/solver"
)

// Algorithm determines how the natural gradient direction is turned
// into a weight update
type Algorithm string

const (
	// TRPOUpdate scales the natural gradient to the trust region
	// boundary and backtracks until the KL constraint is satisfied and
	// the surrogate objective improves
	TRPOUpdate Algorithm = "trpo"

	// NPGUpdate applies the scaled natural gradient directly, without
	// a line search
	NPGUpdate Algorithm = "npg"
)

// Default hyperparameter values
const (
	DefaultEpochLength         int     = 400
	DefaultGamma               float64 = 0.99
	DefaultLambda              float64 = 0.97
	DefaultDelta               float64 = 0.01
	DefaultCGIterations        int     = 10
	DefaultDamping             float64 = 0.1
	DefaultBacktrackIterations int     = 10
	DefaultBacktrackCoeff      float64 = 0.8
	DefaultValueGradSteps      int     = 80
	DefaultValueStepSize       float64 = 1e-3
)

// Config implements a configuration for a TRPO or NPG agent
type Config struct {
	Algorithm Algorithm

	// Policy mean neural net
	PolicyLayers      []int
	PolicyBiases      []bool
	PolicyActivations []*network.Activation

	// State value function neural net
	ValueFnLayers      []int
	ValueFnBiases      []bool
	ValueFnActivations []*network.Activation

	// Weight init function for all neural nets
	InitWFn *initwfn.InitWFn

	// Value function optimizer and number of gradient steps to take
	// on the value function per epoch
	VSolver        *solver.Solver
	ValueGradSteps int

	EpochLength int

	// FinishEpisodeOnEpochEnd denotes if the current episode should
	// be finished before starting a new epoch. If true, the agent is
	// updated when the current epoch ends, then the current episode
	// is finished with its data discarded, then the next epoch starts.
	FinishEpisodeOnEpochEnd bool

	// Generalized Advantage Estimation
	Lambda float64
	Gamma  float64

	// Trust region
	Delta        float64 // Maximum mean KL divergence per update
	CGIterations int
	Damping      float64

	// Line search, used only when Algorithm is TRPOUpdate
	BacktrackIterations int
	BacktrackCoeff      float64
}

// NewDefaultConfig returns a Config with the default hyperparameter
// values for the argument algorithm: tanh hidden layers of 64 units
// for both networks, Glorot uniform initialization, and an Adam
// optimizer for the value function.
func NewDefaultConfig(algorithm Algorithm) (Config, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newDefaultConfig: could not create "+
			"weight initializer: %v", err)
	}

	vSolver, err := solver.NewDefaultAdam(DefaultValueStepSize,
		DefaultEpochLength)
	if err != nil {
		return Config{}, fmt.Errorf("newDefaultConfig: could not create "+
			"value function solver: %v", err)
	}

	return Config{
		Algorithm: algorithm,

		PolicyLayers:      []int{64, 64},
		PolicyBiases:      []bool{true, true},
		PolicyActivations: []*network.Activation{network.TanH(), network.TanH()},

		ValueFnLayers:      []int{64, 64},
		ValueFnBiases:      []bool{true, true},
		ValueFnActivations: []*network.Activation{network.TanH(), network.TanH()},

		InitWFn: init,

		VSolver:        vSolver,
		ValueGradSteps: DefaultValueGradSteps,

		EpochLength:             DefaultEpochLength,
		FinishEpisodeOnEpochEnd: true,

		Lambda: DefaultLambda,
		Gamma:  DefaultGamma,

		Delta:        DefaultDelta,
		CGIterations: DefaultCGIterations,
		Damping:      DefaultDamping,

		BacktrackIterations: DefaultBacktrackIterations,
		BacktrackCoeff:      DefaultBacktrackCoeff,
	}, nil
}

// Validate checks a Config to ensure it is a valid configuration
func (c Config) Validate() error {
	if c.Algorithm != TRPOUpdate && c.Algorithm != NPGUpdate {
		return fmt.Errorf("unknown algorithm %q", c.Algorithm)
	}
	if c.EpochLength <= 0 {
		return fmt.Errorf("cannot have epoch length < 1")
	}
	if c.Delta <= 0 {
		return fmt.Errorf("trust region size must be positive")
	}
	if c.CGIterations <= 0 {
		return fmt.Errorf("cannot have CG iterations < 1")
	}
	if c.Damping < 0 {
		return fmt.Errorf("damping cannot be negative")
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma must be in [0, 1]")
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("lambda must be in [0, 1]")
	}
	if c.Algorithm == TRPOUpdate {
		if c.BacktrackIterations <= 0 {
			return fmt.Errorf("cannot have backtrack iterations < 1")
		}
		if c.BacktrackCoeff <= 0 || c.BacktrackCoeff >= 1 {
			return fmt.Errorf("backtrack coefficient must be in (0, 1)")
		}
	}
	if c.ValueGradSteps <= 0 {
		return fmt.Errorf("cannot have value gradient steps < 1")
	}
	if c.VSolver == nil {
		return fmt.Errorf("no value function solver given")
	}
	if c.InitWFn == nil {
		return fmt.Errorf("no weight initializer given")
	}
	return nil
}

// ValidAgent returns true if the argument agent can be constructed
// from the Config and false otherwise.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*TRPO)
	return ok
}

// CreateAgent creates and returns the agent determined by the
// configuration
func (c Config) CreateAgent(e env.Environment, seed uint64) (agent.Agent,
	error) {
	return New(e, c, seed)
}
