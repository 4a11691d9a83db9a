// Package gym provides access to OpenAI Gym environments through the
// Go bindings for OpenAI Gym, found at
// https://github.com/samuelfneumann/GoGym.
//
// All environments in the Classic Control and MuJoCo suites can be
// used, with their default tasks. Since the policy optimization
// algorithms in this module work with continuous action spaces, only
// environments with Box action spaces are supported.
package gym

import (
	"fmt"

	"github.com/samuelfneumann/gogym"
	"gonum.org/v1/gonum/mat"

	env "github.com/nmarkell/gotrpo/environment"
	ts "github.com/nmarkell/gotrpo/timestep"
)

// GymEnv adapts an OpenAI Gym environment to the local Environment
// interface
type GymEnv struct {
	gogym.Environment

	currentStep     ts.TimeStep
	discount        float64
	maxEpisodeSteps int
}

// New returns a new GymEnv with the given name, which must be a legal
// name from the OpenAI Gym suite. Episodes are cut off after
// maxEpisodeSteps steps; the Gym environment's own time limit should
// be at least as large, since Gym reports a cut-off episode as done.
func New(name string, discount float64, maxEpisodeSteps int,
	seed uint64) (env.Environment, ts.TimeStep, error) {
	goGymEnv, err := gogym.Make(name)
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: could not create "+
			"environment: %v", err)
	}

	goGymEnv.Seed(int(seed))
	obs, err := goGymEnv.Reset()
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: could not reset "+
			"environment: %v", err)
	}

	gymEnv := &GymEnv{
		Environment:     goGymEnv,
		discount:        discount,
		maxEpisodeSteps: maxEpisodeSteps,
	}

	t := ts.New(ts.First, 0, discount, obs, 0)
	gymEnv.currentStep = t

	return gymEnv, t, nil
}

// Step takes a single environmental step
func (g *GymEnv) Step(a *mat.VecDense) (ts.TimeStep, bool, error) {
	obs, reward, done, err := g.Environment.Step(a)
	if err != nil {
		return ts.TimeStep{}, true, fmt.Errorf("step: could not step "+
			"gym environment: %v", err)
	}

	t := ts.New(ts.Mid, reward, g.discount, obs, g.currentStep.Number+1)
	if t.Number >= g.maxEpisodeSteps {
		// Gym folds time limits into done, so a step-limit cutoff takes
		// precedence over a terminal state here.
		t.End(ts.Timeout)
	} else if done {
		t.End(ts.TerminalStateReached)
	}
	g.currentStep = t

	return t, t.Last(), nil
}

// Reset resets the environment to some starting state
func (g *GymEnv) Reset() (ts.TimeStep, error) {
	obs, err := g.Environment.Reset()
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: could not reset "+
			"environment: %v", err)
	}

	t := ts.New(ts.First, 0, g.discount, obs, 0)
	g.currentStep = t

	return t, nil
}

// CurrentTimeStep returns the current timestep in the environment
func (g *GymEnv) CurrentTimeStep() ts.TimeStep {
	return g.currentStep
}

// ObservationSpec returns the observation spec of the environment
func (g *GymEnv) ObservationSpec() env.Spec {
	space := g.ObservationSpace()

	var low, high, shape *mat.VecDense
	switch space.(type) {
	case *gogym.BoxSpace:
		low = space.Low()[0]
		high = space.High()[0]
		shape = mat.NewVecDense(low.Len(), nil)
	default:
		panic("observationSpec: package gym supports only GoGym's BoxSpace")
	}

	return env.NewSpec(shape, env.Observation, low, high, env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (g *GymEnv) ActionSpec() env.Spec {
	space := g.ActionSpace()

	var low, high, shape *mat.VecDense
	switch space.(type) {
	case *gogym.BoxSpace:
		low = space.Low()[0]
		high = space.High()[0]
		shape = mat.NewVecDense(low.Len(), nil)
	default:
		panic("actionSpec: package gym supports only GoGym's BoxSpace")
	}

	return env.NewSpec(shape, env.Action, low, high, env.Continuous)
}

// DiscountSpec returns the discount specification of the environment
func (g *GymEnv) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{g.discount})

	return env.NewSpec(shape, env.Discount, bound, bound, env.Continuous)
}

// MaxEpisodeSteps returns the step limit after which episodes are cut
// off
func (g *GymEnv) MaxEpisodeSteps() int {
	return g.maxEpisodeSteps
}

// Close performs resource cleanup after the environment is no longer
// needed
func (g *GymEnv) Close() error {
	g.Environment.Close()
	return nil
}
