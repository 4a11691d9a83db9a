// Package cartpole implements the Cartpole classic control environment
// with a continuous action space
package cartpole

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/nmarkell/gotrpo/environment"
	ts "github.com/nmarkell/gotrpo/timestep"
	"github.com/nmarkell/gotrpo/utils/floatutils"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	TotalMass      float64 = CartMass + PoleMass
	HalfPoleLength float64 = 0.5
	ForceMag       float64 = 10.0 // Maximum magnitude of applied force
	Dt             float64 = 0.02 // Seconds between state updates

	// Episode failure bounds
	PositionBounds float64 = 2.4
	AngleBounds    float64 = 12 * math.Pi / 180

	// Default step limit for episodes
	DefaultMaxEpisodeSteps int = 500

	// Starting states are sampled uniformly from +/- this value for
	// every state feature
	StartBound float64 = 0.05
)

// Cartpole implements the classic control environment Cartpole with a
// continuous action space. A pole is attached to a cart which can be
// pushed left or right. The agent receives a reward of 1 on every step
// on which the pole remains within AngleBounds of vertical and the
// cart remains within PositionBounds of the track centre. The episode
// terminates when either bound is exceeded, or it is cut off at the
// environment's step limit.
//
// The state features are the cart's x position and velocity, and the
// pole's angle from vertical and angular velocity.
//
// Actions are continuous, 1-dimensional, and clipped to [-1, 1]. The
// force applied to the cart is the action scaled by ForceMag.
type Cartpole struct {
	env.Starter
	lastStep        ts.TimeStep
	discount        float64
	maxEpisodeSteps int
}

// New constructs a new Cartpole environment and its first TimeStep
func New(s env.Starter, discount float64, maxEpisodeSteps int) (*Cartpole,
	ts.TimeStep) {
	if maxEpisodeSteps <= 0 {
		maxEpisodeSteps = DefaultMaxEpisodeSteps
	}

	state := s.Start()
	firstStep := ts.New(ts.First, 0.0, discount, state, 0)

	cartpole := &Cartpole{
		Starter:         s,
		lastStep:        firstStep,
		discount:        discount,
		maxEpisodeSteps: maxEpisodeSteps,
	}

	return cartpole, firstStep
}

// NewDefaultStarter returns a Starter that samples all state features
// uniformly from [-StartBound, StartBound]
func NewDefaultStarter(seed uint64) env.Starter {
	bounds := r1.Interval{Min: -StartBound, Max: StartBound}
	return env.NewUniformStarter([]r1.Interval{bounds, bounds, bounds,
		bounds}, seed)
}

// Reset resets the environment and returns a starting state drawn from
// the environment's Starter
func (c *Cartpole) Reset() (ts.TimeStep, error) {
	state := c.Start()
	startStep := ts.New(ts.First, 0, c.discount, state, 0)
	c.lastStep = startStep

	return startStep, nil
}

// Step takes a single environmental step given the argument action and
// returns the next TimeStep together with whether the episode ended
func (c *Cartpole) Step(action *mat.VecDense) (ts.TimeStep, bool, error) {
	force := ForceMag * floatutils.Clip(action.AtVec(0), -1.0, 1.0)

	state := c.lastStep.Observation
	x, xDot := state.AtVec(0), state.AtVec(1)
	theta, thetaDot := state.AtVec(2), state.AtVec(3)

	cosTheta, sinTheta := math.Cos(theta), math.Sin(theta)

	temp := (force + PoleMass*HalfPoleLength*thetaDot*thetaDot*sinTheta) /
		TotalMass
	thetaAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/TotalMass))
	xAcc := temp - PoleMass*HalfPoleLength*thetaAcc*cosTheta/TotalMass

	// Euler integration
	x += Dt * xDot
	xDot += Dt * xAcc
	theta += Dt * thetaDot
	thetaDot += Dt * thetaAcc

	nextState := mat.NewVecDense(4, []float64{x, xDot, theta, thetaDot})

	failed := x < -PositionBounds || x > PositionBounds ||
		theta < -AngleBounds || theta > AngleBounds

	nextStep := ts.New(ts.Mid, 1.0, c.discount, nextState,
		c.lastStep.Number+1)
	if failed {
		nextStep.End(ts.TerminalStateReached)
	} else if nextStep.Number >= c.maxEpisodeSteps {
		nextStep.End(ts.Timeout)
	}
	c.lastStep = nextStep

	return nextStep, nextStep.Last(), nil
}

// CurrentTimeStep returns the current timestep in the environment
func (c *Cartpole) CurrentTimeStep() ts.TimeStep {
	return c.lastStep
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Cartpole) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(4, nil)
	lowerBound := mat.NewVecDense(4, []float64{-PositionBounds,
		math.Inf(-1), -AngleBounds, math.Inf(-1)})
	upperBound := mat.NewVecDense(4, []float64{PositionBounds,
		math.Inf(1), AngleBounds, math.Inf(1)})

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (c *Cartpole) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{-1.0})
	upperBound := mat.NewVecDense(1, []float64{1.0})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// DiscountSpec returns the discount specification of the environment
func (c *Cartpole) DiscountSpec() env.Spec {
	shape := mat.NewVecDense(1, nil)
	bound := mat.NewVecDense(1, []float64{c.discount})

	return env.NewSpec(shape, env.Discount, bound, bound, env.Continuous)
}

// MaxEpisodeSteps returns the step limit after which episodes are cut
// off
func (c *Cartpole) MaxEpisodeSteps() int {
	return c.maxEpisodeSteps
}

// Close performs resource cleanup. Cartpole holds no external
// resources.
func (c *Cartpole) Close() error {
	return nil
}
