// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/nmarkell/gotrpo/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Cardinality indicates whether the associated type is continuous or
// discrete
type Cardinality int

const (
	Discrete Cardinality = iota
	Continuous
)

// SpecType determines what kind of specification a Spec is. A Spec can
// specify the layout of an action, an observation, a discount, or a
// reward
type SpecType int

const (
	Action SpecType = iota
	Observation
	Discount
	Reward
)

// Spec implements a specification, which tells the type, shape, and
// bounds of an action, observation, discount, or reward
type Spec struct {
	Shape      mat.Vector
	Type       SpecType
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec returns a new Spec with the given fields
func NewSpec(shape mat.Vector, t SpecType, lowerBound, upperBound mat.Vector,
	cardinality Cardinality) Spec {
	return Spec{shape, t, lowerBound, upperBound, cardinality}
}

// Environment implements a simulated environment that an agent can
// interact with. Environments step synchronously: Step consumes a
// single action and produces the next TimeStep along with a flag
// denoting whether the episode has ended, either because a terminal
// state was reached or because the episode was cut off at the
// environment's step limit. The TimeStep itself records which of the
// two occurred.
type Environment interface {
	Reset() (timestep.TimeStep, error)
	Step(action *mat.VecDense) (timestep.TimeStep, bool, error)
	CurrentTimeStep() timestep.TimeStep

	ObservationSpec() Spec
	ActionSpec() Spec
	DiscountSpec() Spec

	// MaxEpisodeSteps returns the step limit after which episodes are
	// cut off
	MaxEpisodeSteps() int

	Close() error
}
