// Package timestep implements timesteps of the agent-environment
// interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be: the first
// step in an episode, a middle step, or the last step.
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType denotes why an episode ended. An episode may end because the
// agent reached a terminal state (TerminalStateReached), because the
// episode was cut off at a step limit (Timeout), or it may not have
// ended at all (Nil).
//
// The distinction matters for bootstrapping: a terminal state has no
// future value, while a cut-off episode should bootstrap from the value
// estimate of the next state.
type EndType int

const (
	Nil EndType = iota
	TerminalStateReached
	Timeout
)

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType
	EndType
	Reward      float64
	Discount    float64
	Observation mat.Vector
	Number      int
}

// New returns a new TimeStep with the given fields. Steps constructed
// with New never denote episode ends; use NewLast or End to mark a
// step as the last in an episode.
func New(t StepType, reward, discount float64, obs mat.Vector,
	number int) TimeStep {
	return TimeStep{t, Nil, reward, discount, obs, number}
}

// NewLast returns a new TimeStep that ends an episode for the given
// reason.
func NewLast(end EndType, reward, discount float64, obs mat.Vector,
	number int) TimeStep {
	return TimeStep{Last, end, reward, discount, obs, number}
}

// End marks a TimeStep as the last in its episode for the given reason.
func (t *TimeStep) End(end EndType) {
	t.StepType = Last
	t.EndType = end
}

// First returns whether a TimeStep is the first in an episode
func (t TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t TimeStep) Last() bool {
	return t.StepType == Last
}

// TerminalEnd returns whether a TimeStep ended its episode by reaching
// a terminal state. This is distinct from an episode that was cut off
// by a step limit, for which TerminalEnd returns false.
func (t TimeStep) TerminalEnd() bool {
	return t.StepType == Last && t.EndType == TerminalStateReached
}

// CutoffEnd returns whether a TimeStep ended its episode due to a step
// limit.
func (t TimeStep) CutoffEnd() bool {
	return t.StepType == Last && t.EndType == Timeout
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number)
}
