package cartpole

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/nmarkell/gotrpo/timestep"
)

func TestNewFirstStep(t *testing.T) {
	_, firstStep := New(NewDefaultStarter(11), 0.99, 500)

	if !firstStep.First() {
		t.Error("first step should have StepType First")
	}
	if firstStep.Observation.Len() != 4 {
		t.Errorf("illegal state dimension \n\twant(4)\n\thave(%v)",
			firstStep.Observation.Len())
	}
	for i := 0; i < 4; i++ {
		if v := math.Abs(firstStep.Observation.AtVec(i)); v > StartBound {
			t.Errorf("state feature %d outside start bounds"+
				"\n\twant(<= %v)\n\thave(%v)", i, StartBound, v)
		}
	}
}

func TestStepReward(t *testing.T) {
	env, _ := New(NewDefaultStarter(11), 0.99, 500)

	step, last, err := env.Step(mat.NewVecDense(1, []float64{0.0}))
	if err != nil {
		t.Fatalf("could not step environment: %v", err)
	}
	if last {
		t.Error("episode should not end after a single neutral step")
	}
	if step.Reward != 1.0 {
		t.Errorf("incorrect reward \n\twant(1.0)\n\thave(%v)", step.Reward)
	}
	if step.Number != 1 {
		t.Errorf("incorrect step number \n\twant(1)\n\thave(%v)",
			step.Number)
	}
}

// Pushing the cart in one direction forever must eventually tip the
// pole past the failure angle, ending the episode in a terminal state.
func TestTerminalState(t *testing.T) {
	env, _ := New(NewDefaultStarter(11), 0.99, 10000)
	action := mat.NewVecDense(1, []float64{1.0})

	for i := 0; i < 1000; i++ {
		step, last, err := env.Step(action)
		if err != nil {
			t.Fatalf("could not step environment: %v", err)
		}
		if last {
			if !step.TerminalEnd() {
				t.Error("failure should end the episode in a terminal state")
			}
			return
		}
	}
	t.Error("constant force should tip the pole within 1000 steps")
}

// An episode that survives to the step limit is cut off, not terminal.
func TestTimeout(t *testing.T) {
	maxSteps := 5
	env, _ := New(NewDefaultStarter(11), 0.99, maxSteps)
	action := mat.NewVecDense(1, []float64{0.0})

	var step ts.TimeStep
	var last bool
	var err error
	for i := 0; i < maxSteps; i++ {
		step, last, err = env.Step(action)
		if err != nil {
			t.Fatalf("could not step environment: %v", err)
		}
	}

	if !last {
		t.Fatal("episode should end at the step limit")
	}
	if !step.CutoffEnd() {
		t.Error("episodes ending at the step limit should be cut off, " +
			"not terminal")
	}
	if step.TerminalEnd() {
		t.Error("cut-off episodes should not report a terminal state")
	}
}

func TestReset(t *testing.T) {
	env, _ := New(NewDefaultStarter(11), 0.99, 500)

	env.Step(mat.NewVecDense(1, []float64{1.0}))
	env.Step(mat.NewVecDense(1, []float64{1.0}))

	step, err := env.Reset()
	if err != nil {
		t.Fatalf("could not reset environment: %v", err)
	}
	if !step.First() {
		t.Error("reset should return a First step")
	}
	if step.Number != 0 {
		t.Errorf("reset step number should be 0, got %v", step.Number)
	}
}
