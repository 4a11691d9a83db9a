package experiment

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/nmarkell/gotrpo/environment/classiccontrol/cartpole"
	"github.com/nmarkell/gotrpo/tracker"
	ts "github.com/nmarkell/gotrpo/timestep"
)

// constantAgent pushes the cart in one direction forever, ending
// episodes quickly
type constantAgent struct {
	observed int
	episodes int
}

func (c *constantAgent) SelectAction(ts.TimeStep) *mat.VecDense {
	return mat.NewVecDense(1, []float64{1.0})
}

func (c *constantAgent) ObserveFirst(ts.TimeStep) error { return nil }

func (c *constantAgent) Observe(action mat.Vector,
	nextStep ts.TimeStep) error {
	c.observed++
	return nil
}

func (c *constantAgent) Step() error  { return nil }
func (c *constantAgent) EndEpisode()  { c.episodes++ }
func (c *constantAgent) Eval()        {}
func (c *constantAgent) Train()       {}
func (c *constantAgent) IsEval() bool { return false }

func TestOnlineRun(t *testing.T) {
	e, _ := cartpole.New(cartpole.NewDefaultStarter(7), 0.99, 500)
	a := &constantAgent{}

	maxSteps := uint(120)
	filename := filepath.Join(t.TempDir(), "returns.bin")

	exp := NewOnline(e, a, maxSteps)
	exp.Register(tracker.NewReturn(filename))

	if err := exp.Run(); err != nil {
		t.Fatalf("could not run experiment: %v", err)
	}

	if a.observed < int(maxSteps) {
		t.Errorf("agent should observe every timestep"+
			"\n\twant(>= %v)\n\thave(%v)", maxSteps, a.observed)
	}
	if a.episodes == 0 {
		t.Error("pushing the cart in one direction should end episodes")
	}

	if err := exp.Save(); err != nil {
		t.Fatalf("could not save tracked data: %v", err)
	}

	returns, err := tracker.LoadData(filename)
	if err != nil {
		t.Fatalf("could not load returns: %v", err)
	}
	if len(returns) == 0 {
		t.Error("completed episodes should have recorded returns")
	}

	// Cartpole rewards 1 per step, so each return equals the episode
	// length
	for i, r := range returns {
		if r <= 0 {
			t.Errorf("episode %d should have a positive return, got %v",
				i, r)
		}
	}
}
