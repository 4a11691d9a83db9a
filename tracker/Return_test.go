package tracker

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/nmarkell/gotrpo/timestep"
)

func trackEpisode(tr Tracker, rewards []float64) {
	obs := mat.NewVecDense(1, []float64{0})

	tr.Track(ts.New(ts.First, 0, 1, obs, 0))
	for i, r := range rewards {
		if i == len(rewards)-1 {
			tr.Track(ts.NewLast(ts.TerminalStateReached, r, 1, obs, i+1))
		} else {
			tr.Track(ts.New(ts.Mid, r, 1, obs, i+1))
		}
	}
}

func TestReturnTracker(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	tr := NewReturn(filename)

	trackEpisode(tr, []float64{1, 1, 1})
	trackEpisode(tr, []float64{2, -1})

	if err := tr.Save(); err != nil {
		t.Fatalf("could not save returns: %v", err)
	}

	returns, err := LoadData(filename)
	if err != nil {
		t.Fatalf("could not load returns: %v", err)
	}

	expected := []float64{3, 1}
	if len(returns) != len(expected) {
		t.Fatalf("incorrect number of episodes \n\twant(%v)\n\thave(%v)",
			len(expected), len(returns))
	}
	for i := range expected {
		if returns[i] != expected[i] {
			t.Errorf("incorrect return for episode %d"+
				"\n\twant(%v)\n\thave(%v)", i, expected[i], returns[i])
		}
	}
}

func TestEpisodeLengthTracker(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "lengths.bin")
	tr := NewEpisodeLength(filename)

	trackEpisode(tr, []float64{1, 1, 1})
	trackEpisode(tr, []float64{2, -1})

	if err := tr.Save(); err != nil {
		t.Fatalf("could not save episode lengths: %v", err)
	}

	lengths, err := LoadData(filename)
	if err != nil {
		t.Fatalf("could not load episode lengths: %v", err)
	}

	expected := []float64{3, 2}
	if len(lengths) != len(expected) {
		t.Fatalf("incorrect number of episodes \n\twant(%v)\n\thave(%v)",
			len(expected), len(lengths))
	}
	for i := range expected {
		if lengths[i] != expected[i] {
			t.Errorf("incorrect length for episode %d"+
				"\n\twant(%v)\n\thave(%v)", i, expected[i], lengths[i])
		}
	}
}
