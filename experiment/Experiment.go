// Package experiment implements functionality for running an
// experiment
package experiment

import (
	"github.com/nmarkell/gotrpo/tracker"
)

// Experiment runs an agent in an environment for a budget of
// timesteps, sending each TimeStep to its registered Trackers so that
// data generated during the experiment can later be saved to disk.
// RunEpisode runs a single episode and reports whether the timestep
// budget has been exhausted; Run runs episodes until it has.
type Experiment interface {
	Run() error
	RunEpisode() (bool, error)

	// Register adds a Tracker to the (possibly already running)
	// experiment
	Register(t tracker.Tracker)

	// Save persists all tracked data to disk
	Save() error
}
