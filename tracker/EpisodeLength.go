package tracker

import (
	ts "github.com/nmarkell/gotrpo/timestep"
)

// EpisodeLength tracks and saves the number of timesteps in each
// episode of an experiment. Episodes that do not finish before the
// experiment ends are not recorded.
type EpisodeLength struct {
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength creates and returns a new *EpisodeLength Tracker
func NewEpisodeLength(filename string) Tracker {
	return &EpisodeLength{filename: filename}
}

// Track records the episode length when a timestep ends an episode
func (e *EpisodeLength) Track(step ts.TimeStep) {
	if step.Last() {
		e.episodeLengths = append(e.episodeLengths, float64(step.Number))
	}
}

// Save saves the data tracked by the EpisodeLength Tracker to disk
func (e *EpisodeLength) Save() error {
	return save(e.filename, e.episodeLengths)
}
