// Package replay holds episode records and the replay buffer contract
// training batches are sampled from.
package replay

import (
	"github.com/treadmill-rl/treadmill/env"
)

// Transition is one environment step inside an episode.
type Transition struct {
	Obs       env.Observation
	FlatObs   []float64
	Action    []float64
	Reward    float64
	Terminal  bool
	Truncated bool
	Info      env.Info
}

// Episode is one rollout from reset to termination or truncation. It is
// created at reset, appended to per step, and immutable once closed.
type Episode struct {
	InitialObs     env.Observation
	InitialFlatObs []float64
	Transitions    []Transition
	CumReward      float64
	Success        bool

	closed bool
}

// NewEpisode starts an episode at the reset observation.
func NewEpisode(obs env.Observation, flatObs []float64) *Episode {
	return &Episode{
		InitialObs:     obs,
		InitialFlatObs: flatObs,
	}
}

// Append records one step. Appending to a closed episode is a programmer
// error and panics.
func (e *Episode) Append(t Transition) {
	if e.closed {
		panic("replay: append to closed episode")
	}
	e.Transitions = append(e.Transitions, t)
	e.CumReward += t.Reward
}

// CloseEpisode seals the episode and derives the success flag from the
// terminal transition: an explicit "success" info entry wins, otherwise a
// rollout that ran to truncation without failing terminally counts as a
// success. Zero-length episodes close unsuccessful.
func (e *Episode) CloseEpisode() {
	if e.closed {
		return
	}
	e.closed = true

	if len(e.Transitions) == 0 {
		return
	}

	last := e.Transitions[len(e.Transitions)-1]
	if v, ok := last.Info["success"].(bool); ok {
		e.Success = v

		return
	}
	e.Success = last.Truncated && !last.Terminal
}

// Closed reports whether the episode has been sealed.
func (e *Episode) Closed() bool {
	return e.closed
}

// Steps returns the number of recorded transitions.
func (e *Episode) Steps() int {
	return len(e.Transitions)
}
