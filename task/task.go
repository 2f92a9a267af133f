// Package task defines the message protocol between the supervisor and its
// workers: a closed set of task kinds, matched exhaustively at the worker
// loop, and the result envelope flowing back.
package task

import (
	"math"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env"
	"github.com/treadmill-rl/treadmill/replay"
)

// Unlimited marks a step or episode budget as unbounded.
const Unlimited int64 = math.MaxInt64

type Kind uint8

const (
	Heatup Kind = iota
	Explore
	Evaluate
	Update
	ExploreAndUpdate
	GetModelState
	SetModelState
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Heatup:
		return "heatup"
	case Explore:
		return "explore"
	case Evaluate:
		return "evaluate"
	case Update:
		return "update"
	case ExploreAndUpdate:
		return "explore-and-update"
	case GetModelState:
		return "get-model-state"
	case SetModelState:
		return "set-model-state"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Task is one supervisor→worker message. Exactly one task is in flight per
// worker at a time; the supervisor must not enqueue a second task before
// receiving the prior result (Shutdown excepted).
//
// Steps and Episodes are budgets relative to the worker's current counter;
// StepLimit and EpisodeLimit are absolute counter targets. Zero means
// "no bound in this dimension". The effective target is the tighter of the
// two bounds.
type Task struct {
	Kind Kind

	Steps        int64
	Episodes     int64
	StepLimit    int64
	EpisodeLimit int64

	// Heatup only: random-action bounds overriding the environment's.
	ActionLow  []float64
	ActionHigh []float64

	// Evaluate only: per-episode seeds and reset options, consumed
	// last-in-first-out.
	Seeds   []int64
	Options []env.ResetOptions

	// ExploreAndUpdate only: budget of the trailing update phase.
	UpdateSteps     int64
	UpdateStepLimit int64

	// GetModelState / SetModelState only.
	Component string
	State     algo.ModelState
}

// Result is one worker→supervisor message: a phase outcome or an error
// value, never both.
type Result struct {
	WorkerID string

	Episodes []*replay.Episode
	Metrics  [][]float64

	Err error
}

// Failed reports whether the result carries an error value.
func (r Result) Failed() bool {
	return r.Err != nil
}
