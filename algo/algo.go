// Package algo defines the learning-algorithm contract the harness drives.
// The update rule itself is opaque to the harness; only the operations
// below are called across the task protocol.
package algo

import (
	"github.com/treadmill-rl/treadmill/replay"
)

// Model components. An algorithm may expose any names; these are the ones
// the reference implementation and the examples use.
const (
	ComponentPolicy = "policy"
	ComponentQ1     = "q1"
	ComponentQ2     = "q2"

	// AllComponents selects every component of the model.
	AllComponents = "all"
)

// ModelState maps a component key (e.g. "policy/network",
// "q1/optimizer") to an opaque serialized blob. Blobs are value-copied
// across worker boundaries, never referenced, so no aliasing is possible
// once serialized.
type ModelState map[string][]byte

// Copy returns a deep copy of the state.
func (m ModelState) Copy() ModelState {
	c := make(ModelState, len(m))
	for k, v := range m {
		b := make([]byte, len(v))
		copy(b, v)
		c[k] = b
	}

	return c
}

// Algo is one learning algorithm instance. Instances are never shared
// across workers; Copy produces the per-worker replicas.
type Algo interface {
	// ExplorationAction returns a stochastic action from the current policy.
	ExplorationAction(flatObs []float64) []float64
	// EvalAction returns the deterministic action from the current policy.
	EvalAction(flatObs []float64) []float64
	// Update applies one optimization step on a sampled batch and returns
	// per-step scalar metrics.
	Update(batch replay.Batch) ([]float64, error)
	// Reset clears any per-episode internal state (e.g. recurrent cells).
	Reset()

	// StateOf serializes the named component (AllComponents for the whole
	// model) including its optimizer and scheduler state.
	StateOf(component string) (ModelState, error)
	// LoadStateOf installs previously serialized state. Applied atomically
	// with respect to the owner's optimization steps: the harness only
	// calls it between tasks.
	LoadStateOf(component string, state ModelState) error
	// SoftUpdate blends foreign parameters into this model,
	// p = (1-tau)*p + tau*other, for every component present in state.
	SoftUpdate(state ModelState, tau float64) error

	// AdvanceSchedule advances the learning-rate schedule one step.
	AdvanceSchedule()
	// ScheduleSteps returns how many schedule steps have been taken.
	ScheduleSteps() int64

	// Copy returns an independent replica with identical parameters.
	Copy() Algo
	Close() error
}
