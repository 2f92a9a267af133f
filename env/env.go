// Package env defines the simulated-environment contract the agents drive.
// Implementations are never shared across workers: each worker holds an
// exclusive instance created by a Factory.
package env

import (
	"slices"
)

// Observation is a named set of observation vectors, e.g. one entry per
// sensor. Flatten produces the single vector fed to the policy.
type Observation map[string][]float64

// Flatten concatenates the observation vectors in sorted key order so the
// layout is stable across steps and workers.
func (o Observation) Flatten() []float64 {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var flat []float64
	for _, k := range keys {
		flat = append(flat, o[k]...)
	}

	return flat
}

// Copy returns a deep copy, used when an observation outlives the
// environment buffer it came from.
func (o Observation) Copy() Observation {
	c := make(Observation, len(o))
	for k, v := range o {
		c[k] = slices.Clone(v)
	}

	return c
}

// Box is a bounded continuous action space.
type Box struct {
	Low  []float64
	High []float64
}

// Dim returns the action dimensionality.
func (b Box) Dim() int {
	return len(b.Low)
}

// ResetOptions carries per-episode reset parameters, consumed one per
// evaluation episode.
type ResetOptions map[string]any

// Info carries auxiliary per-step data emitted by the environment.
type Info map[string]any

// Env is one simulated environment instance. Train and eval instances may
// be identical. Implementations need not be safe for concurrent use; each
// instance is driven by exactly one worker.
type Env interface {
	// Reset starts a new episode. A nil seed means "environment's choice".
	Reset(seed *int64, options ResetOptions) (Observation, error)
	// Step applies one action and advances the simulation.
	Step(action []float64) (obs Observation, reward float64, terminal, truncated bool, info Info, err error)
	Render()
	Close() error
	ActionSpace() Box
}

// Factory creates an exclusive environment instance per worker.
type Factory interface {
	Create() (Env, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() (Env, error)

func (f FactoryFunc) Create() (Env, error) {
	return f()
}
