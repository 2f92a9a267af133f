// Package cartpole implements the classic cart-pole balancing task with a
// continuous force action. It is the reference environment used by the
// examples and the integration tests.
package cartpole

import (
	"errors"
	"math"
	"math/rand"

	"github.com/treadmill-rl/treadmill/env"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	poleLength     = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * poleLength
	forceMax       = 10.0
	tau            = 0.02

	xThreshold      = 2.4
	thetaThreshold  = 12.0 * math.Pi / 180.0
	defaultMaxSteps = 500
)

type Env struct {
	x, xDot, theta, thetaDot float64

	steps    int
	maxSteps int
	closed   bool
	rng      *rand.Rand
}

// New returns a cart-pole environment. The seed fixes the reset
// distribution until a per-episode seed is supplied via Reset.
func New(seed int64, maxSteps int) *Env {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	return &Env{
		maxSteps: maxSteps,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Factory returns an env.Factory producing independent instances, one per
// worker, seeded apart so workers do not replay identical episodes.
func Factory(seed int64, maxSteps int) env.Factory {
	next := seed

	return env.FactoryFunc(func() (env.Env, error) {
		e := New(next, maxSteps)
		next++

		return e, nil
	})
}

func (e *Env) Reset(seed *int64, _ env.ResetOptions) (env.Observation, error) {
	if e.closed {
		return nil, errors.New("cartpole: reset on closed environment")
	}
	if seed != nil {
		e.rng = rand.New(rand.NewSource(*seed))
	}

	e.x = e.rng.Float64()*0.1 - 0.05
	e.xDot = e.rng.Float64()*0.1 - 0.05
	e.theta = e.rng.Float64()*0.1 - 0.05
	e.thetaDot = e.rng.Float64()*0.1 - 0.05
	e.steps = 0

	return e.observation(), nil
}

func (e *Env) Step(action []float64) (env.Observation, float64, bool, bool, env.Info, error) {
	if e.closed {
		return nil, 0, false, false, nil, errors.New("cartpole: step on closed environment")
	}
	if len(action) != 1 {
		return nil, 0, false, false, nil, errors.New("cartpole: action must have dimension 1")
	}

	force := math.Max(-forceMax, math.Min(forceMax, action[0]*forceMax))

	cosTheta := math.Cos(e.theta)
	sinTheta := math.Sin(e.theta)

	temp := (force + poleMassLength*e.thetaDot*e.thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(poleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	e.x += tau * e.xDot
	e.xDot += tau * xAcc
	e.theta += tau * e.thetaDot
	e.thetaDot += tau * thetaAcc
	e.steps++

	terminal := e.x < -xThreshold || e.x > xThreshold ||
		e.theta < -thetaThreshold || e.theta > thetaThreshold
	truncated := !terminal && e.steps >= e.maxSteps

	reward := 1.0
	if terminal {
		reward = 0.0
	}

	info := env.Info{"steps": e.steps}

	return e.observation(), reward, terminal, truncated, info, nil
}

func (e *Env) Render() {}

func (e *Env) Close() error {
	e.closed = true

	return nil
}

func (e *Env) ActionSpace() env.Box {
	return env.Box{Low: []float64{-1.0}, High: []float64{1.0}}
}

func (e *Env) observation() env.Observation {
	return env.Observation{
		"state": {e.x, e.xDot, e.theta, e.thetaDot},
	}
}
