// Package agent contains the training agents: Single drives one
// algorithm/environment pair to completion inside a worker, Handle is the
// supervisor-side proxy for one worker, and Parallel presents one logical
// agent over a pool of workers.
package agent

import (
	"context"

	"github.com/treadmill-rl/treadmill/env"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/replay"
	"github.com/treadmill-rl/treadmill/task"
)

// Budget bounds one collection phase. Steps and Episodes are relative to
// the phase counter at the time the task starts; StepLimit and EpisodeLimit
// are absolute counter targets. Zero means "no bound in this dimension";
// the effective target is the tighter of the two bounds.
type Budget struct {
	Steps        int64
	Episodes     int64
	StepLimit    int64
	EpisodeLimit int64
}

// HeatupSpec requests random-action data collection. ActionLow/ActionHigh
// override the environment's native action bounds when non-nil.
type HeatupSpec struct {
	Budget
	ActionLow  []float64
	ActionHigh []float64
}

// ExploreSpec requests data collection with the stochastic policy.
type ExploreSpec struct {
	Budget
}

// EvaluateSpec requests data collection with the deterministic policy.
// Seeds and Options are consumed one per episode, last-in-first-out; when
// either list is provided the phase ends once both are exhausted.
type EvaluateSpec struct {
	Budget
	Seeds   []int64
	Options []env.ResetOptions
}

// UpdateSpec requests optimization steps. A spec with no bound at all is a
// no-op: an update phase must be bounded.
type UpdateSpec struct {
	Steps     int64
	StepLimit int64
}

// ExploreUpdateSpec is the sequential composition of an exploration phase
// and an update phase.
type ExploreUpdateSpec struct {
	Explore ExploreSpec
	Update  UpdateSpec
}

// PhaseResult is the outcome of one collection phase.
type PhaseResult struct {
	Episodes []*replay.Episode
	Stats    PhaseStats
}

// UpdateResult carries the per-step optimization metrics of one update
// phase, in step order.
type UpdateResult struct {
	Metrics [][]float64
}

// Agent is the logical training agent. The context is used for tracing and
// logging only: a started phase always runs to completion (the close
// protocol is the sole cancellation lever).
type Agent interface {
	Heatup(ctx context.Context, spec HeatupSpec) (PhaseResult, error)
	Explore(ctx context.Context, spec ExploreSpec) (PhaseResult, error)
	Evaluate(ctx context.Context, spec EvaluateSpec) (PhaseResult, error)
	Update(ctx context.Context, spec UpdateSpec) (UpdateResult, error)
	ExploreAndUpdate(ctx context.Context, spec ExploreUpdateSpec) (PhaseResult, UpdateResult, error)

	StepCounter() counter.StepSnapshot
	EpisodeCounter() counter.EpisodeSnapshot

	Close() error
}

// PhaseStats are the scalar metrics of one collection phase.
type PhaseStats struct {
	Episodes    float64 `json:"episodes"`
	Steps       float64 `json:"steps"`
	MeanReward  float64 `json:"mean_reward"`
	SuccessRate float64 `json:"success_rate"`
}

// StatsFromEpisodes summarizes a phase outcome.
func StatsFromEpisodes(episodes []*replay.Episode) PhaseStats {
	s := PhaseStats{Episodes: float64(len(episodes))}
	if len(episodes) == 0 {
		return s
	}

	var successes float64
	for _, ep := range episodes {
		s.Steps += float64(ep.Steps())
		s.MeanReward += ep.CumReward
		if ep.Success {
			successes++
		}
	}
	s.MeanReward /= s.Episodes
	s.SuccessRate = successes / s.Episodes

	return s
}

// MeanStats reduces per-worker stats by plain averaging.
func MeanStats(stats []PhaseStats) PhaseStats {
	if len(stats) == 0 {
		return PhaseStats{}
	}

	var m PhaseStats
	for _, s := range stats {
		m.Episodes += s.Episodes
		m.Steps += s.Steps
		m.MeanReward += s.MeanReward
		m.SuccessRate += s.SuccessRate
	}
	n := float64(len(stats))
	m.Episodes /= n
	m.Steps /= n
	m.MeanReward /= n
	m.SuccessRate /= n

	return m
}

// resolveTarget converts a relative budget and an absolute limit into one
// absolute counter target.
func resolveTarget(current, steps, limit int64) int64 {
	target := task.Unlimited
	if steps > 0 && steps < task.Unlimited-current {
		target = current + steps
	}
	if limit > 0 && limit < target {
		target = limit
	}

	return target
}

// DivideBudget splits a step or episode budget as evenly as possible
// across n workers using ceiling division: the parts sum to at least total
// and at most total+n-1. An unbounded budget stays unbounded per worker.
func DivideBudget(total int64, n int) []int64 {
	parts := make([]int64, n)
	per := task.Unlimited
	if total > 0 && total < task.Unlimited {
		per = (total + int64(n) - 1) / int64(n)
	}
	for i := range parts {
		parts[i] = per
	}

	return parts
}

// divideBudgets splits the relative budgets of a phase; absolute limits
// are counter targets and pass through undivided.
func divideBudgets(b Budget, n int) []Budget {
	steps := DivideBudget(b.Steps, n)
	episodes := DivideBudget(b.Episodes, n)

	out := make([]Budget, n)
	for i := range out {
		out[i] = Budget{
			Steps:        steps[i],
			Episodes:     episodes[i],
			StepLimit:    b.StepLimit,
			EpisodeLimit: b.EpisodeLimit,
		}
	}

	return out
}
