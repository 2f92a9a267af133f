package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/pkg/errors"
	"github.com/treadmill-rl/treadmill/replay"
)

const defaultTau = 0.35

// ParallelConfig assembles the orchestrator and its worker pool.
type ParallelConfig struct {
	Workers int

	// Algo is the authoritative model copy. Each worker receives an
	// independent replica via Copy.
	Algo algo.Algo
	// TrainEnvs and EvalEnvs build one exclusive environment pair per
	// worker. A nil EvalEnvs reuses TrainEnvs.
	TrainEnvs env.Factory
	EvalEnvs  env.Factory
	// Buffer is the template replay buffer; each worker gets a Copy.
	Buffer replay.Buffer

	ConsecutiveActionSteps int
	NormalizeActions       bool
	Seed                   int64

	// Tau is the mixing coefficient of the gather→blend→scatter model
	// synchronization after each update round.
	Tau float64

	// ResultTimeout bounds each per-worker result wait during a gather; a
	// non-positive value waits indefinitely.
	ResultTimeout time.Duration
	PollInterval  time.Duration
	JoinTimeout   time.Duration

	Logger *slog.Logger
}

// Parallel presents one logical agent over a pool of workers: phase
// budgets fan out evenly, results gather in issue order, and model
// replicas are re-synchronized through the authoritative copy after every
// update round.
type Parallel struct {
	handles []*Handle
	algo    algo.Algo
	buffer  replay.Buffer
	tau     float64

	resultTimeout time.Duration
	closeOnce     sync.Once
	closeErr      error
	logger        *slog.Logger
}

var _ Agent = (*Parallel)(nil)

// NewParallel spawns the worker pool.
func NewParallel(cfg ParallelConfig) (*Parallel, error) {
	if cfg.Workers < 1 {
		return nil, errors.ErrNoWorkers
	}
	if cfg.Tau <= 0 || cfg.Tau > 1 {
		cfg.Tau = defaultTau
	}
	if cfg.EvalEnvs == nil {
		cfg.EvalEnvs = cfg.TrainEnvs
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Parallel{
		algo:          cfg.Algo,
		buffer:        cfg.Buffer,
		tau:           cfg.Tau,
		resultTimeout: cfg.ResultTimeout,
		logger:        cfg.Logger,
	}

	for i := 0; i < cfg.Workers; i++ {
		envTrain, err := cfg.TrainEnvs.Create()
		if err != nil {
			p.Close()

			return nil, fmt.Errorf("creating train environment %d: %w", i, err)
		}
		envEval, err := cfg.EvalEnvs.Create()
		if err != nil {
			envTrain.Close()
			p.Close()

			return nil, fmt.Errorf("creating eval environment %d: %w", i, err)
		}

		p.handles = append(p.handles, SpawnWorker(WorkerConfig{
			ID:                     uuid.NewString(),
			Name:                   fmt.Sprintf("worker-%d", i),
			Algo:                   cfg.Algo.Copy(),
			EnvTrain:               envTrain,
			EnvEval:                envEval,
			Buffer:                 cfg.Buffer.Copy(),
			ConsecutiveActionSteps: cfg.ConsecutiveActionSteps,
			NormalizeActions:       cfg.NormalizeActions,
			Seed:                   cfg.Seed + int64(i),
			PollInterval:           cfg.PollInterval,
			JoinTimeout:            cfg.JoinTimeout,
			Logger:                 cfg.Logger,
		}))
	}

	return p, nil
}

// Workers returns the handles, in issue order.
func (p *Parallel) Workers() []*Handle {
	return p.handles
}

func (p *Parallel) Heatup(_ context.Context, spec HeatupSpec) (PhaseResult, error) {
	budgets := divideBudgets(spec.Budget, len(p.handles))
	for i, h := range p.handles {
		s := spec
		s.Budget = budgets[i]
		h.Heatup(s)
	}

	return p.gatherPhase()
}

func (p *Parallel) Explore(_ context.Context, spec ExploreSpec) (PhaseResult, error) {
	budgets := divideBudgets(spec.Budget, len(p.handles))
	for i, h := range p.handles {
		h.Explore(ExploreSpec{Budget: budgets[i]})
	}

	return p.gatherPhase()
}

func (p *Parallel) Evaluate(_ context.Context, spec EvaluateSpec) (PhaseResult, error) {
	budgets := divideBudgets(spec.Budget, len(p.handles))
	seeds := DivideSlice(spec.Seeds, len(p.handles))
	options := DivideSlice(spec.Options, len(p.handles))

	for i, h := range p.handles {
		h.Evaluate(EvaluateSpec{
			Budget:  budgets[i],
			Seeds:   seeds[i],
			Options: options[i],
		})
	}

	return p.gatherPhase()
}

// Update fans an even split of optimization steps out, gathers every
// worker's completion, then synchronizes the replicas: pull each worker's
// parameters, blend them into the authoritative copy, and push the blended
// copy back out. An error result from any worker is fatal for the whole
// round — optimizer state is no longer trustworthy, so nothing is averaged
// away — and is propagated instead of a partial reduction.
func (p *Parallel) Update(_ context.Context, spec UpdateSpec) (UpdateResult, error) {
	steps := DivideBudget(spec.Steps, len(p.handles))
	for i, h := range p.handles {
		h.Update(UpdateSpec{Steps: steps[i], StepLimit: spec.StepLimit})
	}

	var metrics [][]float64
	var firstErr error
	for _, h := range p.handles {
		r, err := h.GetResult(p.resultTimeout)
		if err == nil {
			err = r.Err
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("worker %s: %w", h.Name(), err)
		}
		metrics = append(metrics, r.Metrics...)
	}
	if firstErr != nil {
		return UpdateResult{}, firstErr
	}

	if err := p.synchronize(); err != nil {
		return UpdateResult{}, err
	}

	return UpdateResult{Metrics: metrics}, nil
}

func (p *Parallel) ExploreAndUpdate(_ context.Context, spec ExploreUpdateSpec) (PhaseResult, UpdateResult, error) {
	budgets := divideBudgets(spec.Explore.Budget, len(p.handles))
	updateSteps := DivideBudget(spec.Update.Steps, len(p.handles))
	for i, h := range p.handles {
		h.ExploreAndUpdate(ExploreUpdateSpec{
			Explore: ExploreSpec{Budget: budgets[i]},
			Update:  UpdateSpec{Steps: updateSteps[i], StepLimit: spec.Update.StepLimit},
		})
	}

	var episodes []*replay.Episode
	var stats []PhaseStats
	var metrics [][]float64
	var firstErr error
	for _, h := range p.handles {
		r, err := h.GetResult(p.resultTimeout)
		if err == nil {
			err = r.Err
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("worker %s: %w", h.Name(), err)
		}
		episodes = append(episodes, r.Episodes...)
		if len(r.Episodes) > 0 {
			stats = append(stats, StatsFromEpisodes(r.Episodes))
		}
		metrics = append(metrics, r.Metrics...)
	}
	if firstErr != nil {
		return PhaseResult{}, UpdateResult{}, firstErr
	}

	if err := p.synchronize(); err != nil {
		return PhaseResult{}, UpdateResult{}, err
	}

	return PhaseResult{Episodes: episodes, Stats: MeanStats(stats)},
		UpdateResult{Metrics: metrics}, nil
}

// gatherPhase collects one result per handle in issue order and reduces
// the per-worker stats by plain averaging.
func (p *Parallel) gatherPhase() (PhaseResult, error) {
	var episodes []*replay.Episode
	var stats []PhaseStats
	var firstErr error
	for _, h := range p.handles {
		r, err := h.GetResult(p.resultTimeout)
		if err == nil {
			err = r.Err
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("worker %s: %w", h.Name(), err)
		}
		episodes = append(episodes, r.Episodes...)
		if len(r.Episodes) > 0 {
			stats = append(stats, StatsFromEpisodes(r.Episodes))
		}
	}
	if firstErr != nil {
		return PhaseResult{}, firstErr
	}

	return PhaseResult{Episodes: episodes, Stats: MeanStats(stats)}, nil
}

// synchronize runs one gather→blend→scatter round through the
// authoritative model copy.
func (p *Parallel) synchronize() error {
	for _, h := range p.handles {
		state, err := h.GetModelState(algo.AllComponents)
		if err != nil {
			return fmt.Errorf("pulling model from %s: %w", h.Name(), err)
		}
		if err := p.algo.SoftUpdate(state, p.tau); err != nil {
			return fmt.Errorf("blending model from %s: %w", h.Name(), err)
		}
	}

	blended, err := p.algo.StateOf(algo.AllComponents)
	if err != nil {
		return fmt.Errorf("serializing blended model: %w", err)
	}
	for _, h := range p.handles {
		h.SetModelState(algo.AllComponents, blended)
	}

	return nil
}

// ModelState snapshots the authoritative model copy, e.g. for
// checkpointing.
func (p *Parallel) ModelState() (algo.ModelState, error) {
	return p.algo.StateOf(algo.AllComponents)
}

func (p *Parallel) StepCounter() counter.StepSnapshot {
	var merged counter.StepSnapshot
	for _, h := range p.handles {
		merged = merged.Merge(h.StepCounter())
	}

	return merged
}

func (p *Parallel) EpisodeCounter() counter.EpisodeSnapshot {
	var merged counter.EpisodeSnapshot
	for _, h := range p.handles {
		merged = merged.Merge(h.EpisodeCounter())
	}

	return merged
}

// Close shuts every worker down and releases the authoritative model copy
// and the buffer template. Idempotent.
func (p *Parallel) Close() error {
	p.closeOnce.Do(func() {
		for _, h := range p.handles {
			h.Close()
		}
		p.closeErr = p.algo.Close()
		if p.buffer != nil {
			if err := p.buffer.Close(); p.closeErr == nil {
				p.closeErr = err
			}
		}
	})

	return p.closeErr
}

// DivideSlice partitions per-episode items (seeds, reset options) across n
// workers, preserving overall LIFO consumption order as closely as an even
// split allows. A nil slice stays nil for every worker.
func DivideSlice[T any](items []T, n int) [][]T {
	out := make([][]T, n)
	if items == nil {
		return out
	}

	per := (len(items) + n - 1) / n
	for i := 0; i < n; i++ {
		low := i * per
		if low >= len(items) {
			// A worker with no items must see a nil list, not an empty
			// one: a non-nil empty list would still run one episode.
			continue
		}
		out[i] = items[low:min(low+per, len(items))]
	}

	return out
}
