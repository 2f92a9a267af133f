package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/replay"
	"github.com/treadmill-rl/treadmill/task"
)

// SingleConfig assembles one local agent. Algo, the environments and the
// buffer become exclusively owned by the agent.
type SingleConfig struct {
	Algo     algo.Algo
	EnvTrain env.Env
	EnvEval  env.Env
	Buffer   replay.Buffer

	// ConsecutiveActionSteps repeats each chosen action this many
	// environment steps (1 if zero).
	ConsecutiveActionSteps int
	// NormalizeActions makes the policy act in [-1, 1] and rescales to the
	// environment's native bounds on step.
	NormalizeActions bool
	Seed             int64
	Logger           *slog.Logger

	// Shared progress counters; fresh ones are created when nil.
	StepCounter    *counter.StepCounter
	EpisodeCounter *counter.EpisodeCounter
}

// Single drives one phase at a time against one environment pair. It is
// not safe for concurrent use: inside a worker, tasks execute serially.
type Single struct {
	algo     algo.Algo
	envTrain env.Env
	envEval  env.Env
	buffer   replay.Buffer

	consecutiveActionSteps int
	normalizeActions       bool

	steps    *counter.StepCounter
	episodes *counter.EpisodeCounter

	replayTooSmall bool
	rng            *rand.Rand
	logger         *slog.Logger
}

var _ Agent = (*Single)(nil)

// NewSingle builds a local agent.
func NewSingle(cfg SingleConfig) *Single {
	if cfg.ConsecutiveActionSteps <= 0 {
		cfg.ConsecutiveActionSteps = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StepCounter == nil {
		cfg.StepCounter = &counter.StepCounter{}
	}
	if cfg.EpisodeCounter == nil {
		cfg.EpisodeCounter = &counter.EpisodeCounter{}
	}

	return &Single{
		algo:                   cfg.Algo,
		envTrain:               cfg.EnvTrain,
		envEval:                cfg.EnvEval,
		buffer:                 cfg.Buffer,
		consecutiveActionSteps: cfg.ConsecutiveActionSteps,
		normalizeActions:       cfg.NormalizeActions,
		steps:                  cfg.StepCounter,
		episodes:               cfg.EpisodeCounter,
		replayTooSmall:         true,
		rng:                    rand.New(rand.NewSource(cfg.Seed)),
		logger:                 cfg.Logger,
	}
}

func (s *Single) Heatup(_ context.Context, spec HeatupSpec) (PhaseResult, error) {
	return s.collect(counter.Heatup, s.envTrain, spec.Budget, s.randomAction(spec.ActionLow, spec.ActionHigh), true)
}

func (s *Single) Explore(_ context.Context, spec ExploreSpec) (PhaseResult, error) {
	return s.collect(counter.Exploration, s.envTrain, spec.Budget, s.algo.ExplorationAction, true)
}

// collect runs the shared heatup/exploration loop: play episodes until a
// step or episode target is reached, pushing every completed episode into
// the replay buffer.
func (s *Single) collect(phase counter.Phase, e env.Env, b Budget, action func([]float64) []float64, push bool) (PhaseResult, error) {
	stepTarget := resolveTarget(s.steps.Get(phase), b.Steps, b.StepLimit)
	episodeTarget := resolveTarget(s.episodes.Get(phase), b.Episodes, b.EpisodeLimit)

	// Nothing drives termination: an all-zero budget is a no-op, same as
	// Evaluate and Update.
	if stepTarget == task.Unlimited && episodeTarget == task.Unlimited {
		return PhaseResult{}, nil
	}

	var episodes []*replay.Episode
	start := time.Now()
	for s.steps.Get(phase) < stepTarget && s.episodes.Get(phase) < episodeTarget {
		s.episodes.Add(phase, 1)

		episode, n, err := s.playEpisode(e, action, nil, nil)
		if err != nil {
			return PhaseResult{}, fmt.Errorf("%s episode failed: %w", phase, err)
		}

		s.steps.Add(phase, int64(n))
		if push {
			s.buffer.Push(episode)
		}
		episodes = append(episodes, episode)
	}

	stats := StatsFromEpisodes(episodes)
	s.logger.Info("collection phase finished",
		slog.String("phase", phase.String()),
		slog.Int64("steps_total", s.steps.Get(phase)),
		slog.Float64("steps", stats.Steps),
		slog.Float64("steps_per_second", stats.Steps/time.Since(start).Seconds()),
	)

	return PhaseResult{Episodes: episodes, Stats: stats}, nil
}

func (s *Single) Evaluate(_ context.Context, spec EvaluateSpec) (PhaseResult, error) {
	stepTarget := resolveTarget(s.steps.Get(counter.Evaluation), spec.Steps, spec.StepLimit)
	episodeTarget := resolveTarget(s.episodes.Get(counter.Evaluation), spec.Episodes, spec.EpisodeLimit)

	seeds := append([]int64(nil), spec.Seeds...)
	options := append([]env.ResetOptions(nil), spec.Options...)
	useLists := spec.Seeds != nil || spec.Options != nil

	// Nothing drives termination: an evaluation must be bounded by lists
	// or by a budget.
	if !useLists && stepTarget == task.Unlimited && episodeTarget == task.Unlimited {
		return PhaseResult{}, nil
	}

	var episodes []*replay.Episode
	start := time.Now()
	for {
		if !useLists &&
			(s.steps.Get(counter.Evaluation) >= stepTarget ||
				s.episodes.Get(counter.Evaluation) >= episodeTarget) {
			break
		}

		s.episodes.Add(counter.Evaluation, 1)

		var seed *int64
		if len(seeds) > 0 {
			v := seeds[len(seeds)-1]
			seeds = seeds[:len(seeds)-1]
			seed = &v
		}
		var opts env.ResetOptions
		if len(options) > 0 {
			opts = options[len(options)-1]
			options = options[:len(options)-1]
		}

		episode, n, err := s.playEpisode(s.envEval, s.algo.EvalAction, seed, opts)
		if err != nil {
			return PhaseResult{}, fmt.Errorf("evaluation episode failed: %w", err)
		}

		s.steps.Add(counter.Evaluation, int64(n))
		episodes = append(episodes, episode)

		if useLists && len(seeds) == 0 && len(options) == 0 {
			break
		}
		if s.steps.Get(counter.Evaluation) >= stepTarget ||
			s.episodes.Get(counter.Evaluation) >= episodeTarget {
			break
		}
	}

	stats := StatsFromEpisodes(episodes)
	s.logger.Info("evaluation finished",
		slog.Int64("steps_total", s.steps.Get(counter.Evaluation)),
		slog.Float64("reward", stats.MeanReward),
		slog.Float64("success_rate", stats.SuccessRate),
		slog.Float64("steps_per_second", stats.Steps/time.Since(start).Seconds()),
	)

	return PhaseResult{Episodes: episodes, Stats: stats}, nil
}

// Update samples batches and applies optimization steps until the target
// is reached. A replay buffer with no full batch yet makes the whole phase
// a no-op, re-checked lazily so the buffer length is not queried once it
// has grown past one batch.
func (s *Single) Update(_ context.Context, spec UpdateSpec) (UpdateResult, error) {
	target := resolveTarget(s.steps.Get(counter.Update), spec.Steps, spec.StepLimit)

	if s.replayTooSmall {
		s.replayTooSmall = s.buffer.Len() <= s.buffer.BatchSize()
	}
	if s.replayTooSmall || target == task.Unlimited {
		return UpdateResult{}, nil
	}

	var metrics [][]float64
	start := time.Now()
	for s.steps.Get(counter.Update) < target {
		s.steps.Add(counter.Update, 1)

		batch, err := s.buffer.Sample()
		if err != nil {
			return UpdateResult{}, fmt.Errorf("sampling batch: %w", err)
		}
		m, err := s.algo.Update(batch)
		if err != nil {
			return UpdateResult{}, err
		}
		metrics = append(metrics, m)

		// Keep the learning-rate schedule caught up with exploration.
		for s.algo.ScheduleSteps() < s.steps.Snapshot().Exploration {
			s.algo.AdvanceSchedule()
		}
	}

	s.logger.Info("update finished",
		slog.Int64("steps_total", s.steps.Get(counter.Update)),
		slog.Int("steps", len(metrics)),
		slog.Float64("steps_per_second", float64(len(metrics))/time.Since(start).Seconds()),
	)

	return UpdateResult{Metrics: metrics}, nil
}

func (s *Single) ExploreAndUpdate(ctx context.Context, spec ExploreUpdateSpec) (PhaseResult, UpdateResult, error) {
	phase, err := s.Explore(ctx, spec.Explore)
	if err != nil {
		return PhaseResult{}, UpdateResult{}, err
	}
	update, err := s.Update(ctx, spec.Update)

	return phase, update, err
}

// playEpisode runs one rollout from reset to termination or truncation.
func (s *Single) playEpisode(e env.Env, action func([]float64) []float64, seed *int64, opts env.ResetOptions) (*replay.Episode, int, error) {
	s.algo.Reset()

	obs, err := e.Reset(seed, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("resetting environment: %w", err)
	}
	flat := obs.Flatten()
	episode := replay.NewEpisode(obs, flat)

	var steps int
	terminal, truncated := false, false
	for !terminal && !truncated {
		chosen := action(flat)

		for i := 0; i < s.consecutiveActionSteps; i++ {
			envAction := chosen
			if s.normalizeActions {
				envAction = denormalize(chosen, e.ActionSpace())
			}

			var (
				reward float64
				info   env.Info
			)
			obs, reward, terminal, truncated, info, err = e.Step(envAction)
			if err != nil {
				return nil, steps, fmt.Errorf("stepping environment: %w", err)
			}
			flat = obs.Flatten()
			steps++
			e.Render()
			episode.Append(replay.Transition{
				Obs:       obs,
				FlatObs:   flat,
				Action:    chosen,
				Reward:    reward,
				Terminal:  terminal,
				Truncated: truncated,
				Info:      info,
			})
			if terminal || truncated {
				break
			}
		}
	}
	episode.CloseEpisode()

	return episode, steps, nil
}

// randomAction samples uniformly between the given bounds, falling back to
// the environment's native bounds, and normalizes into [-1, 1] when the
// policy acts in the normalized range.
func (s *Single) randomAction(low, high []float64) func([]float64) []float64 {
	return func(_ []float64) []float64 {
		space := s.envTrain.ActionSpace()
		actionLow, actionHigh := space.Low, space.High
		if low != nil {
			actionLow = low
		}
		if high != nil {
			actionHigh = high
		}

		action := make([]float64, len(actionLow))
		for i := range action {
			action[i] = actionLow[i] + s.rng.Float64()*(actionHigh[i]-actionLow[i])
			if s.normalizeActions {
				action[i] = 2*(action[i]-space.Low[i])/(space.High[i]-space.Low[i]) - 1
			}
		}

		return action
	}
}

// denormalize rescales a [-1, 1] action into the environment's bounds.
func denormalize(action []float64, space env.Box) []float64 {
	out := make([]float64, len(action))
	for i := range action {
		out[i] = (action[i]+1)/2*(space.High[i]-space.Low[i]) + space.Low[i]
	}

	return out
}

func (s *Single) StepCounter() counter.StepSnapshot {
	return s.steps.Snapshot()
}

func (s *Single) EpisodeCounter() counter.EpisodeSnapshot {
	return s.episodes.Snapshot()
}

// Counters exposes the live counters so a worker can mirror them to its
// supervisor-side handle.
func (s *Single) Counters() (*counter.StepCounter, *counter.EpisodeCounter) {
	return s.steps, s.episodes
}

// Algo exposes the owned algorithm for the model-state protocol.
func (s *Single) Algo() algo.Algo {
	return s.algo
}

// ModelState snapshots the full model.
func (s *Single) ModelState() (algo.ModelState, error) {
	return s.algo.StateOf(algo.AllComponents)
}

// Close releases the environments and the replay buffer.
func (s *Single) Close() error {
	err := s.envTrain.Close()
	if s.envEval != s.envTrain {
		if e := s.envEval.Close(); err == nil {
			err = e
		}
	}
	if e := s.buffer.Close(); err == nil {
		err = e
	}
	if e := s.algo.Close(); err == nil {
		err = e
	}

	return err
}
