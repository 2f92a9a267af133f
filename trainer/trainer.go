// Package trainer drives an agent through the standard training schedule:
// heatup, interleaved exploration and update cycles, and periodic
// evaluation with best-policy checkpointing.
package trainer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/pkg/checkpoint"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/pkg/mqtt"
)

// StateProvider exposes the authoritative model copy for checkpointing.
// Both local and pooled agents satisfy it.
type StateProvider interface {
	ModelState() (algo.ModelState, error)
}

// TrainerConfig assembles one training run.
type TrainerConfig struct {
	Agent agent.Agent
	// States may be nil; checkpointing is then skipped.
	States StateProvider
	Loop   LoopConfig

	RunID         string
	CheckpointDir string
	// PubSub may be nil; progress is then only logged.
	PubSub mqtt.PubSub
	Logger *slog.Logger
}

// RunResult summarizes a finished run.
type RunResult struct {
	BestEvalReward float64
	Evaluations    int
	Steps          counter.StepSnapshot
	Episodes       counter.EpisodeSnapshot
	Elapsed        time.Duration
}

// Trainer owns the outer loop; the agent owns everything below it.
type Trainer struct {
	agent  agent.Agent
	states StateProvider
	loop   LoopConfig

	runID         string
	checkpointDir string
	pubsub        mqtt.PubSub
	logger        *slog.Logger

	bestReward float64
	nextEval   int64
	evals      int
	stop       atomic.Bool
}

func New(cfg TrainerConfig) *Trainer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Loop.ExploreStepsPerCycle <= 0 {
		cfg.Loop.ExploreStepsPerCycle = 100
	}
	if cfg.Loop.UpdatesPerExploreStep <= 0 {
		cfg.Loop.UpdatesPerExploreStep = 1
	}
	if cfg.Loop.EvalEpisodes <= 0 {
		cfg.Loop.EvalEpisodes = 10
	}

	return &Trainer{
		agent:         cfg.Agent,
		states:        cfg.States,
		loop:          cfg.Loop,
		runID:         cfg.RunID,
		checkpointDir: cfg.CheckpointDir,
		pubsub:        cfg.PubSub,
		logger:        cfg.Logger,
		bestReward:    math.Inf(-1),
		nextEval:      cfg.Loop.StepsBetweenEval,
	}
}

// Run executes the schedule until the exploration-step budget is spent or
// the context is cancelled. The agent is not closed; that stays with the
// caller.
func (t *Trainer) Run(ctx context.Context) (RunResult, error) {
	begin := time.Now()

	if t.pubsub != nil {
		topic := t.topic("control")
		if err := t.pubsub.Subscribe(ctx, topic, t.handleControl); err != nil {
			return t.result(begin), fmt.Errorf("subscribing to control topic: %w", err)
		}
		defer func() {
			if err := t.pubsub.Unsubscribe(context.Background(), topic); err != nil {
				t.logger.Warn("Failed to unsubscribe from control topic",
					slog.String("topic", topic), slog.Any("error", err))
			}
		}()
	}

	if t.loop.HeatupSteps > 0 {
		t.logger.Info("Heatup starting", slog.Int64("steps", t.loop.HeatupSteps))
		if _, err := t.agent.Heatup(ctx, agent.HeatupSpec{
			Budget: agent.Budget{StepLimit: t.loop.HeatupSteps},
		}); err != nil {
			return t.result(begin), fmt.Errorf("heatup: %w", err)
		}
	}

	for !t.stop.Load() && t.agent.StepCounter().Exploration < t.loop.ExplorationSteps {
		if err := ctx.Err(); err != nil {
			return t.result(begin), err
		}

		projected := t.agent.StepCounter().Exploration + t.loop.ExploreStepsPerCycle
		if projected > t.loop.ExplorationSteps {
			projected = t.loop.ExplorationSteps
		}
		updateTarget := int64(float64(projected) * t.loop.UpdatesPerExploreStep)

		phase, upd, err := t.agent.ExploreAndUpdate(ctx, agent.ExploreUpdateSpec{
			Explore: agent.ExploreSpec{Budget: agent.Budget{StepLimit: projected}},
			Update:  agent.UpdateSpec{StepLimit: updateTarget},
		})
		if err != nil {
			return t.result(begin), fmt.Errorf("explore and update: %w", err)
		}

		steps := t.agent.StepCounter()
		t.publish(ctx, "progress", map[string]any{
			"exploration_steps": steps.Exploration,
			"update_steps":      steps.Update,
			"mean_reward":       phase.Stats.MeanReward,
			"update_rounds":     len(upd.Metrics),
		})

		if t.loop.StepsBetweenEval > 0 && steps.Exploration >= t.nextEval {
			t.nextEval += t.loop.StepsBetweenEval
			if err := t.evaluate(ctx); err != nil {
				return t.result(begin), err
			}
		}
	}

	// Closing evaluation so the run always reports a final score.
	if err := t.evaluate(ctx); err != nil {
		return t.result(begin), err
	}

	res := t.result(begin)
	t.logger.Info("Training run finished",
		slog.Float64("best_eval_reward", res.BestEvalReward),
		slog.Int("evaluations", res.Evaluations),
		slog.Int64("exploration_steps", res.Steps.Exploration),
		slog.Int64("update_steps", res.Steps.Update),
		slog.String("elapsed", res.Elapsed.String()),
	)

	return res, nil
}

func (t *Trainer) evaluate(ctx context.Context) error {
	res, err := t.agent.Evaluate(ctx, agent.EvaluateSpec{
		Budget: agent.Budget{Episodes: t.loop.EvalEpisodes},
	})
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	t.evals++

	reward := res.Stats.MeanReward
	t.logger.Info("Evaluation finished",
		slog.Float64("mean_reward", reward),
		slog.Float64("success_rate", res.Stats.SuccessRate),
		slog.Int64("exploration_steps", t.agent.StepCounter().Exploration),
	)
	t.publish(ctx, "evaluation", map[string]any{
		"mean_reward":  reward,
		"success_rate": res.Stats.SuccessRate,
	})

	if reward <= t.bestReward {
		return nil
	}
	t.bestReward = reward

	return t.checkpoint(reward)
}

func (t *Trainer) checkpoint(reward float64) error {
	if t.states == nil || t.checkpointDir == "" {
		return nil
	}

	state, err := t.states.ModelState()
	if err != nil {
		return fmt.Errorf("capture model state: %w", err)
	}

	path := filepath.Join(t.checkpointDir, "best.json")
	if err := checkpoint.Save(path, checkpoint.Checkpoint{
		Steps:      t.agent.StepCounter(),
		Episodes:   t.agent.EpisodeCounter(),
		EvalReward: reward,
		Model:      state,
	}); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	t.logger.Info("Checkpoint saved", slog.String("path", path), slog.Float64("eval_reward", reward))

	return nil
}

// handleControl reacts to run-control messages published by external
// tooling. A stop command lets the current cycle finish, then ends the run
// through the closing evaluation.
func (t *Trainer) handleControl(topic string, msg map[string]any) error {
	cmd, _ := msg["command"].(string)
	switch cmd {
	case "stop":
		t.logger.Info("Stop command received", slog.String("topic", topic))
		t.stop.Store(true)

		return nil
	default:
		return fmt.Errorf("unknown control command %q", cmd)
	}
}

func (t *Trainer) publish(ctx context.Context, kind string, msg map[string]any) {
	if t.pubsub == nil {
		return
	}

	topic := t.topic(kind)
	if err := t.pubsub.Publish(ctx, topic, msg); err != nil {
		t.logger.Warn("Failed to publish progress", slog.String("topic", topic), slog.Any("error", err))
	}
}

func (t *Trainer) topic(kind string) string {
	return fmt.Sprintf("treadmill/runs/%s/%s", t.runID, kind)
}

func (t *Trainer) result(begin time.Time) RunResult {
	return RunResult{
		BestEvalReward: t.bestReward,
		Evaluations:    t.evals,
		Steps:          t.agent.StepCounter(),
		Episodes:       t.agent.EpisodeCounter(),
		Elapsed:        time.Since(begin),
	}
}
