// Package middleware provides logging, metrics and tracing decorators over
// the agent interface.
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/pkg/counter"
)

var _ agent.Agent = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	next   agent.Agent
}

// Logging decorates an agent with per-operation structured logging.
func Logging(logger *slog.Logger, next agent.Agent) agent.Agent {
	return &loggingMiddleware{
		logger: logger,
		next:   next,
	}
}

func (lm *loggingMiddleware) Heatup(ctx context.Context, spec agent.HeatupSpec) (res agent.PhaseResult, err error) {
	defer func(begin time.Time) {
		lm.phaseLog("heatup", res, err, begin)
	}(time.Now())

	return lm.next.Heatup(ctx, spec)
}

func (lm *loggingMiddleware) Explore(ctx context.Context, spec agent.ExploreSpec) (res agent.PhaseResult, err error) {
	defer func(begin time.Time) {
		lm.phaseLog("explore", res, err, begin)
	}(time.Now())

	return lm.next.Explore(ctx, spec)
}

func (lm *loggingMiddleware) Evaluate(ctx context.Context, spec agent.EvaluateSpec) (res agent.PhaseResult, err error) {
	defer func(begin time.Time) {
		lm.phaseLog("evaluate", res, err, begin)
	}(time.Now())

	return lm.next.Evaluate(ctx, spec)
}

func (lm *loggingMiddleware) Update(ctx context.Context, spec agent.UpdateSpec) (res agent.UpdateResult, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("steps", len(res.Metrics)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Update failed", args...)

			return
		}
		lm.logger.Info("Update completed successfully", args...)
	}(time.Now())

	return lm.next.Update(ctx, spec)
}

func (lm *loggingMiddleware) ExploreAndUpdate(ctx context.Context, spec agent.ExploreUpdateSpec) (res agent.PhaseResult, upd agent.UpdateResult, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Float64("episodes", res.Stats.Episodes),
			slog.Float64("reward", res.Stats.MeanReward),
			slog.Int("update_steps", len(upd.Metrics)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Explore-and-update failed", args...)

			return
		}
		lm.logger.Info("Explore-and-update completed successfully", args...)
	}(time.Now())

	return lm.next.ExploreAndUpdate(ctx, spec)
}

func (lm *loggingMiddleware) phaseLog(op string, res agent.PhaseResult, err error, begin time.Time) {
	args := []any{
		slog.String("duration", time.Since(begin).String()),
		slog.Group("stats",
			slog.Float64("episodes", res.Stats.Episodes),
			slog.Float64("steps", res.Stats.Steps),
			slog.Float64("reward", res.Stats.MeanReward),
			slog.Float64("success_rate", res.Stats.SuccessRate),
		),
	}
	if err != nil {
		args = append(args, slog.Any("error", err))
		lm.logger.Warn(op+" failed", args...)

		return
	}
	lm.logger.Info(op+" completed successfully", args...)
}

func (lm *loggingMiddleware) StepCounter() counter.StepSnapshot {
	return lm.next.StepCounter()
}

func (lm *loggingMiddleware) EpisodeCounter() counter.EpisodeSnapshot {
	return lm.next.EpisodeCounter()
}

func (lm *loggingMiddleware) Close() (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Close failed", args...)

			return
		}
		lm.logger.Info("Close completed successfully", args...)
	}(time.Now())

	return lm.next.Close()
}
