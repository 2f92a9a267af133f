package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/pkg/counter"
)

var _ agent.Agent = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	next    agent.Agent
}

// Metrics decorates an agent with operation counters and latency histograms.
func Metrics(counter metrics.Counter, latency metrics.Histogram, next agent.Agent) agent.Agent {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		next:    next,
	}
}

func (mm *metricsMiddleware) Heatup(ctx context.Context, spec agent.HeatupSpec) (agent.PhaseResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "heatup").Add(1)
		mm.latency.With("method", "heatup").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.Heatup(ctx, spec)
}

func (mm *metricsMiddleware) Explore(ctx context.Context, spec agent.ExploreSpec) (agent.PhaseResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "explore").Add(1)
		mm.latency.With("method", "explore").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.Explore(ctx, spec)
}

func (mm *metricsMiddleware) Evaluate(ctx context.Context, spec agent.EvaluateSpec) (agent.PhaseResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "evaluate").Add(1)
		mm.latency.With("method", "evaluate").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.Evaluate(ctx, spec)
}

func (mm *metricsMiddleware) Update(ctx context.Context, spec agent.UpdateSpec) (agent.UpdateResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "update").Add(1)
		mm.latency.With("method", "update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.Update(ctx, spec)
}

func (mm *metricsMiddleware) ExploreAndUpdate(ctx context.Context, spec agent.ExploreUpdateSpec) (agent.PhaseResult, agent.UpdateResult, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "explore_and_update").Add(1)
		mm.latency.With("method", "explore_and_update").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.ExploreAndUpdate(ctx, spec)
}

func (mm *metricsMiddleware) StepCounter() counter.StepSnapshot {
	return mm.next.StepCounter()
}

func (mm *metricsMiddleware) EpisodeCounter() counter.EpisodeSnapshot {
	return mm.next.EpisodeCounter()
}

func (mm *metricsMiddleware) Close() error {
	defer func(begin time.Time) {
		mm.counter.With("method", "close").Add(1)
		mm.latency.With("method", "close").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.next.Close()
}
