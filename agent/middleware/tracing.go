package middleware

import (
	"context"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ agent.Agent = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	next   agent.Agent
}

// Tracing decorates an agent with an otel span per operation.
func Tracing(tracer trace.Tracer, next agent.Agent) agent.Agent {
	return &tracing{tracer, next}
}

func (tm *tracing) Heatup(ctx context.Context, spec agent.HeatupSpec) (agent.PhaseResult, error) {
	ctx, span := tm.tracer.Start(ctx, "heatup", trace.WithAttributes(
		attribute.Int64("budget.steps", spec.Budget.Steps),
		attribute.Int64("budget.episodes", spec.Budget.Episodes),
	))
	defer span.End()

	return tm.next.Heatup(ctx, spec)
}

func (tm *tracing) Explore(ctx context.Context, spec agent.ExploreSpec) (agent.PhaseResult, error) {
	ctx, span := tm.tracer.Start(ctx, "explore", trace.WithAttributes(
		attribute.Int64("budget.steps", spec.Budget.Steps),
		attribute.Int64("budget.episodes", spec.Budget.Episodes),
	))
	defer span.End()

	return tm.next.Explore(ctx, spec)
}

func (tm *tracing) Evaluate(ctx context.Context, spec agent.EvaluateSpec) (agent.PhaseResult, error) {
	ctx, span := tm.tracer.Start(ctx, "evaluate", trace.WithAttributes(
		attribute.Int64("budget.steps", spec.Budget.Steps),
		attribute.Int64("budget.episodes", spec.Budget.Episodes),
		attribute.Int("seeds", len(spec.Seeds)),
	))
	defer span.End()

	return tm.next.Evaluate(ctx, spec)
}

func (tm *tracing) Update(ctx context.Context, spec agent.UpdateSpec) (agent.UpdateResult, error) {
	ctx, span := tm.tracer.Start(ctx, "update", trace.WithAttributes(
		attribute.Int64("steps", spec.Steps),
		attribute.Int64("step_limit", spec.StepLimit),
	))
	defer span.End()

	return tm.next.Update(ctx, spec)
}

func (tm *tracing) ExploreAndUpdate(ctx context.Context, spec agent.ExploreUpdateSpec) (agent.PhaseResult, agent.UpdateResult, error) {
	ctx, span := tm.tracer.Start(ctx, "explore-and-update", trace.WithAttributes(
		attribute.Int64("budget.steps", spec.Explore.Budget.Steps),
		attribute.Int64("budget.episodes", spec.Explore.Budget.Episodes),
		attribute.Int64("update.steps", spec.Update.Steps),
	))
	defer span.End()

	return tm.next.ExploreAndUpdate(ctx, spec)
}

func (tm *tracing) StepCounter() counter.StepSnapshot {
	return tm.next.StepCounter()
}

func (tm *tracing) EpisodeCounter() counter.EpisodeSnapshot {
	return tm.next.EpisodeCounter()
}

func (tm *tracing) Close() error {
	return tm.next.Close()
}
