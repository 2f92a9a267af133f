package middleware_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/go-kit/kit/metrics/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/agent/middleware"
	"github.com/treadmill-rl/treadmill/pkg/counter"
)

type recordingAgent struct {
	calls []string
}

func (r *recordingAgent) Heatup(context.Context, agent.HeatupSpec) (agent.PhaseResult, error) {
	r.calls = append(r.calls, "heatup")

	return agent.PhaseResult{Stats: agent.PhaseStats{Episodes: 2}}, nil
}

func (r *recordingAgent) Explore(context.Context, agent.ExploreSpec) (agent.PhaseResult, error) {
	r.calls = append(r.calls, "explore")

	return agent.PhaseResult{}, nil
}

func (r *recordingAgent) Evaluate(context.Context, agent.EvaluateSpec) (agent.PhaseResult, error) {
	r.calls = append(r.calls, "evaluate")

	return agent.PhaseResult{}, nil
}

func (r *recordingAgent) Update(context.Context, agent.UpdateSpec) (agent.UpdateResult, error) {
	r.calls = append(r.calls, "update")

	return agent.UpdateResult{Metrics: [][]float64{{1, 2, 3}}}, nil
}

func (r *recordingAgent) ExploreAndUpdate(context.Context, agent.ExploreUpdateSpec) (agent.PhaseResult, agent.UpdateResult, error) {
	r.calls = append(r.calls, "explore-and-update")

	return agent.PhaseResult{}, agent.UpdateResult{}, nil
}

func (r *recordingAgent) StepCounter() counter.StepSnapshot {
	return counter.StepSnapshot{Exploration: 7}
}

func (r *recordingAgent) EpisodeCounter() counter.EpisodeSnapshot {
	return counter.EpisodeSnapshot{Exploration: 1}
}

func (r *recordingAgent) Close() error {
	r.calls = append(r.calls, "close")

	return nil
}

func exerciseAgent(t *testing.T, ag agent.Agent) {
	t.Helper()

	ctx := context.Background()

	res, err := ag.Heatup(ctx, agent.HeatupSpec{})
	require.NoError(t, err)
	assert.Equal(t, float64(2), res.Stats.Episodes)

	_, err = ag.Explore(ctx, agent.ExploreSpec{})
	require.NoError(t, err)
	_, err = ag.Evaluate(ctx, agent.EvaluateSpec{})
	require.NoError(t, err)

	upd, err := ag.Update(ctx, agent.UpdateSpec{})
	require.NoError(t, err)
	assert.Len(t, upd.Metrics, 1)

	_, _, err = ag.ExploreAndUpdate(ctx, agent.ExploreUpdateSpec{})
	require.NoError(t, err)

	assert.Equal(t, int64(7), ag.StepCounter().Exploration)
	assert.Equal(t, int64(1), ag.EpisodeCounter().Exploration)
	require.NoError(t, ag.Close())
}

func TestMiddlewaresDelegate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		wrap func(agent.Agent) agent.Agent
	}{
		{
			name: "logging",
			wrap: func(next agent.Agent) agent.Agent {
				return middleware.Logging(slog.New(slog.NewTextHandler(io.Discard, nil)), next)
			},
		},
		{
			name: "metrics",
			wrap: func(next agent.Agent) agent.Agent {
				return middleware.Metrics(discard.NewCounter(), discard.NewHistogram(), next)
			},
		},
		{
			name: "tracing",
			wrap: func(next agent.Agent) agent.Agent {
				return middleware.Tracing(noop.NewTracerProvider().Tracer("test"), next)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &recordingAgent{}
			exerciseAgent(t, tt.wrap(rec))

			assert.Equal(t,
				[]string{"heatup", "explore", "evaluate", "update", "explore-and-update", "close"},
				rec.calls)
		})
	}
}
