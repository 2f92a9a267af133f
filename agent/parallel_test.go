package agent_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env/cartpole"
	pkgerrors "github.com/treadmill-rl/treadmill/pkg/errors"
	"github.com/treadmill-rl/treadmill/replay"
)

func newParallel(t *testing.T, workers int) *agent.Parallel {
	t.Helper()

	p, err := agent.NewParallel(agent.ParallelConfig{
		Workers:       workers,
		Algo:          algo.NewGaussian(algo.GaussianConfig{ObsDim: 4, ActDim: 1, Seed: 9}),
		TrainEnvs:     cartpole.Factory(9, 200),
		Buffer:        replay.NewVanillaBuffer(10_000, 4, 9),
		Seed:          9,
		PollInterval:  10 * time.Millisecond,
		JoinTimeout:   5 * time.Second,
		ResultTimeout: 30 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p
}

func TestNewParallelRequiresWorkers(t *testing.T) {
	t.Parallel()

	_, err := agent.NewParallel(agent.ParallelConfig{Workers: 0})
	assert.ErrorIs(t, err, pkgerrors.ErrNoWorkers)
}

func TestParallelHeatupSplitsEpisodeBudget(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 2)

	res, err := p.Heatup(context.Background(), agent.HeatupSpec{
		Budget: agent.Budget{Episodes: 10},
	})
	require.NoError(t, err)

	assert.Len(t, res.Episodes, 10, "an even split leaves nothing behind")
	assert.Equal(t, int64(10), p.EpisodeCounter().Heatup)

	for _, h := range p.Workers() {
		assert.Equal(t, int64(5), h.EpisodeCounter().Heatup, "worker %s", h.Name())
	}
}

func TestParallelEvaluateSplitsSeeds(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 2)

	res, err := p.Evaluate(context.Background(), agent.EvaluateSpec{
		Seeds: []int64{1, 2, 3},
	})
	require.NoError(t, err)

	assert.Len(t, res.Episodes, 3, "exactly one episode per seed across the pool")
	assert.Equal(t, int64(3), p.EpisodeCounter().Evaluation)
}

func TestParallelUpdateSynchronizesReplicas(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 2)

	_, err := p.Heatup(context.Background(), agent.HeatupSpec{
		Budget: agent.Budget{Steps: 100},
	})
	require.NoError(t, err)

	res, err := p.Update(context.Background(), agent.UpdateSpec{Steps: 4})
	require.NoError(t, err)
	assert.Len(t, res.Metrics, 4, "two optimization steps per worker")
	assert.Equal(t, int64(4), p.StepCounter().Update)

	// After the gather→blend→scatter round every replica holds the same
	// parameters as the authoritative copy.
	want, err := p.ModelState()
	require.NoError(t, err)
	for _, h := range p.Workers() {
		got, err := h.GetModelState(algo.AllComponents)
		require.NoError(t, err)
		assert.Equal(t, want["policy/network"], got["policy/network"], "worker %s", h.Name())
	}
}

func TestParallelExploreAndUpdate(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 2)

	_, err := p.Heatup(context.Background(), agent.HeatupSpec{
		Budget: agent.Budget{Steps: 100},
	})
	require.NoError(t, err)

	phase, update, err := p.ExploreAndUpdate(context.Background(), agent.ExploreUpdateSpec{
		Explore: agent.ExploreSpec{Budget: agent.Budget{Episodes: 4}},
		Update:  agent.UpdateSpec{Steps: 2},
	})
	require.NoError(t, err)

	assert.Len(t, phase.Episodes, 4)
	assert.Len(t, update.Metrics, 2)
	assert.Equal(t, int64(4), p.EpisodeCounter().Exploration)
}

func TestParallelUpdatePropagatesWorkerError(t *testing.T) {
	t.Parallel()

	p, err := agent.NewParallel(agent.ParallelConfig{
		Workers:       2,
		Algo:          &brokenUpdateAlgo{Algo: algo.NewGaussian(algo.GaussianConfig{ObsDim: 4, ActDim: 1, Seed: 9})},
		TrainEnvs:     cartpole.Factory(9, 200),
		Buffer:        replay.NewVanillaBuffer(10_000, 4, 9),
		Seed:          9,
		PollInterval:  10 * time.Millisecond,
		JoinTimeout:   5 * time.Second,
		ResultTimeout: 30 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	_, err = p.Heatup(context.Background(), agent.HeatupSpec{
		Budget: agent.Budget{Steps: 100},
	})
	require.NoError(t, err)

	_, err = p.Update(context.Background(), agent.UpdateSpec{Steps: 2})
	assert.ErrorIs(t, err, pkgerrors.ErrUpdateFailed)
}

func TestParallelMergesCounters(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 3)

	_, err := p.Heatup(context.Background(), agent.HeatupSpec{
		Budget: agent.Budget{Episodes: 6},
	})
	require.NoError(t, err)

	var total int64
	for _, h := range p.Workers() {
		total += h.EpisodeCounter().Heatup
	}
	assert.Equal(t, total, p.EpisodeCounter().Heatup)
	assert.Equal(t, int64(6), total)
}

func TestParallelCloseReleasesBufferTemplate(t *testing.T) {
	t.Parallel()

	buffer := replay.NewVanillaBuffer(16, 4, 9)
	p, err := agent.NewParallel(agent.ParallelConfig{
		Workers:       1,
		Algo:          algo.NewGaussian(algo.GaussianConfig{ObsDim: 4, ActDim: 1, Seed: 9}),
		TrainEnvs:     cartpole.Factory(9, 200),
		Buffer:        buffer,
		Seed:          9,
		PollInterval:  10 * time.Millisecond,
		JoinTimeout:   5 * time.Second,
		ResultTimeout: 30 * time.Second,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	require.NoError(t, p.Close())

	// The pool owns the template it copied the worker shards from.
	_, err = buffer.Sample()
	assert.ErrorIs(t, err, pkgerrors.ErrBufferClosed)
}

func TestParallelCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newParallel(t, 2)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	for _, h := range p.Workers() {
		assert.False(t, h.IsAlive())
	}
}
