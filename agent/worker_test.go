package agent_test

import (
	"fmt"
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

const resultWait = 10 * time.Second

// brokenUpdateAlgo fails every optimization step; everything else behaves
// like the wrapped algorithm.
type brokenUpdateAlgo struct {
	algo.Algo
}

func (b *brokenUpdateAlgo) Update(replay.Batch) ([]float64, error) {
	return nil, fmt.Errorf("%w: injected failure", pkgerrors.ErrUpdateFailed)
}

func (b *brokenUpdateAlgo) Copy() algo.Algo {
	return &brokenUpdateAlgo{Algo: b.Algo.Copy()}
}

func spawnWorker(t *testing.T, model algo.Algo) *agent.Handle {
	t.Helper()

	h := agent.SpawnWorker(agent.WorkerConfig{
		Name:         "test-worker",
		Algo:         model,
		EnvTrain:     cartpole.New(5, 200),
		EnvEval:      cartpole.New(6, 200),
		Buffer:       replay.NewVanillaBuffer(10_000, 4, 5),
		Seed:         5,
		PollInterval: 10 * time.Millisecond,
		JoinTimeout:  5 * time.Second,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(h.Close)

	return h
}

func newModel() algo.Algo {
	return algo.NewGaussian(algo.GaussianConfig{ObsDim: 4, ActDim: 1, Seed: 5})
}

func TestWorkerRunsPhases(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())

	h.Heatup(agent.HeatupSpec{Budget: agent.Budget{Episodes: 2}})
	r, err := h.GetResult(resultWait)
	require.NoError(t, err)
	require.NoError(t, r.Err)
	assert.Len(t, r.Episodes, 2)
	assert.Equal(t, int64(2), h.EpisodeCounter().Heatup)

	h.Explore(agent.ExploreSpec{Budget: agent.Budget{Episodes: 1}})
	r, err = h.GetResult(resultWait)
	require.NoError(t, err)
	require.NoError(t, r.Err)
	assert.Len(t, r.Episodes, 1)

	h.Update(agent.UpdateSpec{Steps: 3})
	r, err = h.GetResult(resultWait)
	require.NoError(t, err)
	require.NoError(t, r.Err)
	assert.Len(t, r.Metrics, 3)
	assert.Equal(t, int64(3), h.StepCounter().Update)

	assert.True(t, h.IsAlive())
}

func TestWorkerGetResultTimeout(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())

	_, err := h.GetResult(50 * time.Millisecond)
	assert.ErrorIs(t, err, pkgerrors.ErrTimeout)
	assert.True(t, h.IsAlive(), "a timed-out wait does not kill the worker")
}

func TestWorkerModelStateRoundTrip(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())

	// Train the replica a little so its state is distinguishable.
	h.Heatup(agent.HeatupSpec{Budget: agent.Budget{Episodes: 2}})
	_, err := h.GetResult(resultWait)
	require.NoError(t, err)
	h.Update(agent.UpdateSpec{Steps: 2})
	_, err = h.GetResult(resultWait)
	require.NoError(t, err)

	state, err := h.GetModelState(algo.AllComponents)
	require.NoError(t, err)
	require.Contains(t, state, "policy/network")

	// Install and re-read: the worker must hold the exact same bytes.
	h.SetModelState(algo.AllComponents, state)
	again, err := h.GetModelState(algo.AllComponents)
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestWorkerFatalUpdateError(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, &brokenUpdateAlgo{Algo: newModel()})

	// Fill the replay buffer so the update actually runs.
	h.Heatup(agent.HeatupSpec{Budget: agent.Budget{Episodes: 2}})
	r, err := h.GetResult(resultWait)
	require.NoError(t, err)
	require.NoError(t, r.Err)

	h.Update(agent.UpdateSpec{Steps: 1})
	r, err = h.GetResult(resultWait)
	require.NoError(t, err, "the error travels inside the result, exactly once")
	require.ErrorIs(t, r.Err, pkgerrors.ErrUpdateFailed)
	assert.True(t, r.Failed())

	// The worker shut itself down: the next wait observes the closed
	// result channel and the handle reports the worker gone.
	_, err = h.GetResult(resultWait)
	assert.ErrorIs(t, err, pkgerrors.ErrWorkerGone)
	assert.False(t, h.IsAlive())
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())

	h.Heatup(agent.HeatupSpec{Budget: agent.Budget{Episodes: 1}})
	_, err := h.GetResult(resultWait)
	require.NoError(t, err)

	h.Close()
	h.Close()
	assert.False(t, h.IsAlive())
}

func TestWorkerCloseWhileIdle(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())
	require.True(t, h.IsAlive())

	h.Close()
	assert.False(t, h.IsAlive())
}

func TestWorkerResultsSurviveClose(t *testing.T) {
	t.Parallel()

	h := spawnWorker(t, newModel())

	h.Heatup(agent.HeatupSpec{Budget: agent.Budget{Episodes: 1}})
	// Give the worker time to finish the phase and buffer the result.
	time.Sleep(200 * time.Millisecond)
	h.Close()

	r, err := h.GetResult(resultWait)
	require.NoError(t, err, "buffered results stay readable after termination")
	require.NoError(t, r.Err)
	assert.Len(t, r.Episodes, 1)
}
