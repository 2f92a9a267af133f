package cartpole_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill-rl/treadmill/env/cartpole"
)

func TestResetIsSeeded(t *testing.T) {
	t.Parallel()

	e := cartpole.New(1, 100)
	seed := int64(42)

	obs1, err := e.Reset(&seed, nil)
	require.NoError(t, err)
	obs2, err := e.Reset(&seed, nil)
	require.NoError(t, err)

	assert.Equal(t, obs1.Flatten(), obs2.Flatten(), "same seed reproduces the initial state")
	assert.Len(t, obs1.Flatten(), 4)
}

func TestStepDeterminism(t *testing.T) {
	t.Parallel()

	run := func() [][]float64 {
		e := cartpole.New(1, 100)
		seed := int64(7)
		_, err := e.Reset(&seed, nil)
		require.NoError(t, err)

		var trace [][]float64
		for i := 0; i < 20; i++ {
			obs, _, terminal, truncated, _, err := e.Step([]float64{0.3})
			require.NoError(t, err)
			trace = append(trace, obs.Flatten())
			if terminal || truncated {
				break
			}
		}

		return trace
	}

	assert.Equal(t, run(), run())
}

func TestTruncationAtMaxSteps(t *testing.T) {
	t.Parallel()

	e := cartpole.New(1, 5)
	_, err := e.Reset(nil, nil)
	require.NoError(t, err)

	var truncated bool
	for i := 0; i < 5; i++ {
		var terminal bool
		_, _, terminal, truncated, _, err = e.Step([]float64{0})
		require.NoError(t, err)
		require.False(t, terminal, "near-upright pole must not fall in 5 steps")
	}
	assert.True(t, truncated)
}

func TestTerminalGivesZeroReward(t *testing.T) {
	t.Parallel()

	e := cartpole.New(1, 10_000)
	_, err := e.Reset(nil, nil)
	require.NoError(t, err)

	// Constant full force drives the pole over the angle threshold.
	for i := 0; i < 10_000; i++ {
		_, reward, terminal, truncated, _, err := e.Step([]float64{1})
		require.NoError(t, err)
		require.False(t, truncated)
		if terminal {
			assert.Zero(t, reward)

			return
		}
		assert.Equal(t, 1.0, reward)
	}
	t.Fatal("episode never terminated")
}

func TestStepErrors(t *testing.T) {
	t.Parallel()

	e := cartpole.New(1, 100)
	_, err := e.Reset(nil, nil)
	require.NoError(t, err)

	_, _, _, _, _, err = e.Step([]float64{0.1, 0.2})
	assert.Error(t, err)

	require.NoError(t, e.Close())
	_, _, _, _, _, err = e.Step([]float64{0.1})
	assert.Error(t, err)
	_, err = e.Reset(nil, nil)
	assert.Error(t, err)
}

func TestFactoryProducesIndependentInstances(t *testing.T) {
	t.Parallel()

	f := cartpole.Factory(1, 100)

	e1, err := f.Create()
	require.NoError(t, err)
	e2, err := f.Create()
	require.NoError(t, err)

	obs1, err := e1.Reset(nil, nil)
	require.NoError(t, err)
	obs2, err := e2.Reset(nil, nil)
	require.NoError(t, err)

	assert.NotEqual(t, obs1.Flatten(), obs2.Flatten(), "instances are seeded apart")
}
