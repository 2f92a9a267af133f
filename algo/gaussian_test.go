package algo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill-rl/treadmill/algo"
	pkgerrors "github.com/treadmill-rl/treadmill/pkg/errors"
	"github.com/treadmill-rl/treadmill/replay"
)

func newAlgo(t *testing.T) *algo.Gaussian {
	t.Helper()

	return algo.NewGaussian(algo.GaussianConfig{
		ObsDim:   2,
		ActDim:   1,
		LR:       0.01,
		LRGamma:  0.99,
		NoiseStd: 0.1,
		Seed:     7,
	})
}

func trainingBatch() replay.Batch {
	return replay.Batch{
		Obs:      [][]float64{{0.1, 0.2}, {0.3, -0.1}},
		Actions:  [][]float64{{0.5}, {-0.5}},
		Rewards:  []float64{1.0, 0.5},
		NextObs:  [][]float64{{0.2, 0.1}, {0.1, 0.0}},
		Terminal: []bool{false, true},
	}
}

func TestGaussianActions(t *testing.T) {
	t.Parallel()

	g := newAlgo(t)
	obs := []float64{0.1, -0.2}

	eval1 := g.EvalAction(obs)
	eval2 := g.EvalAction(obs)
	require.Len(t, eval1, 1)
	assert.Equal(t, eval1, eval2, "eval actions are deterministic")

	explore := g.ExplorationAction(obs)
	require.Len(t, explore, 1)
	assert.GreaterOrEqual(t, explore[0], -1.0)
	assert.LessOrEqual(t, explore[0], 1.0)
}

func TestGaussianUpdate(t *testing.T) {
	t.Parallel()

	g := newAlgo(t)

	metrics, err := g.Update(trainingBatch())
	require.NoError(t, err)
	assert.Len(t, metrics, 3)

	_, err = g.Update(replay.Batch{})
	assert.ErrorIs(t, err, pkgerrors.ErrUpdateFailed)
}

func TestGaussianStateRoundTrip(t *testing.T) {
	t.Parallel()

	src := newAlgo(t)
	for i := 0; i < 5; i++ {
		_, err := src.Update(trainingBatch())
		require.NoError(t, err)
	}
	src.AdvanceSchedule()

	state, err := src.StateOf(algo.AllComponents)
	require.NoError(t, err)
	assert.Contains(t, state, "policy/network")
	assert.Contains(t, state, "q1/optimizer")
	assert.Contains(t, state, "scheduler")

	dst := newAlgo(t)
	require.NoError(t, dst.LoadStateOf(algo.AllComponents, state))

	obs := []float64{0.4, -0.3}
	assert.Equal(t, src.EvalAction(obs), dst.EvalAction(obs), "loaded model reproduces actions exactly")
	assert.Equal(t, src.ScheduleSteps(), dst.ScheduleSteps())

	// Round-tripped state must be byte-identical.
	again, err := dst.StateOf(algo.AllComponents)
	require.NoError(t, err)
	assert.Equal(t, state, again)
}

func TestGaussianStateOfSingleComponent(t *testing.T) {
	t.Parallel()

	g := newAlgo(t)

	state, err := g.StateOf(algo.ComponentPolicy)
	require.NoError(t, err)
	assert.Contains(t, state, "policy/network")
	assert.NotContains(t, state, "q1/network")
	assert.NotContains(t, state, "scheduler")
}

func TestGaussianComponentErrors(t *testing.T) {
	t.Parallel()

	g := newAlgo(t)

	_, err := g.StateOf("")
	assert.ErrorIs(t, err, pkgerrors.ErrEmptyComponent)

	_, err = g.StateOf("value-head")
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownComponent)

	err = g.LoadStateOf("value-head", algo.ModelState{})
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownComponent)
}

func TestGaussianSoftUpdate(t *testing.T) {
	t.Parallel()

	src := newAlgo(t)
	for i := 0; i < 5; i++ {
		_, err := src.Update(trainingBatch())
		require.NoError(t, err)
	}
	state, err := src.StateOf(algo.AllComponents)
	require.NoError(t, err)

	dst := newAlgo(t)
	require.NoError(t, dst.SoftUpdate(state, 1.0))

	obs := []float64{0.4, -0.3}
	assert.Equal(t, src.EvalAction(obs), dst.EvalAction(obs), "tau=1 adopts the foreign parameters")
}

func TestGaussianSchedule(t *testing.T) {
	t.Parallel()

	g := newAlgo(t)
	require.Equal(t, int64(0), g.ScheduleSteps())

	g.AdvanceSchedule()
	g.AdvanceSchedule()
	assert.Equal(t, int64(2), g.ScheduleSteps())
}

func TestGaussianCopyIsIndependent(t *testing.T) {
	t.Parallel()

	src := newAlgo(t)
	cp := src.Copy()

	obs := []float64{0.2, 0.1}
	assert.Equal(t, src.EvalAction(obs), cp.EvalAction(obs), "copies start identical")

	_, err := cp.Update(trainingBatch())
	require.NoError(t, err)
	assert.NotEqual(t, src.EvalAction(obs), cp.EvalAction(obs), "updating the copy leaves the source untouched")
}

func TestModelStateCopy(t *testing.T) {
	t.Parallel()

	state := algo.ModelState{"policy/network": []byte{1, 2, 3}}
	cp := state.Copy()
	cp["policy/network"][0] = 9

	assert.Equal(t, byte(1), state["policy/network"][0])
}
