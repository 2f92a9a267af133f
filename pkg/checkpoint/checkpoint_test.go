package checkpoint_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/pkg/checkpoint"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	pkgerrors "github.com/treadmill-rl/treadmill/pkg/errors"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs", "best.json")
	cp := checkpoint.Checkpoint{
		Steps:      counter.StepSnapshot{Heatup: 10, Exploration: 500, Update: 480},
		Episodes:   counter.EpisodeSnapshot{Heatup: 2, Exploration: 14},
		EvalReward: 123.5,
		Model: algo.ModelState{
			"policy/network": {0x00, 0x01, 0xFF},
			"q1/optimizer":   {0x42},
		},
	}

	require.NoError(t, checkpoint.Save(path, cp))

	got, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cp.Steps, got.Steps)
	assert.Equal(t, cp.Episodes, got.Episodes)
	assert.Equal(t, cp.EvalReward, got.EvalReward)
	assert.Equal(t, cp.Model, got.Model, "model blobs round-trip byte for byte")
	assert.False(t, got.SavedAt.IsZero())
}

func TestSaveRejectsEmptyModel(t *testing.T) {
	t.Parallel()

	err := checkpoint.Save(filepath.Join(t.TempDir(), "best.json"), checkpoint.Checkpoint{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidData)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "best.json")
	first := checkpoint.Checkpoint{EvalReward: 1, Model: algo.ModelState{"policy/network": {1}}}
	second := checkpoint.Checkpoint{EvalReward: 2, Model: algo.ModelState{"policy/network": {2}}}

	require.NoError(t, checkpoint.Save(path, first))
	require.NoError(t, checkpoint.Save(path, second))

	got, err := checkpoint.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.EvalReward)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := checkpoint.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
