// Package checkpoint persists model state together with the training
// counters it was captured at, so a run can be resumed or its best policy
// replayed later.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	pkgerrors "github.com/treadmill-rl/treadmill/pkg/errors"
)

// Checkpoint is the on-disk snapshot of a training run. Model blobs are
// opaque to this package and round-trip byte for byte.
type Checkpoint struct {
	SavedAt    time.Time               `json:"saved_at"`
	Steps      counter.StepSnapshot    `json:"steps"`
	Episodes   counter.EpisodeSnapshot `json:"episodes"`
	EvalReward float64                 `json:"eval_reward"`
	Model      algo.ModelState         `json:"model"`
}

// Save writes the checkpoint to path atomically, creating parent
// directories as needed.
func Save(path string, cp Checkpoint) error {
	if len(cp.Model) == 0 {
		return fmt.Errorf("checkpoint %s: %w", path, pkgerrors.ErrInvalidData)
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	return os.Rename(tmp, path)
}

// Load reads a checkpoint previously written by Save.
func Load(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(cp.Model) == 0 {
		return Checkpoint{}, fmt.Errorf("checkpoint %s: %w", path, pkgerrors.ErrInvalidData)
	}

	return cp, nil
}
