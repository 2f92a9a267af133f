package trainer

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the TOML experiment description consumed by the train command.
type Config struct {
	Experiment ExperimentConfig `toml:"experiment"`
	Env        EnvConfig        `toml:"env"`
	Algo       AlgoConfig       `toml:"algo"`
	Buffer     BufferConfig     `toml:"buffer"`
	Loop       LoopConfig       `toml:"loop"`
}

type ExperimentConfig struct {
	Name          string `toml:"name"`
	Workers       int    `toml:"workers"`
	Seed          int64  `toml:"seed"`
	CheckpointDir string `toml:"checkpoint_dir"`
}

type EnvConfig struct {
	MaxEpisodeSteps        int  `toml:"max_episode_steps"`
	ConsecutiveActionSteps int  `toml:"consecutive_action_steps"`
	NormalizeActions       bool `toml:"normalize_actions"`
}

type AlgoConfig struct {
	LearningRate float64 `toml:"learning_rate"`
	LRGamma      float64 `toml:"lr_gamma"`
	NoiseStd     float64 `toml:"noise_std"`
	Tau          float64 `toml:"tau"`
}

type BufferConfig struct {
	Capacity  int `toml:"capacity"`
	BatchSize int `toml:"batch_size"`
}

// LoopConfig bounds the training loop. Exploration steps are counted
// across all workers.
type LoopConfig struct {
	HeatupSteps           int64   `toml:"heatup_steps"`
	ExplorationSteps      int64   `toml:"exploration_steps"`
	ExploreStepsPerCycle  int64   `toml:"explore_steps_per_cycle"`
	UpdatesPerExploreStep float64 `toml:"updates_per_explore_step"`
	StepsBetweenEval      int64   `toml:"steps_between_eval"`
	EvalEpisodes          int64   `toml:"eval_episodes"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}
