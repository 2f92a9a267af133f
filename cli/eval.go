package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env/cartpole"
	"github.com/treadmill-rl/treadmill/pkg/checkpoint"
	"github.com/treadmill-rl/treadmill/replay"
)

func NewEvalCmd() *cobra.Command {
	var (
		checkpointPath string
		episodes       int64
		seed           int64
		maxSteps       int
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a checkpointed policy",
		Long:  `Replay a saved policy deterministically and report episode statistics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd, checkpointPath, episodes, seed, maxSteps)
		},
	}
	cmd.Flags().StringVarP(&checkpointPath, "checkpoint", "p", "checkpoints/best.json", "checkpoint file")
	cmd.Flags().Int64VarP(&episodes, "episodes", "n", 10, "episodes to play")
	cmd.Flags().Int64VarP(&seed, "seed", "s", 0, "environment seed")
	cmd.Flags().IntVarP(&maxSteps, "max-steps", "m", 500, "episode step cap")

	return cmd
}

func runEval(cmd *cobra.Command, checkpointPath string, episodes, seed int64, maxSteps int) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cp, err := checkpoint.Load(checkpointPath)
	if err != nil {
		return err
	}

	probe := cartpole.New(seed, maxSteps)
	obs, err := probe.Reset(nil, nil)
	if err != nil {
		return fmt.Errorf("probing environment: %w", err)
	}
	obsDim := len(obs.Flatten())
	actDim := len(probe.ActionSpace().Low)
	if err := probe.Close(); err != nil {
		return err
	}

	model := algo.NewGaussian(algo.GaussianConfig{
		ObsDim: obsDim,
		ActDim: actDim,
		Seed:   seed,
	})
	if err := model.LoadStateOf(algo.AllComponents, cp.Model); err != nil {
		return fmt.Errorf("loading model state: %w", err)
	}

	evalEnv := cartpole.New(seed, maxSteps)
	ag := agent.NewSingle(agent.SingleConfig{
		Algo:     model,
		EnvTrain: evalEnv,
		EnvEval:  evalEnv,
		Buffer:   replay.NewVanillaBuffer(1, 1, seed),
		Seed:     seed,
		Logger:   logger,
	})
	defer func() {
		if err := ag.Close(); err != nil {
			logger.Error("error closing agent", slog.Any("error", err))
		}
	}()

	res, err := ag.Evaluate(cmd.Context(), agent.EvaluateSpec{
		Budget: agent.Budget{Episodes: episodes},
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(res.Stats, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))

	return nil
}
