package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/treadmill-rl/treadmill/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "treadmill",
		Short: "Treadmill RL trainer",
		Long:  `Treadmill trains and evaluates reinforcement-learning policies across a pool of workers.`,
	}

	rootCmd.AddCommand(cli.NewTrainCmd())
	rootCmd.AddCommand(cli.NewEvalCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
