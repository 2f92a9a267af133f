// Package cli holds the treadmill commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/treadmill-rl/treadmill/agent"
	"github.com/treadmill-rl/treadmill/agent/middleware"
	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env/cartpole"
	"github.com/treadmill-rl/treadmill/pkg/api"
	"github.com/treadmill-rl/treadmill/pkg/mqtt"
	"github.com/treadmill-rl/treadmill/pkg/prometheus"
	"github.com/treadmill-rl/treadmill/replay"
	"github.com/treadmill-rl/treadmill/trainer"
)

const (
	svcName      = "treadmill"
	pathEnv      = ".env"
	httpShutdown = 5 * time.Second
)

type envConfig struct {
	LogLevel     string        `env:"TREADMILL_LOG_LEVEL"     envDefault:"info"`
	InstanceID   string        `env:"TREADMILL_INSTANCE_ID"`
	HTTPAddress  string        `env:"TREADMILL_HTTP_ADDRESS"  envDefault:":7070"`
	MQTTAddress  string        `env:"TREADMILL_MQTT_ADDRESS"`
	MQTTQoS      uint8         `env:"TREADMILL_MQTT_QOS"      envDefault:"1"`
	MQTTTimeout  time.Duration `env:"TREADMILL_MQTT_TIMEOUT"  envDefault:"30s"`
	MQTTUsername string        `env:"TREADMILL_MQTT_USERNAME"`
	MQTTPassword string        `env:"TREADMILL_MQTT_PASSWORD"`
}

func NewTrainCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a policy",
		Long:  `Run the training schedule described by a TOML experiment file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "experiment config file")

	return cmd
}

func runTrain(ctx context.Context, configPath string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	ecfg := envConfig{}
	if err := env.Parse(&ecfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if ecfg.InstanceID == "" {
		ecfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(ecfg.LogLevel)); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := trainer.LoadConfig(configPath)
	if err != nil {
		return err
	}
	runID := cfg.Experiment.Name + "-" + ecfg.InstanceID

	ag, states, err := buildAgent(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ag.Close(); err != nil {
			logger.Error("error closing agent", slog.Any("error", err))
		}
	}()

	tracer := noop.NewTracerProvider().Tracer(svcName)
	counter, latency := prometheus.MakeMetrics(svcName, "agent")

	wrapped := middleware.Logging(logger, ag)
	wrapped = middleware.Tracing(tracer, wrapped)
	wrapped = middleware.Metrics(counter, latency, wrapped)

	var pubsub mqtt.PubSub
	if ecfg.MQTTAddress != "" {
		pubsub, err = mqtt.NewPubSub(ecfg.MQTTAddress, ecfg.MQTTQoS, runID, ecfg.MQTTUsername, ecfg.MQTTPassword, ecfg.MQTTTimeout, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt pubsub: %w", err)
		}
		defer func() {
			if err := pubsub.Disconnect(context.Background()); err != nil {
				logger.Error("error disconnecting mqtt", slog.Any("error", err))
			}
		}()
	}

	t := trainer.New(trainer.TrainerConfig{
		Agent:         wrapped,
		States:        states,
		Loop:          cfg.Loop,
		RunID:         runID,
		CheckpointDir: cfg.Experiment.CheckpointDir,
		PubSub:        pubsub,
		Logger:        logger,
	})

	hs := &http.Server{
		Addr:    ecfg.HTTPAddress,
		Handler: api.MakeHandler(wrapped, logger, runID),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("address", ecfg.HTTPAddress))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), httpShutdown)
		defer scancel()

		return hs.Shutdown(sctx)
	})

	g.Go(func() error {
		defer cancel()

		res, err := t.Run(ctx)
		if err != nil {
			return err
		}
		logger.Info("Run complete",
			slog.String("run_id", runID),
			slog.Float64("best_eval_reward", res.BestEvalReward),
		)

		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(fmt.Sprintf("%s exited with error: %s", svcName, err))

		return err
	}

	return nil
}

func buildAgent(cfg *trainer.Config, logger *slog.Logger) (agent.Agent, trainer.StateProvider, error) {
	probe := cartpole.New(cfg.Experiment.Seed, cfg.Env.MaxEpisodeSteps)
	obs, err := probe.Reset(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("probing environment: %w", err)
	}
	obsDim := len(obs.Flatten())
	actDim := len(probe.ActionSpace().Low)
	if err := probe.Close(); err != nil {
		return nil, nil, err
	}

	model := algo.NewGaussian(algo.GaussianConfig{
		ObsDim:   obsDim,
		ActDim:   actDim,
		LR:       cfg.Algo.LearningRate,
		LRGamma:  cfg.Algo.LRGamma,
		NoiseStd: cfg.Algo.NoiseStd,
		Seed:     cfg.Experiment.Seed,
	})
	buffer := replay.NewVanillaBuffer(cfg.Buffer.Capacity, cfg.Buffer.BatchSize, cfg.Experiment.Seed)
	factory := cartpole.Factory(cfg.Experiment.Seed, cfg.Env.MaxEpisodeSteps)

	if cfg.Experiment.Workers > 1 {
		p, err := agent.NewParallel(agent.ParallelConfig{
			Workers:                cfg.Experiment.Workers,
			Algo:                   model,
			TrainEnvs:              factory,
			Buffer:                 buffer,
			ConsecutiveActionSteps: cfg.Env.ConsecutiveActionSteps,
			NormalizeActions:       cfg.Env.NormalizeActions,
			Seed:                   cfg.Experiment.Seed,
			Tau:                    cfg.Algo.Tau,
			Logger:                 logger,
		})
		if err != nil {
			return nil, nil, err
		}

		return p, p, nil
	}

	envTrain, err := factory.Create()
	if err != nil {
		return nil, nil, err
	}
	envEval, err := factory.Create()
	if err != nil {
		envTrain.Close()

		return nil, nil, err
	}

	s := agent.NewSingle(agent.SingleConfig{
		Algo:                   model,
		EnvTrain:               envTrain,
		EnvEval:                envEval,
		Buffer:                 buffer,
		ConsecutiveActionSteps: cfg.Env.ConsecutiveActionSteps,
		NormalizeActions:       cfg.Env.NormalizeActions,
		Seed:                   cfg.Experiment.Seed,
		Logger:                 logger,
	})

	return s, s, nil
}
