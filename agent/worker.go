package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/env"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/replay"
	"github.com/treadmill-rl/treadmill/task"
)

const (
	defaultPollInterval = time.Second
	defaultJoinTimeout  = 5 * time.Second

	// One task is in flight per worker at a time; the buffers only need
	// headroom for a trailing Shutdown and an unread final result.
	taskQueueSize   = 8
	resultQueueSize = 8
)

// WorkerConfig assembles one worker. The algorithm, environments and
// buffer passed in become exclusively owned by the worker; callers must
// hand in per-worker copies, never shared instances.
type WorkerConfig struct {
	ID   string
	Name string

	Algo     algo.Algo
	EnvTrain env.Env
	EnvEval  env.Env
	Buffer   replay.Buffer

	ConsecutiveActionSteps int
	NormalizeActions       bool
	Seed                   int64

	// PollInterval bounds how long the worker loop waits for a task before
	// re-checking the shutdown signal.
	PollInterval time.Duration
	// JoinTimeout bounds how long Close waits for the worker to terminate
	// on its own before detaching.
	JoinTimeout time.Duration

	Logger *slog.Logger
}

// worker is the isolated unit of state behind a Handle. It is reachable
// only through the task, result and model channels.
type worker struct {
	id   string
	name string

	agent *Single

	tasks   chan task.Task
	results chan task.Result
	model   chan algo.ModelState

	shutdown     *signal
	terminated   *signal
	pollInterval time.Duration

	logger *slog.Logger
}

// SpawnWorker starts one worker and returns its supervisor-side handle.
func SpawnWorker(cfg WorkerConfig) *Handle {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Name == "" {
		cfg.Name = "worker-" + cfg.ID[:8]
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("worker", cfg.Name))

	steps := &counter.StepCounter{}
	episodes := &counter.EpisodeCounter{}

	w := &worker{
		id:   cfg.ID,
		name: cfg.Name,
		agent: NewSingle(SingleConfig{
			Algo:                   cfg.Algo,
			EnvTrain:               cfg.EnvTrain,
			EnvEval:                cfg.EnvEval,
			Buffer:                 cfg.Buffer,
			ConsecutiveActionSteps: cfg.ConsecutiveActionSteps,
			NormalizeActions:       cfg.NormalizeActions,
			Seed:                   cfg.Seed,
			Logger:                 logger,
			StepCounter:            steps,
			EpisodeCounter:         episodes,
		}),
		tasks:        make(chan task.Task, taskQueueSize),
		results:      make(chan task.Result, resultQueueSize),
		model:        make(chan algo.ModelState, 1),
		shutdown:     newSignal(),
		terminated:   newSignal(),
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}

	h := &Handle{
		id:          w.id,
		name:        w.name,
		tasks:       w.tasks,
		results:     w.results,
		model:       w.model,
		shutdown:    w.shutdown,
		terminated:  w.terminated,
		steps:       steps,
		episodes:    episodes,
		joinTimeout: cfg.JoinTimeout,
		logger:      logger,
	}

	go w.run()

	return h
}

// run is the worker main loop: poll for a task with a bounded wait so the
// shutdown signal is observed promptly, execute it, push the result.
func (w *worker) run() {
	defer w.finish()

	w.logger.Info("worker started")

	for !w.shutdown.IsSet() {
		var t task.Task
		select {
		case t = <-w.tasks:
		case <-w.shutdown.Done():
			return
		case <-time.After(w.pollInterval):
			continue
		}

		if stop := w.dispatch(t); stop {
			return
		}
	}
}

// dispatch executes one task. It reports whether the loop must exit:
// after a Shutdown task, a fatal update error, or a panic escaping a
// phase (fail-fast; the worker does not continue in a possibly-corrupted
// state).
func (w *worker) dispatch(t task.Task) (stop bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.logger.Error("task panicked",
			slog.String("task", t.Kind.String()),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		w.results <- task.Result{WorkerID: w.id, Err: fmt.Errorf("task %s panicked: %v", t.Kind, r)}
		stop = true
	}()

	w.logger.Debug("received task", slog.String("task", t.Kind.String()))
	ctx := context.Background()

	switch t.Kind {
	case task.Heatup:
		res, err := w.agent.Heatup(ctx, HeatupSpec{
			Budget:     budgetOf(t),
			ActionLow:  t.ActionLow,
			ActionHigh: t.ActionHigh,
		})
		return w.pushPhase(t, res, err)

	case task.Explore:
		res, err := w.agent.Explore(ctx, ExploreSpec{Budget: budgetOf(t)})
		return w.pushPhase(t, res, err)

	case task.Evaluate:
		res, err := w.agent.Evaluate(ctx, EvaluateSpec{
			Budget:  budgetOf(t),
			Seeds:   t.Seeds,
			Options: t.Options,
		})
		return w.pushPhase(t, res, err)

	case task.Update:
		res, err := w.agent.Update(ctx, UpdateSpec{Steps: t.Steps, StepLimit: t.StepLimit})
		if err != nil {
			// A failed optimization step leaves the optimizer state
			// untrustworthy: surface the error once and self-shut-down.
			w.logger.Warn("update failed", slog.Any("error", err))
			w.shutdown.Set()
			w.results <- task.Result{WorkerID: w.id, Err: err}

			return true
		}
		w.results <- task.Result{WorkerID: w.id, Metrics: res.Metrics}

		return false

	case task.ExploreAndUpdate:
		phase, update, err := w.agent.ExploreAndUpdate(ctx, ExploreUpdateSpec{
			Explore: ExploreSpec{Budget: budgetOf(t)},
			Update:  UpdateSpec{Steps: t.UpdateSteps, StepLimit: t.UpdateStepLimit},
		})
		if err != nil {
			w.logger.Warn("explore-and-update failed", slog.Any("error", err))
			w.shutdown.Set()
			w.results <- task.Result{WorkerID: w.id, Err: err}

			return true
		}
		w.results <- task.Result{WorkerID: w.id, Episodes: phase.Episodes, Metrics: update.Metrics}

		return false

	case task.GetModelState:
		// Model payloads are large and must not be interleaved with
		// scalar results: they travel on the dedicated model channel.
		state, err := w.agent.Algo().StateOf(t.Component)
		if err != nil {
			w.logger.Error("serializing model state", slog.Any("error", err))
			w.results <- task.Result{WorkerID: w.id, Err: err}

			return true
		}
		w.model <- state

		return false

	case task.SetModelState:
		if err := w.agent.Algo().LoadStateOf(t.Component, t.State); err != nil {
			w.logger.Error("installing model state", slog.Any("error", err))
			w.results <- task.Result{WorkerID: w.id, Err: err}

			return true
		}

		return false

	case task.Shutdown:
		return true

	default:
		// Unknown task kinds are ignored for forward compatibility.
		w.logger.Debug("ignoring unknown task", slog.Int("kind", int(t.Kind)))

		return false
	}
}

func (w *worker) pushPhase(t task.Task, res PhaseResult, err error) (stop bool) {
	if err != nil {
		w.logger.Error("task failed", slog.String("task", t.Kind.String()), slog.Any("error", err))
		w.results <- task.Result{WorkerID: w.id, Err: err}

		return true
	}
	w.results <- task.Result{WorkerID: w.id, Episodes: res.Episodes}

	return false
}

// finish releases the agent's resources, drains stale inbound tasks and
// closes the outbound channels. Buffered results stay readable after
// close, so a final error result is never lost. The terminated signal is
// raised last so the supervisor can observe completion.
func (w *worker) finish() {
	if err := w.agent.Close(); err != nil {
		w.logger.Warn("closing agent", slog.Any("error", err))
	}

	for {
		select {
		case <-w.tasks:
			continue
		default:
		}

		break
	}

	close(w.results)
	close(w.model)
	w.terminated.Set()
	w.logger.Info("worker terminated")
}

func budgetOf(t task.Task) Budget {
	return Budget{
		Steps:        t.Steps,
		Episodes:     t.Episodes,
		StepLimit:    t.StepLimit,
		EpisodeLimit: t.EpisodeLimit,
	}
}
