package agent

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treadmill-rl/treadmill/algo"
	"github.com/treadmill-rl/treadmill/pkg/counter"
	"github.com/treadmill-rl/treadmill/pkg/errors"
	"github.com/treadmill-rl/treadmill/task"
)

// Handle is the supervisor-side proxy for one worker. Task-dispatch
// methods are fire-and-forget; the supervisor must not issue a second task
// on a handle before collecting the previous result. All methods are safe
// to call from the single orchestrating goroutine; Close may additionally
// be called from anywhere and is idempotent.
type Handle struct {
	id   string
	name string

	tasks   chan task.Task
	results chan task.Result
	model   chan algo.ModelState

	shutdown   *signal
	terminated *signal

	steps    *counter.StepCounter
	episodes *counter.EpisodeCounter

	joinTimeout time.Duration
	closeOnce   sync.Once
	detached    atomic.Bool

	logger *slog.Logger
}

// ID returns the worker's unique identifier.
func (h *Handle) ID() string {
	return h.id
}

// Name returns the worker's human-readable name.
func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) Heatup(spec HeatupSpec) {
	h.enqueue(task.Task{
		Kind:         task.Heatup,
		Steps:        spec.Steps,
		Episodes:     spec.Episodes,
		StepLimit:    spec.StepLimit,
		EpisodeLimit: spec.EpisodeLimit,
		ActionLow:    spec.ActionLow,
		ActionHigh:   spec.ActionHigh,
	})
}

func (h *Handle) Explore(spec ExploreSpec) {
	h.enqueue(task.Task{
		Kind:         task.Explore,
		Steps:        spec.Steps,
		Episodes:     spec.Episodes,
		StepLimit:    spec.StepLimit,
		EpisodeLimit: spec.EpisodeLimit,
	})
}

func (h *Handle) Evaluate(spec EvaluateSpec) {
	h.enqueue(task.Task{
		Kind:         task.Evaluate,
		Steps:        spec.Steps,
		Episodes:     spec.Episodes,
		StepLimit:    spec.StepLimit,
		EpisodeLimit: spec.EpisodeLimit,
		Seeds:        spec.Seeds,
		Options:      spec.Options,
	})
}

func (h *Handle) Update(spec UpdateSpec) {
	h.enqueue(task.Task{
		Kind:      task.Update,
		Steps:     spec.Steps,
		StepLimit: spec.StepLimit,
	})
}

func (h *Handle) ExploreAndUpdate(spec ExploreUpdateSpec) {
	h.enqueue(task.Task{
		Kind:            task.ExploreAndUpdate,
		Steps:           spec.Explore.Steps,
		Episodes:        spec.Explore.Episodes,
		StepLimit:       spec.Explore.StepLimit,
		EpisodeLimit:    spec.Explore.EpisodeLimit,
		UpdateSteps:     spec.Update.Steps,
		UpdateStepLimit: spec.Update.StepLimit,
	})
}

// enqueue puts a task on the worker's inbound channel. A worker that has
// already terminated cannot accept tasks; that is not a crash but the
// trigger for this handle's own close path.
func (h *Handle) enqueue(t task.Task) {
	select {
	case h.tasks <- t:
	case <-h.terminated.Done():
		h.logger.Warn("enqueue on terminated worker", slog.String("task", t.Kind.String()))
		h.Close()
	}
}

// GetResult blocks for the next result. A non-positive timeout waits
// indefinitely; on expiry the distinguishable errors.ErrTimeout is
// returned. Task failures are carried inside the result's Err field.
func (h *Handle) GetResult(timeout time.Duration) (task.Result, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = time.After(timeout)
	}

	select {
	case r, ok := <-h.results:
		if !ok {
			h.Close()

			return task.Result{}, errors.ErrWorkerGone
		}

		return r, nil
	case <-expired:
		return task.Result{}, errors.ErrTimeout
	}
}

// GetModelState snapshots the named component's serialized state. The
// payload bypasses the result channel so it is never queued behind scalar
// results.
func (h *Handle) GetModelState(component string) (algo.ModelState, error) {
	h.enqueue(task.Task{Kind: task.GetModelState, Component: component})

	state, ok := <-h.model
	if !ok {
		h.Close()

		return nil, errors.ErrWorkerGone
	}

	return state, nil
}

// SetModelState installs serialized state for the named component. The
// payload is value-copied before crossing the boundary so the worker never
// aliases supervisor-owned memory.
func (h *Handle) SetModelState(component string, state algo.ModelState) {
	h.enqueue(task.Task{Kind: task.SetModelState, Component: component, State: state.Copy()})
}

// StepCounter returns a snapshot of the worker's step tallies.
func (h *Handle) StepCounter() counter.StepSnapshot {
	return h.steps.Snapshot()
}

// EpisodeCounter returns a snapshot of the worker's episode tallies.
func (h *Handle) EpisodeCounter() counter.EpisodeSnapshot {
	return h.episodes.Snapshot()
}

// IsAlive reports whether the worker is still running. It turns false on
// its own once a worker self-shuts-down after a fatal update error.
func (h *Handle) IsAlive() bool {
	return !h.terminated.IsSet() && !h.detached.Load()
}

// Close shuts the worker down. Two phases: raise the shutdown signal and
// enqueue a Shutdown task as a wake-up, then join with a bounded timeout.
// A worker that does not terminate in time — it can be blocked inside a
// long optimization step that only observes the signal on its next poll —
// is detached after its outbound channels are drained, so it can never
// block forever on a send the supervisor will not service. Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.shutdown.Set()

		select {
		case h.tasks <- task.Task{Kind: task.Shutdown}:
		default:
			// Inbound queue full or never drained; the signal covers it.
		}

		if h.terminated.Wait(h.joinTimeout) {
			return
		}

		h.logger.Warn("worker did not terminate in time, detaching")
		h.drainOutbound()
		h.detached.Store(true)
	})
}

// drainOutbound empties the result and model channels so a detached
// worker blocked on a send gets to run to its own exit path.
func (h *Handle) drainOutbound() {
	for {
		select {
		case _, ok := <-h.results:
			if ok {
				continue
			}
		default:
		}

		break
	}
	for {
		select {
		case _, ok := <-h.model:
			if ok {
				continue
			}
		default:
		}

		break
	}
}
