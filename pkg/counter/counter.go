// Package counter holds the cross-worker progress tallies. A counter is
// owned jointly by the supervisor and the single worker that mutates it:
// the worker increments under the lock, the supervisor takes snapshots.
package counter

import (
	"fmt"
	"sync"
)

// Phase partitions the tallies by what the agent was doing when the
// steps or episodes were produced.
type Phase uint8

const (
	Heatup Phase = iota
	Exploration
	Evaluation
	Update
)

func (p Phase) String() string {
	switch p {
	case Heatup:
		return "heatup"
	case Exploration:
		return "exploration"
	case Evaluation:
		return "evaluation"
	case Update:
		return "update"
	default:
		return "unknown"
	}
}

// StepCounter tallies environment and optimization steps per phase.
// Counters are monotonic for the lifetime of a worker.
type StepCounter struct {
	mu sync.Mutex
	s  StepSnapshot
}

// StepSnapshot is an immutable copy of all step fields, taken together
// under the counter lock so a reader never observes a torn update.
type StepSnapshot struct {
	Heatup      int64 `json:"heatup"`
	Exploration int64 `json:"exploration"`
	Evaluation  int64 `json:"evaluation"`
	Update      int64 `json:"update"`
}

func (c *StepCounter) Add(p Phase, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p {
	case Heatup:
		c.s.Heatup += delta
	case Exploration:
		c.s.Exploration += delta
	case Evaluation:
		c.s.Evaluation += delta
	case Update:
		c.s.Update += delta
	default:
		panic(fmt.Sprintf("counter: invalid step phase %d", p))
	}
}

func (c *StepCounter) Snapshot() StepSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.s
}

// Get returns the current tally for one phase.
func (c *StepCounter) Get(p Phase) int64 {
	s := c.Snapshot()
	switch p {
	case Heatup:
		return s.Heatup
	case Exploration:
		return s.Exploration
	case Evaluation:
		return s.Evaluation
	case Update:
		return s.Update
	default:
		panic(fmt.Sprintf("counter: invalid step phase %d", p))
	}
}

// Merge returns the element-wise sum of two snapshots. The orchestrator
// uses it to combine per-worker mirrors into a global view.
func (s StepSnapshot) Merge(other StepSnapshot) StepSnapshot {
	return StepSnapshot{
		Heatup:      s.Heatup + other.Heatup,
		Exploration: s.Exploration + other.Exploration,
		Evaluation:  s.Evaluation + other.Evaluation,
		Update:      s.Update + other.Update,
	}
}

// EpisodeCounter tallies completed episodes per collection phase. There is
// no update field: optimization steps do not produce episodes.
type EpisodeCounter struct {
	mu sync.Mutex
	s  EpisodeSnapshot
}

type EpisodeSnapshot struct {
	Heatup      int64 `json:"heatup"`
	Exploration int64 `json:"exploration"`
	Evaluation  int64 `json:"evaluation"`
}

func (c *EpisodeCounter) Add(p Phase, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch p {
	case Heatup:
		c.s.Heatup += delta
	case Exploration:
		c.s.Exploration += delta
	case Evaluation:
		c.s.Evaluation += delta
	default:
		panic(fmt.Sprintf("counter: invalid episode phase %d", p))
	}
}

func (c *EpisodeCounter) Snapshot() EpisodeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.s
}

func (c *EpisodeCounter) Get(p Phase) int64 {
	s := c.Snapshot()
	switch p {
	case Heatup:
		return s.Heatup
	case Exploration:
		return s.Exploration
	case Evaluation:
		return s.Evaluation
	default:
		panic(fmt.Sprintf("counter: invalid episode phase %d", p))
	}
}

func (s EpisodeSnapshot) Merge(other EpisodeSnapshot) EpisodeSnapshot {
	return EpisodeSnapshot{
		Heatup:      s.Heatup + other.Heatup,
		Exploration: s.Exploration + other.Exploration,
		Evaluation:  s.Evaluation + other.Evaluation,
	}
}
