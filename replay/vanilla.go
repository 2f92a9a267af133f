package replay

import (
	"math/rand"
	"sync"

	"github.com/treadmill-rl/treadmill/pkg/errors"
)

type step struct {
	obs      []float64
	action   []float64
	reward   float64
	nextObs  []float64
	terminal bool
}

// vanillaBuffer is a mutex-guarded ring of step transitions with uniform
// sampling and FIFO eviction once capacity is reached.
type vanillaBuffer struct {
	mu sync.Mutex

	steps     []step
	next      int
	full      bool
	capacity  int
	batchSize int
	closed    bool
	rng       *rand.Rand
	seed      int64
}

// NewVanillaBuffer returns an in-memory step buffer. The seed fixes the
// sampling order, which keeps tests reproducible.
func NewVanillaBuffer(capacity, batchSize int, seed int64) Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	return &vanillaBuffer{
		steps:     make([]step, 0, capacity),
		capacity:  capacity,
		batchSize: batchSize,
		rng:       rand.New(rand.NewSource(seed)),
		seed:      seed,
	}
}

func (b *vanillaBuffer) Push(episode *Episode) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	prev := episode.InitialFlatObs
	for _, t := range episode.Transitions {
		s := step{
			obs:      prev,
			action:   t.Action,
			reward:   t.Reward,
			nextObs:  t.FlatObs,
			terminal: t.Terminal,
		}
		if b.full {
			b.steps[b.next] = s
			b.next = (b.next + 1) % b.capacity
		} else {
			b.steps = append(b.steps, s)
			if len(b.steps) == b.capacity {
				b.full = true
			}
		}
		prev = t.FlatObs
	}
}

func (b *vanillaBuffer) Sample() (Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Batch{}, errors.ErrBufferClosed
	}
	if len(b.steps) == 0 {
		return Batch{}, errors.ErrEmptyBuffer
	}

	batch := Batch{
		Obs:      make([][]float64, b.batchSize),
		Actions:  make([][]float64, b.batchSize),
		Rewards:  make([]float64, b.batchSize),
		NextObs:  make([][]float64, b.batchSize),
		Terminal: make([]bool, b.batchSize),
	}
	for i := 0; i < b.batchSize; i++ {
		s := b.steps[b.rng.Intn(len(b.steps))]
		batch.Obs[i] = s.obs
		batch.Actions[i] = s.action
		batch.Rewards[i] = s.reward
		batch.NextObs[i] = s.nextObs
		batch.Terminal[i] = s.terminal
	}

	return batch, nil
}

func (b *vanillaBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.steps)
}

func (b *vanillaBuffer) BatchSize() int {
	return b.batchSize
}

func (b *vanillaBuffer) Copy() Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Each worker gets its own shard, seeded apart so samples differ.
	b.seed++

	return NewVanillaBuffer(b.capacity, b.batchSize, b.seed)
}

func (b *vanillaBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.steps = nil

	return nil
}
