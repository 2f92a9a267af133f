package replay

// Batch is one sampled training batch of step-level transitions, laid out
// column-wise the way update rules consume it.
type Batch struct {
	Obs      [][]float64
	Actions  [][]float64
	Rewards  []float64
	NextObs  [][]float64
	Terminal []bool
}

// Size returns the number of transitions in the batch.
func (b Batch) Size() int {
	return len(b.Rewards)
}

// Buffer stores past transitions for sampling. Each worker holds an
// exclusive, non-aliased instance obtained through Copy; a buffer is never
// shared across workers.
type Buffer interface {
	// Push stores every transition of a closed episode.
	Push(episode *Episode)
	// Sample draws one training batch.
	Sample() (Batch, error)
	// Len returns the number of stored transitions.
	Len() int
	// BatchSize returns the configured sample size.
	BatchSize() int
	// Copy returns an independent, empty buffer with the same configuration.
	Copy() Buffer
	Close() error
}
