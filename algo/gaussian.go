package algo

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/treadmill-rl/treadmill/pkg/errors"
	"github.com/treadmill-rl/treadmill/replay"
)

const (
	networkKey   = "network"
	optimizerKey = "optimizer"
	schedulerKey = "scheduler"
)

type linear struct {
	W [][]float64
	B []float64
}

func newLinear(in, out int) *linear {
	w := make([][]float64, out)
	for i := range w {
		w[i] = make([]float64, in)
	}

	return &linear{W: w, B: make([]float64, out)}
}

func (l *linear) forward(x []float64) []float64 {
	y := make([]float64, len(l.B))
	for i := range l.W {
		y[i] = l.B[i]
		for j, xj := range x {
			y[i] += l.W[i][j] * xj
		}
	}

	return y
}

func (l *linear) clone() *linear {
	c := newLinear(len(l.W[0]), len(l.W))
	for i := range l.W {
		copy(c.W[i], l.W[i])
	}
	copy(c.B, l.B)

	return c
}

type schedState struct {
	LR    float64
	Steps int64
}

type component struct {
	net *linear
	opt *linear // first-moment estimates, same shape as the network
}

func (c *component) clone() *component {
	return &component{net: c.net.clone(), opt: c.opt.clone()}
}

// Gaussian is a linear-Gaussian policy with twin Q functions. It is a
// deliberately small algorithm: enough optimization structure (network,
// optimizer moments, schedule) to exercise the full model-state protocol.
type Gaussian struct {
	mu sync.Mutex

	obsDim, actDim int
	comps          map[string]*component
	sched          schedState
	lrGamma        float64
	noiseStd       float64
	rng            *rand.Rand
	seed           int64
}

// GaussianConfig configures the reference algorithm.
type GaussianConfig struct {
	ObsDim   int
	ActDim   int
	LR       float64
	LRGamma  float64
	NoiseStd float64
	Seed     int64
}

// NewGaussian builds the reference algorithm.
func NewGaussian(cfg GaussianConfig) *Gaussian {
	if cfg.LR <= 0 {
		cfg.LR = 1e-3
	}
	if cfg.LRGamma <= 0 || cfg.LRGamma > 1 {
		cfg.LRGamma = 1.0
	}
	if cfg.NoiseStd <= 0 {
		cfg.NoiseStd = 0.1
	}

	return &Gaussian{
		obsDim: cfg.ObsDim,
		actDim: cfg.ActDim,
		comps: map[string]*component{
			ComponentPolicy: {net: newLinear(cfg.ObsDim, cfg.ActDim), opt: newLinear(cfg.ObsDim, cfg.ActDim)},
			ComponentQ1:     {net: newLinear(cfg.ObsDim+cfg.ActDim, 1), opt: newLinear(cfg.ObsDim+cfg.ActDim, 1)},
			ComponentQ2:     {net: newLinear(cfg.ObsDim+cfg.ActDim, 1), opt: newLinear(cfg.ObsDim+cfg.ActDim, 1)},
		},
		sched:    schedState{LR: cfg.LR},
		lrGamma:  cfg.LRGamma,
		noiseStd: cfg.NoiseStd,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		seed:     cfg.Seed,
	}
}

func (g *Gaussian) ExplorationAction(flatObs []float64) []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	action := g.mean(flatObs)
	for i := range action {
		action[i] = clip(action[i]+g.rng.NormFloat64()*g.noiseStd, -1, 1)
	}

	return action
}

func (g *Gaussian) EvalAction(flatObs []float64) []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.mean(flatObs)
}

func (g *Gaussian) mean(flatObs []float64) []float64 {
	raw := g.comps[ComponentPolicy].net.forward(flatObs)
	for i := range raw {
		raw[i] = math.Tanh(raw[i])
	}

	return raw
}

// Update runs one regression step of both Q functions towards the batch
// rewards and nudges the policy towards actions in proportion to their
// reward. The math is intentionally simple; what matters to the harness is
// that parameters, optimizer moments and the schedule all advance.
func (g *Gaussian) Update(batch replay.Batch) ([]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if batch.Size() == 0 {
		return nil, fmt.Errorf("%w: empty batch", errors.ErrUpdateFailed)
	}

	q1Loss := g.regressQ(ComponentQ1, batch)
	q2Loss := g.regressQ(ComponentQ2, batch)
	pLoss := g.improvePolicy(batch)

	for _, l := range []float64{q1Loss, q2Loss, pLoss} {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			return nil, fmt.Errorf("%w: non-finite loss", errors.ErrUpdateFailed)
		}
	}

	return []float64{q1Loss, q2Loss, pLoss}, nil
}

func (g *Gaussian) regressQ(name string, batch replay.Batch) float64 {
	c := g.comps[name]
	lr := g.sched.LR
	n := float64(batch.Size())

	var loss float64
	for i := 0; i < batch.Size(); i++ {
		x := append(append([]float64{}, batch.Obs[i]...), batch.Actions[i]...)
		pred := c.net.forward(x)[0]
		delta := pred - batch.Rewards[i]
		loss += delta * delta / n

		for j, xj := range x {
			grad := delta * xj / n
			c.opt.W[0][j] = 0.9*c.opt.W[0][j] + 0.1*grad
			c.net.W[0][j] -= lr * c.opt.W[0][j]
		}
		c.opt.B[0] = 0.9*c.opt.B[0] + 0.1*delta/n
		c.net.B[0] -= lr * c.opt.B[0]
	}

	return loss
}

func (g *Gaussian) improvePolicy(batch replay.Batch) float64 {
	c := g.comps[ComponentPolicy]
	lr := g.sched.LR
	n := float64(batch.Size())

	var loss float64
	for i := 0; i < batch.Size(); i++ {
		mean := c.net.forward(batch.Obs[i])
		for a := range mean {
			diff := math.Tanh(mean[a]) - batch.Actions[i][a]
			adv := batch.Rewards[i]
			loss += diff * diff * adv / n

			for j, xj := range batch.Obs[i] {
				grad := diff * adv * xj / n
				c.opt.W[a][j] = 0.9*c.opt.W[a][j] + 0.1*grad
				c.net.W[a][j] -= lr * c.opt.W[a][j]
			}
			c.opt.B[a] = 0.9*c.opt.B[a] + 0.1*diff*adv/n
			c.net.B[a] -= lr * c.opt.B[a]
		}
	}

	return loss
}

func (g *Gaussian) Reset() {}

func (g *Gaussian) StateOf(comp string) (ModelState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := make(ModelState)
	names, err := g.resolve(comp)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c := g.comps[name]
		net, err := encode(c.net)
		if err != nil {
			return nil, err
		}
		opt, err := encode(c.opt)
		if err != nil {
			return nil, err
		}
		state[name+"/"+networkKey] = net
		state[name+"/"+optimizerKey] = opt
	}
	if comp == AllComponents {
		sched, err := encode(g.sched)
		if err != nil {
			return nil, err
		}
		state[schedulerKey] = sched
	}

	return state, nil
}

func (g *Gaussian) LoadStateOf(comp string, state ModelState) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	names, err := g.resolve(comp)
	if err != nil {
		return err
	}
	for _, name := range names {
		c := g.comps[name]
		if blob, ok := state[name+"/"+networkKey]; ok {
			if err := decode(blob, c.net); err != nil {
				return err
			}
		}
		if blob, ok := state[name+"/"+optimizerKey]; ok {
			if err := decode(blob, c.opt); err != nil {
				return err
			}
		}
	}
	if blob, ok := state[schedulerKey]; ok {
		if err := decode(blob, &g.sched); err != nil {
			return err
		}
	}

	return nil
}

func (g *Gaussian) SoftUpdate(state ModelState, tau float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, c := range g.comps {
		blob, ok := state[name+"/"+networkKey]
		if !ok {
			continue
		}
		var other linear
		if err := decode(blob, &other); err != nil {
			return err
		}
		for i := range c.net.W {
			for j := range c.net.W[i] {
				c.net.W[i][j] = (1-tau)*c.net.W[i][j] + tau*other.W[i][j]
			}
			c.net.B[i] = (1-tau)*c.net.B[i] + tau*other.B[i]
		}
	}

	return nil
}

func (g *Gaussian) AdvanceSchedule() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.sched.LR *= g.lrGamma
	g.sched.Steps++
}

func (g *Gaussian) ScheduleSteps() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.sched.Steps
}

func (g *Gaussian) Copy() Algo {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seed++
	c := NewGaussian(GaussianConfig{
		ObsDim:   g.obsDim,
		ActDim:   g.actDim,
		LR:       g.sched.LR,
		LRGamma:  g.lrGamma,
		NoiseStd: g.noiseStd,
		Seed:     g.seed,
	})
	c.sched = g.sched
	for name, comp := range g.comps {
		c.comps[name] = comp.clone()
	}

	return c
}

func (g *Gaussian) Close() error {
	return nil
}

func (g *Gaussian) resolve(comp string) ([]string, error) {
	if comp == "" {
		return nil, errors.ErrEmptyComponent
	}
	if comp == AllComponents {
		return []string{ComponentPolicy, ComponentQ1, ComponentQ2}, nil
	}
	if _, ok := g.comps[comp]; !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownComponent, comp)
	}

	return []string{comp}, nil
}

func clip(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decode(blob []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(blob)).Decode(v)
}
