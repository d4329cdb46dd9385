// Package qnet implements the action-value approximator: a small
// fully-connected ReLU network with an online parameter set that is trained
// and a target parameter set that is only changed by SyncTarget.
package qnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Estimator maps a state to one estimated value per action.
type Estimator interface {
	Predict(state []float64) []float64
}

// EstimatorFunc adapts a plain function to an Estimator.
type EstimatorFunc func(state []float64) []float64

func (f EstimatorFunc) Predict(state []float64) []float64 {
	return f(state)
}

type Config struct {
	Inputs       int     `json:"inputs" yaml:"-"`
	Hidden       []int   `json:"hidden" yaml:"hidden"`
	Outputs      int     `json:"outputs" yaml:"-"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	// ClipNorm caps the global L2 norm of each gradient step. Zero disables it.
	ClipNorm float64 `json:"clip_norm" yaml:"clip_norm"`
}

func (c Config) sizes() []int {
	sizes := make([]int, 0, len(c.Hidden)+2)
	sizes = append(sizes, c.Inputs)
	sizes = append(sizes, c.Hidden...)
	return append(sizes, c.Outputs)
}

func (c Config) validate() error {
	if c.Inputs <= 0 || c.Outputs <= 0 {
		return fmt.Errorf("inputs and outputs must be > 0, got %d and %d", c.Inputs, c.Outputs)
	}
	for i, h := range c.Hidden {
		if h <= 0 {
			return fmt.Errorf("hidden layer %d has size %d", i, h)
		}
	}
	if c.LearningRate <= 0 {
		return errors.New("learning rate must be > 0")
	}
	if c.ClipNorm < 0 {
		return errors.New("clip norm must be >= 0")
	}
	return nil
}

type layer struct {
	w *mat.Dense    // shape: [out][in]
	b *mat.VecDense // shape: [out]
}

type params []layer

func newParams(sizes []int, rng *rand.Rand) params {
	p := make(params, len(sizes)-1)
	for i := range p {
		in, out := sizes[i], sizes[i+1]
		limit := math.Sqrt(6 / float64(in+out))
		data := make([]float64, out*in)
		for j := range data {
			data[j] = (rng.Float64()*2 - 1) * limit
		}
		p[i] = layer{w: mat.NewDense(out, in, data), b: mat.NewVecDense(out, nil)}
	}
	return p
}

func (p params) clone() params {
	out := make(params, len(p))
	for i, l := range p {
		out[i] = layer{w: mat.DenseCopyOf(l.w), b: mat.VecDenseCopyOf(l.b)}
	}
	return out
}

// forward returns the pre-activations of every layer and the activations
// including the input at index 0. The last layer is linear.
func (p params) forward(x *mat.Dense) (zs, acts []*mat.Dense) {
	zs = make([]*mat.Dense, 0, len(p))
	acts = make([]*mat.Dense, 0, len(p)+1)
	a := x
	acts = append(acts, a)
	for i, l := range p {
		var z mat.Dense
		z.Mul(a, l.w.T())
		bias := l.b
		z.Apply(func(_, j int, v float64) float64 { return v + bias.AtVec(j) }, &z)
		zs = append(zs, &z)

		if i == len(p)-1 {
			a = &z
		} else {
			var h mat.Dense
			h.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, &z)
			a = &h
		}
		acts = append(acts, a)
	}
	return zs, acts
}

// gradients backpropagates delta, the loss gradient w.r.t. the output layer.
func (p params) gradients(zs, acts []*mat.Dense, delta *mat.Dense) params {
	grads := make(params, len(p))
	for i := len(p) - 1; i >= 0; i-- {
		var dw mat.Dense
		dw.Mul(delta.T(), acts[i])

		_, cols := delta.Dims()
		db := mat.NewVecDense(cols, nil)
		for c := 0; c < cols; c++ {
			db.SetVec(c, mat.Sum(delta.ColView(c)))
		}
		grads[i] = layer{w: &dw, b: db}

		if i > 0 {
			var next mat.Dense
			next.Mul(delta, p[i].w)
			z := zs[i-1]
			next.Apply(func(r, c int, v float64) float64 {
				if z.At(r, c) > 0 {
					return v
				}
				return 0
			}, &next)
			delta = &next
		}
	}
	return grads
}

func (p params) norm() float64 {
	var sum float64
	for _, l := range p {
		rows, cols := l.w.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := l.w.At(r, c)
				sum += v * v
			}
		}
		for j := 0; j < l.b.Len(); j++ {
			v := l.b.AtVec(j)
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// Network is safe for concurrent use: predictions take a read lock while
// Update, SyncTarget and Import serialize on the write lock.
type Network struct {
	mu     sync.RWMutex
	cfg    Config
	online params
	target params
}

// New builds a network with Glorot-uniform weights and zero biases. The
// target set starts as a copy of the online set.
func New(cfg Config, seed int64) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)
	online := newParams(cfg.sizes(), rand.New(rand.NewSource(seed)))
	return &Network{cfg: cfg, online: online, target: online.clone()}, nil
}

func (n *Network) Config() Config {
	cfg := n.cfg
	cfg.Hidden = append([]int(nil), n.cfg.Hidden...)
	return cfg
}

func (n *Network) Predict(state []float64) []float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return mat.Row(nil, 0, n.output(n.online, [][]float64{state}))
}

func (n *Network) PredictTarget(state []float64) []float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return mat.Row(nil, 0, n.output(n.target, [][]float64{state}))
}

// PredictBatch returns a len(states) x Outputs matrix of online estimates.
func (n *Network) PredictBatch(states [][]float64) *mat.Dense {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.output(n.online, states)
}

func (n *Network) PredictTargetBatch(states [][]float64) *mat.Dense {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.output(n.target, states)
}

func (n *Network) output(p params, states [][]float64) *mat.Dense {
	if len(states) == 0 {
		return nil
	}
	_, acts := p.forward(n.stack(states))
	return acts[len(acts)-1]
}

func (n *Network) stack(states [][]float64) *mat.Dense {
	data := make([]float64, 0, len(states)*n.cfg.Inputs)
	for _, s := range states {
		if len(s) != n.cfg.Inputs {
			panic(fmt.Sprintf("qnet: state has %d features, network expects %d", len(s), n.cfg.Inputs))
		}
		data = append(data, s...)
	}
	return mat.NewDense(len(states), n.cfg.Inputs, data)
}

// Online and Target expose each parameter set as a read-only Estimator.
func (n *Network) Online() Estimator {
	return view{n: n}
}

func (n *Network) Target() Estimator {
	return view{n: n, target: true}
}

type view struct {
	n      *Network
	target bool
}

func (v view) Predict(state []float64) []float64 {
	if v.target {
		return v.n.PredictTarget(state)
	}
	return v.n.Predict(state)
}

// Update takes one gradient step on the online set toward targets. Only the
// value of the taken action contributes to the loss for each row; the
// returned loss is the mean squared error over those values before the step.
func (n *Network) Update(states [][]float64, actions []int, targets []float64) (float64, error) {
	if len(states) != len(actions) || len(states) != len(targets) {
		return 0, fmt.Errorf("batch length mismatch: %d states, %d actions, %d targets", len(states), len(actions), len(targets))
	}
	if len(states) == 0 {
		return 0, nil
	}
	for i, a := range actions {
		if a < 0 || a >= n.cfg.Outputs {
			return 0, fmt.Errorf("row %d: action %d out of range", i, a)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	batch := float64(len(states))
	zs, acts := n.online.forward(n.stack(states))
	out := acts[len(acts)-1]

	delta := mat.NewDense(len(states), n.cfg.Outputs, nil)
	var loss float64
	for i, a := range actions {
		diff := out.At(i, a) - targets[i]
		loss += diff * diff
		delta.Set(i, a, diff/batch)
	}

	grads := n.online.gradients(zs, acts, delta)
	step := n.cfg.LearningRate
	if n.cfg.ClipNorm > 0 {
		if norm := grads.norm(); norm > n.cfg.ClipNorm {
			step *= n.cfg.ClipNorm / norm
		}
	}
	for i := range n.online {
		grads[i].w.Scale(step, grads[i].w)
		n.online[i].w.Sub(n.online[i].w, grads[i].w)
		n.online[i].b.AddScaledVec(n.online[i].b, -step, grads[i].b)
	}
	return loss / batch, nil
}

// SyncTarget copies the online parameters into the target set.
func (n *Network) SyncTarget() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.target = n.online.clone()
}
