package qnet

import (
	"encoding/json"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const weightsVersion = 1

var (
	ErrUnreadable    = errors.New("unreadable parameter blob")
	ErrShapeMismatch = errors.New("parameter shape mismatch")
)

// PersistenceError is returned by Export, Import and Load.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "qnet " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type LayerWeights struct {
	W [][]float64 `json:"w"` // shape: [out][in]
	B []float64   `json:"b"` // shape: [out]
}

// Weights is the serialized form of a Network.
type Weights struct {
	Version int            `json:"version"`
	Config  Config         `json:"config"`
	Online  []LayerWeights `json:"online"`
	Target  []LayerWeights `json:"target"`
}

// Export serializes both parameter sets. Float values are written in their
// shortest round-trip form, so Import reproduces predictions bit for bit.
func (n *Network) Export() ([]byte, error) {
	n.mu.RLock()
	weights := Weights{
		Version: weightsVersion,
		Config:  n.Config(),
		Online:  toLayerWeights(n.online),
		Target:  toLayerWeights(n.target),
	}
	n.mu.RUnlock()

	blob, err := json.Marshal(weights)
	if err != nil {
		return nil, &PersistenceError{Op: "export", Err: err}
	}
	return blob, nil
}

// Import replaces both parameter sets. The blob must describe a network of
// the same shape.
func (n *Network) Import(blob []byte) error {
	weights, err := decode(blob)
	if err != nil {
		return err
	}
	want, got := n.cfg.sizes(), weights.Config.sizes()
	if !equalSizes(want, got) {
		return &PersistenceError{Op: "import", Err: fmt.Errorf("%w: network layers %v, blob layers %v", ErrShapeMismatch, want, got)}
	}
	online, err := fromLayerWeights(weights.Online, want)
	if err != nil {
		return &PersistenceError{Op: "import", Err: fmt.Errorf("online: %w", err)}
	}
	target, err := fromLayerWeights(weights.Target, want)
	if err != nil {
		return &PersistenceError{Op: "import", Err: fmt.Errorf("target: %w", err)}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.online = online
	n.target = target
	return nil
}

// Load builds a new Network from an exported blob.
func Load(blob []byte) (*Network, error) {
	weights, err := decode(blob)
	if err != nil {
		return nil, err
	}
	if err := weights.Config.validate(); err != nil {
		return nil, &PersistenceError{Op: "load", Err: fmt.Errorf("%w: %v", ErrShapeMismatch, err)}
	}
	sizes := weights.Config.sizes()
	online, err := fromLayerWeights(weights.Online, sizes)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: fmt.Errorf("online: %w", err)}
	}
	target, err := fromLayerWeights(weights.Target, sizes)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: fmt.Errorf("target: %w", err)}
	}
	return &Network{cfg: weights.Config, online: online, target: target}, nil
}

func decode(blob []byte) (Weights, error) {
	var weights Weights
	if err := json.Unmarshal(blob, &weights); err != nil {
		return Weights{}, &PersistenceError{Op: "decode", Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	if weights.Version != weightsVersion {
		return Weights{}, &PersistenceError{Op: "decode", Err: fmt.Errorf("%w: version %d, want %d", ErrUnreadable, weights.Version, weightsVersion)}
	}
	return weights, nil
}

func toLayerWeights(p params) []LayerWeights {
	out := make([]LayerWeights, len(p))
	for i, l := range p {
		rows, _ := l.w.Dims()
		w := make([][]float64, rows)
		for r := range w {
			w[r] = mat.Row(nil, r, l.w)
		}
		out[i] = LayerWeights{W: w, B: mat.Col(nil, 0, l.b)}
	}
	return out
}

func fromLayerWeights(layers []LayerWeights, sizes []int) (params, error) {
	if len(layers) != len(sizes)-1 {
		return nil, fmt.Errorf("%w: %d layers, want %d", ErrShapeMismatch, len(layers), len(sizes)-1)
	}
	p := make(params, len(layers))
	for i, lw := range layers {
		in, out := sizes[i], sizes[i+1]
		if len(lw.W) != out || len(lw.B) != out {
			return nil, fmt.Errorf("%w: layer %d has %d rows and %d biases, want %d", ErrShapeMismatch, i, len(lw.W), len(lw.B), out)
		}
		data := make([]float64, 0, out*in)
		for r, row := range lw.W {
			if len(row) != in {
				return nil, fmt.Errorf("%w: layer %d row %d has %d columns, want %d", ErrShapeMismatch, i, r, len(row), in)
			}
			data = append(data, row...)
		}
		p[i] = layer{w: mat.NewDense(out, in, data), b: mat.NewVecDense(out, append([]float64(nil), lw.B...))}
	}
	return p, nil
}

func equalSizes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
