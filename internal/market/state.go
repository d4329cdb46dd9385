package market

import "math"

// State is the encoded market view at one time step: window sigmoid-squashed
// price differences, each in [0, 1].
type State []float64

// EncodeState builds the state at index t from the window+1 prices ending at
// t. Missing history before index 0 is filled with the first price, so the
// leading differences of an early window are sigmoid(0) = 0.5.
func EncodeState(series *Series, t, window int) State {
	block := make([]float64, window+1)
	start := t - window
	for i := range block {
		idx := start + i
		if idx < 0 {
			idx = 0
		}
		block[i] = series.prices[idx]
	}

	state := make(State, window)
	for i := 0; i < window; i++ {
		state[i] = sigmoid(block[i+1] - block[i])
	}
	return state
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
