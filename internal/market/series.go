package market

import (
	"errors"
	"fmt"
)

var ErrSeriesTooShort = errors.New("price series too short")

// InputError reports a series that cannot fill a single transition for the
// configured window.
type InputError struct {
	Symbol string
	Len    int
	Window int
}

func (e *InputError) Error() string {
	name := e.Symbol
	if name == "" {
		name = "series"
	}
	return fmt.Sprintf("%s: %d prices, need at least %d for window %d", name, e.Len, e.Window+1, e.Window)
}

func (e *InputError) Unwrap() error {
	return ErrSeriesTooShort
}

// Series is an ordered, read-only sequence of closing prices.
type Series struct {
	Symbol string
	prices []float64
}

func NewSeries(symbol string, prices []float64) *Series {
	owned := make([]float64, len(prices))
	copy(owned, prices)
	return &Series{Symbol: symbol, prices: owned}
}

func (s *Series) Len() int {
	return len(s.prices)
}

func (s *Series) At(i int) float64 {
	return s.prices[i]
}

func (s *Series) Last() float64 {
	return s.prices[len(s.prices)-1]
}

// Prices returns a copy of the underlying prices.
func (s *Series) Prices() []float64 {
	out := make([]float64, len(s.prices))
	copy(out, s.prices)
	return out
}

func (s *Series) Validate(window int) error {
	if window < 1 {
		return fmt.Errorf("window must be > 0, got %d", window)
	}
	if len(s.prices) < window+1 {
		return &InputError{Symbol: s.Symbol, Len: len(s.prices), Window: window}
	}
	return nil
}
