package agent

import (
	"math"
	"math/rand"
)

type Mode int

const (
	// ModeTraining explores epsilon-greedily and learns from replay.
	ModeTraining Mode = iota
	// ModeEvaluating acts greedily and never updates parameters.
	ModeEvaluating
)

func (m Mode) String() string {
	switch m {
	case ModeTraining:
		return "training"
	case ModeEvaluating:
		return "evaluating"
	default:
		return "?"
	}
}

type Exploration struct {
	Start float64 `yaml:"start"`
	Min   float64 `yaml:"min"`
	Decay float64 `yaml:"decay"`
}

// Session holds the mutable training state of one run. Each independent run
// owns its own Session.
type Session struct {
	Mode        Mode
	Epsilon     float64
	Exploration Exploration
	Episode     int
	Steps       int
	TrainSteps  int
	rng         *rand.Rand
}

func NewSession(mode Mode, exploration Exploration, seed int64) *Session {
	s := &Session{
		Mode:        mode,
		Exploration: exploration,
		Epsilon:     exploration.Start,
		rng:         rand.New(rand.NewSource(seed)),
	}
	if mode == ModeEvaluating {
		s.Epsilon = 0
	}
	return s
}

// EndEpisode advances the episode counter and, while training, decays
// epsilon toward its floor.
func (s *Session) EndEpisode() {
	s.Episode++
	if s.Mode == ModeTraining {
		s.Epsilon = math.Max(s.Exploration.Min, s.Epsilon*s.Exploration.Decay)
	}
}

// Evaluation returns a greedy session sharing nothing with s.
func (s *Session) Evaluation(seed int64) *Session {
	return NewSession(ModeEvaluating, s.Exploration, seed)
}
