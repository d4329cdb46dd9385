package buffer

import "dqn-trader/internal/market"

// Transition is one recorded experience. Action is the executed action, so a
// sell that fell back to hold is stored as hold.
type Transition struct {
	State     market.State  `json:"state"`
	Action    market.Action `json:"action"`
	Reward    float64       `json:"reward"`
	NextState market.State  `json:"next_state"`
	Done      bool          `json:"done"`
}
