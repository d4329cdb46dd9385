package market

import (
	"fmt"
	"strings"
)

// Action is one of the three discrete trading decisions. The numeric order
// is also the tie-break order for greedy selection.
type Action int

const (
	ActionBuy Action = iota
	ActionSell
	ActionHold
)

// NumActions is the width of every action-value vector.
const NumActions = 3

func (a Action) String() string {
	switch a {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionHold:
		return "hold"
	default:
		return "?"
	}
}

func (a Action) Valid() bool {
	return a >= ActionBuy && a <= ActionHold
}

func ParseAction(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	case "hold":
		return ActionHold, nil
	default:
		return 0, fmt.Errorf("unknown action %q", value)
	}
}
