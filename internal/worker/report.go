package worker

import (
	"github.com/shopspring/decimal"

	"dqn-trader/internal/market"
)

type Phase string

const (
	PhaseTrain    Phase = "train"
	PhaseValidate Phase = "validate"
	PhaseEvaluate Phase = "evaluate"
)

// TraceEntry is one step of an episode as seen by a plotting tool.
type TraceEntry struct {
	Step      int     `json:"step"`
	Action    string  `json:"action"`
	Price     float64 `json:"price"`
	Inventory int     `json:"inventory"`
}

// Report summarizes one episode. Profit is realized and unclipped; Reward
// is the sum of the clipped training rewards.
type Report struct {
	Symbol        string          `json:"symbol"`
	Episode       int             `json:"episode"`
	Phase         Phase           `json:"phase"`
	Profit        decimal.Decimal `json:"profit"`
	Reward        float64         `json:"reward"`
	Buys          int             `json:"buys"`
	Trades        int             `json:"trades"`
	Wins          int             `json:"wins"`
	OpenPositions []float64       `json:"open_positions"`
	Loss          float64         `json:"loss"`
	TrainSteps    int             `json:"train_steps"`
	Epsilon       float64         `json:"epsilon"`
	Trace         []TraceEntry    `json:"trace,omitempty"`
}

func (r *Report) record(out market.Outcome) {
	r.Reward += out.Reward
	switch out.Executed {
	case market.ActionBuy:
		r.Buys++
	case market.ActionSell:
		r.Trades++
		if out.Profit > 0 {
			r.Wins++
		}
		r.Profit = r.Profit.Add(decimal.NewFromFloat(out.Price).Sub(decimal.NewFromFloat(out.BuyPrice)))
	}
}
