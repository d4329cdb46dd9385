package market

import "math"

// Outcome describes what one step did to the position.
type Outcome struct {
	Requested Action
	Executed  Action
	Price     float64
	// Reward is the training signal: realized profit clipped at zero.
	Reward float64
	// Profit is the unclipped realized profit, non-zero only when Closed.
	Profit float64
	// BuyPrice is the purchase price of the unit closed by a sell.
	BuyPrice float64
	Closed   bool
}

// Env simulates trading one unit at a time over a price series. A step at
// index t trades at price t and observes the state at t+1.
type Env struct {
	series    *Series
	window    int
	t         int
	inventory Inventory
}

func NewEnv(series *Series, window int) (*Env, error) {
	if err := series.Validate(window); err != nil {
		return nil, err
	}
	env := &Env{series: series, window: window}
	env.Reset()
	return env, nil
}

func (e *Env) Reset() State {
	e.t = 0
	e.inventory.Reset()
	return EncodeState(e.series, 0, e.window)
}

// Step applies action at the current price and advances one index. The
// episode is done once the last price becomes the observed state. Stepping a
// finished episode is a hold that changes nothing.
func (e *Env) Step(action Action) (State, Outcome, bool) {
	if e.Done() {
		return EncodeState(e.series, e.t, e.window), Outcome{Requested: action, Executed: ActionHold, Price: e.series.Last()}, true
	}

	price := e.series.prices[e.t]
	outcome := Outcome{Requested: action, Executed: ActionHold, Price: price}

	switch action {
	case ActionBuy:
		e.inventory.Buy(price)
		outcome.Executed = ActionBuy
	case ActionSell:
		if bought, ok := e.inventory.Sell(); ok {
			outcome.Executed = ActionSell
			outcome.BuyPrice = bought
			outcome.Profit = price - bought
			outcome.Reward = math.Max(outcome.Profit, 0)
			outcome.Closed = true
		}
	}

	e.t++
	return EncodeState(e.series, e.t, e.window), outcome, e.Done()
}

// Liquidate sells every open unit at the final price.
func (e *Env) Liquidate() []Outcome {
	price := e.series.Last()
	outcomes := make([]Outcome, 0, e.inventory.Len())
	for {
		bought, ok := e.inventory.Sell()
		if !ok {
			break
		}
		profit := price - bought
		outcomes = append(outcomes, Outcome{
			Requested: ActionSell,
			Executed:  ActionSell,
			Price:     price,
			Reward:    math.Max(profit, 0),
			Profit:    profit,
			BuyPrice:  bought,
			Closed:    true,
		})
	}
	return outcomes
}

func (e *Env) Done() bool {
	return e.t >= e.series.Len()-1
}

func (e *Env) T() int {
	return e.t
}

func (e *Env) Window() int {
	return e.window
}

func (e *Env) Inventory() *Inventory {
	return &e.inventory
}

func (e *Env) Series() *Series {
	return e.series
}

// Steps is the number of transitions in one episode.
func (e *Env) Steps() int {
	return e.series.Len() - 1
}
