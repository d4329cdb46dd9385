package market

// Inventory holds the purchase prices of open units. Sells close the oldest
// unit first.
type Inventory struct {
	lots []float64
}

func (inv *Inventory) Buy(price float64) {
	inv.lots = append(inv.lots, price)
}

// Sell pops the earliest purchase price. ok is false when nothing is held.
func (inv *Inventory) Sell() (price float64, ok bool) {
	if len(inv.lots) == 0 {
		return 0, false
	}
	price = inv.lots[0]
	inv.lots = inv.lots[1:]
	return price, true
}

func (inv *Inventory) Len() int {
	return len(inv.lots)
}

func (inv *Inventory) Prices() []float64 {
	out := make([]float64, len(inv.lots))
	copy(out, inv.lots)
	return out
}

func (inv *Inventory) Reset() {
	inv.lots = nil
}
