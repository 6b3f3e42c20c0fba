package store

import "github.com/shopspring/decimal"

// averagePlaces is the scale of a position's weighted average cost.
const averagePlaces = 4

// AverageOnBuy folds a purchase into an existing position and returns the
// new quantity and weighted average price:
//
//	newAvg = (oldAvg×oldQty + price×qty) / (oldQty+qty)
//
// rounded half-even to 4 fractional digits.
func AverageOnBuy(oldQty, oldAvg, qty, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	newQty := oldQty.Add(qty)
	totalValue := oldAvg.Mul(oldQty).Add(price.Mul(qty))
	newAvg := totalValue.Div(newQty).RoundBank(averagePlaces)
	return newQty, newAvg
}
