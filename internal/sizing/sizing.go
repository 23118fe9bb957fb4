// Package sizing converts a risk budget into a contract quantity.
package sizing

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrBelowMinSize = errors.New("size below instrument minimum")
	ErrInvalidInput = errors.New("invalid sizing input")
)

// epsilon absorbs float noise such as 2.9999999999 lots so it floors to 3.
const epsilon = 1e-9

// Params are the sizing inputs. Percentages are fractions (0.01 = 1%).
type Params struct {
	Balance       float64
	Price         float64
	ContractValue float64
	RiskPct       float64
	StopLossPct   float64
	LotSize       float64
	MinSize       float64
}

// Size returns the contracts to trade so a stop-loss hit loses about Balance*RiskPct.
// The result is floored to LotSize and never rounded up past the budget.
func Size(p Params) (float64, error) {
	if p.Balance <= 0 || p.Price <= 0 || p.ContractValue <= 0 || p.RiskPct <= 0 || p.StopLossPct <= 0 || p.LotSize <= 0 {
		return 0, fmt.Errorf("%w: %+v", ErrInvalidInput, p)
	}

	targetRisk := p.Balance * p.RiskPct
	lossPerContract := p.Price * p.ContractValue * p.StopLossPct
	raw := targetRisk / lossPerContract

	lots := math.Floor(raw/p.LotSize + epsilon)
	qty := roundTo(lots*p.LotSize, decimals(p.LotSize))

	if qty <= 0 || qty < p.MinSize {
		return 0, fmt.Errorf("%w: raw=%.6f floored=%v min=%v", ErrBelowMinSize, raw, qty, p.MinSize)
	}
	return qty, nil
}

// RoundToTick rounds price to the nearest multiple of tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return roundTo(math.Round(price/tick)*tick, decimals(tick))
}

func decimals(step float64) int {
	d := 0
	for step < 1 && d < 12 {
		step *= 10
		d++
		if math.Abs(step-math.Round(step)) < epsilon {
			break
		}
	}
	return d
}

func roundTo(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
