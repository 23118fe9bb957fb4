package risk

import (
	"okx-core/internal/sizing"
	"okx-core/pkg/exchanges/common"
)

// Brackets returns the take-profit and stop-loss trigger prices for an entry at price,
// rounded to the instrument tick.
func Brackets(side common.Side, price, takeProfitPct, stopLossPct, tick float64) (tp, sl float64) {
	if side == common.SideBuy {
		tp = price * (1 + takeProfitPct)
		sl = price * (1 - stopLossPct)
	} else {
		tp = price * (1 - takeProfitPct)
		sl = price * (1 + stopLossPct)
	}
	return sizing.RoundToTick(tp, tick), sizing.RoundToTick(sl, tick)
}

// PosSide maps an entry side to the hedge-mode position side.
func PosSide(side common.Side) string {
	if side == common.SideBuy {
		return "long"
	}
	return "short"
}
