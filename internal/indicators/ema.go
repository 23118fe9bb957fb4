package indicators

// EMA is an exponential moving average seeded with the SMA of its first period values.
type EMA struct {
	period int
	alpha  float64
	value  float64
	seed   []float64
}

func NewEMA(period int) *EMA {
	if period <= 0 {
		period = 1
	}
	return &EMA{
		period: period,
		alpha:  2 / float64(period+1),
		seed:   make([]float64, 0, period),
	}
}

// Update ingests the next close and returns the current value. ok is false until the
// average has seen period values.
func (e *EMA) Update(price float64) (value float64, ok bool) {
	if len(e.seed) < e.period {
		e.seed = append(e.seed, price)
		if len(e.seed) < e.period {
			return 0, false
		}
		e.value = SMA(e.seed, e.period)
		return e.value, true
	}
	e.value = price*e.alpha + e.value*(1-e.alpha)
	return e.value, true
}

func (e *EMA) Ready() bool { return len(e.seed) >= e.period }

func (e *EMA) Value() float64 { return e.value }

func (e *EMA) Period() int { return e.period }
