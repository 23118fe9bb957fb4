package indicators

// SMA averages the trailing period closes. It seeds EMA once the first period candles
// have closed, and is 0 while fewer than period values exist.
func SMA(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return 0
	}
	var sum float64
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}
