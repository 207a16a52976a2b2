package indicators

// SMA returns the simple average of the last period values, or zero if
// there are fewer than period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period values. Entries before index period-1 are zero.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	var seed float64
	for _, v := range values[:period] {
		seed += v
	}
	out[period-1] = seed / float64(period)

	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD returns the MACD line (EMA fast - EMA slow) and its EMA signal line.
// Both slices have the length of closes. The line is valid from index
// slow-1 and the signal from slow+signal-2.
func MACD(closes []float64, fast, slow, signal int) (line, sig []float64) {
	line = make([]float64, len(closes))
	sig = make([]float64, len(closes))
	if len(closes) < slow {
		return line, sig
	}

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := slow - 1; i < len(closes); i++ {
		line[i] = emaFast[i] - emaSlow[i]
	}

	signalTail := EMA(line[slow-1:], signal)
	copy(sig[slow-1:], signalTail)
	return line, sig
}
