package indicators

import "executor-core/internal/market"

// smaFloats computes a trailing-window arithmetic mean over raw values.
func smaFloats(values []float64, period int) Series {
	out := notReady(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = ready(sum / float64(period))
		}
	}
	return out
}

// emaFloats computes an exponential moving average seeded with the SMA of the
// first period values.
func emaFloats(values []float64, period int) Series {
	out := notReady(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	prev := sum / float64(period)
	out[period-1] = ready(prev)
	k := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = (values[i]-prev)*k + prev
		out[i] = ready(prev)
	}
	return out
}

// emaSeries applies an EMA on top of another indicator series, honoring its
// warm-up prefix. Used for MACD signal smoothing.
func emaSeries(in Series, period int) Series {
	out := notReady(len(in))
	start := -1
	for i, v := range in {
		if v.Ready {
			start = i
			break
		}
	}
	if start < 0 || len(in)-start < period {
		return out
	}
	vals := make([]float64, 0, len(in)-start)
	for _, v := range in[start:] {
		vals = append(vals, v.Float64)
	}
	sub := emaFloats(vals, period)
	for i, v := range sub {
		out[start+i] = v
	}
	return out
}

// SMA is the arithmetic mean of closes over the trailing window.
func SMA(bars []market.Bar, period int) Series {
	return smaFloats(closes(bars), period)
}

// EMA is the exponential moving average of closes.
func EMA(bars []market.Bar, period int) Series {
	return emaFloats(closes(bars), period)
}

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func volumes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
