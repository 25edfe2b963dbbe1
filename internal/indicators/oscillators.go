package indicators

import (
	"math"

	"executor-core/internal/market"
)

// StochasticResult bundles the raw, smoothed and signal lines.
type StochasticResult struct {
	RawK Series
	K    Series // smoothed %K
	D    Series // moving average of smoothed %K
}

// Stochastic computes raw %K from the trailing high/low range, a smoothed %K
// and %D. A flat window (zero range) yields 50 rather than a division error.
func Stochastic(bars []market.Bar, kPeriod, smooth, dPeriod int) StochasticResult {
	n := len(bars)
	res := StochasticResult{RawK: notReady(n)}
	if kPeriod <= 0 || n < kPeriod {
		res.K = notReady(n)
		res.D = notReady(n)
		return res
	}
	raw := make([]float64, 0, n-kPeriod+1)
	for i := kPeriod - 1; i < n; i++ {
		hi, lo := extremes(bars[i-kPeriod+1 : i+1])
		k := 50.0
		if hi != lo {
			k = 100 * (bars[i].Close - lo) / (hi - lo)
		}
		res.RawK[i] = ready(k)
		raw = append(raw, k)
	}
	res.K = shiftSeries(smaFloats(raw, smooth), n, kPeriod-1)
	dInput := make([]float64, 0, len(raw))
	for _, v := range res.K[kPeriod-1:] {
		if v.Ready {
			dInput = append(dInput, v.Float64)
		}
	}
	res.D = shiftSeries(smaFloats(dInput, dPeriod), n, n-len(dInput))
	return res
}

// shiftSeries places sub at offset within a series of length n.
func shiftSeries(sub Series, n, offset int) Series {
	out := notReady(n)
	for i, v := range sub {
		if offset+i < n {
			out[offset+i] = v
		}
	}
	return out
}

func extremes(bars []market.Bar) (hi, lo float64) {
	hi = bars[0].High
	lo = bars[0].Low
	for _, b := range bars[1:] {
		if b.High > hi {
			hi = b.High
		}
		if b.Low < lo {
			lo = b.Low
		}
	}
	return hi, lo
}

// RSI computes the relative strength index with a simple rolling mean of
// gains and losses over the period.
func RSI(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	if period <= 0 || n < period+1 {
		return out
	}
	vals := closes(bars)
	for i := period; i < n; i++ {
		gain, loss := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			change := vals[j] - vals[j-1]
			if change > 0 {
				gain += change
			} else {
				loss -= change
			}
		}
		if loss == 0 {
			out[i] = ready(100)
			continue
		}
		rs := gain / loss
		out[i] = ready(100 - 100/(1+rs))
	}
	return out
}

// WilliamsR computes Williams %R bound to [-100, 0]. A flat window yields -50.
func WilliamsR(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	if period <= 0 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		hi, lo := extremes(bars[i-period+1 : i+1])
		r := -50.0
		if hi != lo {
			r = -100 * (hi - bars[i].Close) / (hi - lo)
		}
		out[i] = ready(math.Max(-100, math.Min(0, r)))
	}
	return out
}

// CCI computes the commodity channel index over typical prices. When the mean
// absolute deviation is zero the output is defined as 0; the underlying math
// is undefined at that point and downstream rule evaluation needs a number.
func CCI(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	if period <= 0 || n < period {
		return out
	}
	tp := make([]float64, n)
	for i, b := range bars {
		tp[i] = (b.High + b.Low + b.Close) / 3
	}
	for i := period - 1; i < n; i++ {
		window := tp[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		mad := 0.0
		for _, v := range window {
			mad += math.Abs(v - mean)
		}
		mad /= float64(period)
		if mad == 0 {
			out[i] = ready(0)
			continue
		}
		out[i] = ready((tp[i] - mean) / (0.015 * mad))
	}
	return out
}

// MACDResult bundles the MACD line, signal line and histogram.
type MACDResult struct {
	Line      Series
	Signal    Series
	Histogram Series
}

// MACD computes fast EMA minus slow EMA with an EMA signal line.
func MACD(bars []market.Bar, fast, slow, signal int) MACDResult {
	n := len(bars)
	fastS := EMA(bars, fast)
	slowS := EMA(bars, slow)
	line := notReady(n)
	for i := 0; i < n; i++ {
		if fastS[i].Ready && slowS[i].Ready {
			line[i] = ready(fastS[i].Float64 - slowS[i].Float64)
		}
	}
	sig := emaSeries(line, signal)
	hist := notReady(n)
	for i := 0; i < n; i++ {
		if line[i].Ready && sig[i].Ready {
			hist[i] = ready(line[i].Float64 - sig[i].Float64)
		}
	}
	return MACDResult{Line: line, Signal: sig, Histogram: hist}
}
