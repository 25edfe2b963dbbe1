package indicators

import "executor-core/internal/market"

// CloudSignal classifies the Ichimoku state.
type CloudSignal int

const (
	CloudNeutral CloudSignal = iota
	CloudBullish
	CloudBearish
)

func (s CloudSignal) String() string {
	switch s {
	case CloudBullish:
		return "bullish"
	case CloudBearish:
		return "bearish"
	}
	return "neutral"
}

// IchimokuResult holds the five Ichimoku lines, unshifted (each index carries
// the value computed at that bar; display shifting is a charting concern).
type IchimokuResult struct {
	Tenkan  Series // fast midpoint
	Kijun   Series // slow midpoint
	SenkouA Series // average of tenkan and kijun
	SenkouB Series // slower midpoint
	Chikou  Series // lagging close
}

// Ichimoku computes the trend-cloud indicator with the given midpoint periods.
func Ichimoku(bars []market.Bar, tenkanPeriod, kijunPeriod, senkouBPeriod int) IchimokuResult {
	n := len(bars)
	res := IchimokuResult{
		Tenkan:  midpoint(bars, tenkanPeriod),
		Kijun:   midpoint(bars, kijunPeriod),
		SenkouA: notReady(n),
		SenkouB: midpoint(bars, senkouBPeriod),
		Chikou:  notReady(n),
	}
	for i := 0; i < n; i++ {
		if res.Tenkan[i].Ready && res.Kijun[i].Ready {
			res.SenkouA[i] = ready((res.Tenkan[i].Float64 + res.Kijun[i].Float64) / 2)
		}
	}
	// chikou is the close displaced back by the kijun period
	for i := kijunPeriod; i < n; i++ {
		res.Chikou[i-kijunPeriod] = ready(bars[i].Close)
	}
	return res
}

// Signal classifies the latest state. Bullish needs the fast midpoint above
// the slow one AND price above both cloud boundaries; bearish is the mirror.
func (r IchimokuResult) Signal(price float64) CloudSignal {
	tenkan, ok1 := r.Tenkan.Last()
	kijun, ok2 := r.Kijun.Last()
	a, ok3 := r.SenkouA.Last()
	b, ok4 := r.SenkouB.Last()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return CloudNeutral
	}
	top, bottom := a, b
	if b > a {
		top, bottom = b, a
	}
	switch {
	case tenkan > kijun && price > top:
		return CloudBullish
	case tenkan < kijun && price < bottom:
		return CloudBearish
	}
	return CloudNeutral
}

func midpoint(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	if period <= 0 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		hi, lo := extremes(bars[i-period+1 : i+1])
		out[i] = ready((hi + lo) / 2)
	}
	return out
}
