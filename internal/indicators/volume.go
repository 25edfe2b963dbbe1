package indicators

import "executor-core/internal/market"

// VWAP is the cumulative typical-price*volume over cumulative volume.
// When resetDaily is set the accumulation restarts at each UTC day boundary
// (the per-session reset used by intraday strategies).
func VWAP(bars []market.Bar, resetDaily bool) Series {
	n := len(bars)
	out := notReady(n)
	var pv, vol float64
	for i, b := range bars {
		if resetDaily && i > 0 {
			prev := bars[i-1].Time.UTC()
			cur := b.Time.UTC()
			if prev.YearDay() != cur.YearDay() || prev.Year() != cur.Year() {
				pv, vol = 0, 0
			}
		}
		tp := (b.High + b.Low + b.Close) / 3
		pv += tp * b.Volume
		vol += b.Volume
		if vol > 0 {
			out[i] = ready(pv / vol)
		}
	}
	return out
}

// OBV accumulates volume: added when close rises, subtracted when it falls,
// unchanged otherwise.
func OBV(bars []market.Bar) Series {
	n := len(bars)
	out := notReady(n)
	if n == 0 {
		return out
	}
	obv := 0.0
	out[0] = ready(0)
	for i := 1; i < n; i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			obv += bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			obv -= bars[i].Volume
		}
		out[i] = ready(obv)
	}
	return out
}

// VolumeLevel classifies a volume ratio.
type VolumeLevel string

const (
	VolumeHigh   VolumeLevel = "high"
	VolumeLow    VolumeLevel = "low"
	VolumeNormal VolumeLevel = "normal"
)

// VolumeRatio is current volume over its moving average.
func VolumeRatio(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	avg := smaFloats(volumes(bars), period)
	for i := 0; i < n; i++ {
		if avg[i].Ready && avg[i].Float64 > 0 {
			out[i] = ready(bars[i].Volume / avg[i].Float64)
		}
	}
	return out
}

// ClassifyVolume maps a ratio to high (>1.5), low (<0.5) or normal.
func ClassifyVolume(ratio float64) VolumeLevel {
	switch {
	case ratio > 1.5:
		return VolumeHigh
	case ratio < 0.5:
		return VolumeLow
	}
	return VolumeNormal
}
