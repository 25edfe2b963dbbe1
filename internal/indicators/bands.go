package indicators

import (
	"math"

	"executor-core/internal/market"
)

// BollingerBands holds the three band series.
type BollingerBands struct {
	Upper  Series
	Middle Series
	Lower  Series
}

// Bollinger computes mean +/- mult * population standard deviation over the
// trailing window.
func Bollinger(bars []market.Bar, period int, mult float64) BollingerBands {
	n := len(bars)
	bb := BollingerBands{Upper: notReady(n), Middle: notReady(n), Lower: notReady(n)}
	if period <= 0 || n < period {
		return bb
	}
	vals := closes(bars)
	for i := period - 1; i < n; i++ {
		window := vals[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		bb.Middle[i] = ready(mean)
		bb.Upper[i] = ready(mean + mult*sd)
		bb.Lower[i] = ready(mean - mult*sd)
	}
	return bb
}
