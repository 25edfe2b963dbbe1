package indicators

import (
	"math"

	"executor-core/internal/market"
)

func trueRange(cur, prev market.Bar) float64 {
	tr := cur.High - cur.Low
	if d := math.Abs(cur.High - prev.Close); d > tr {
		tr = d
	}
	if d := math.Abs(cur.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// ATR is the average true range, a simple rolling mean of TR over the period.
func ATR(bars []market.Bar, period int) Series {
	n := len(bars)
	out := notReady(n)
	if period <= 0 || n < period+1 {
		return out
	}
	trs := make([]float64, n)
	for i := 1; i < n; i++ {
		trs[i] = trueRange(bars[i], bars[i-1])
	}
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += trs[i]
		if i > period {
			sum -= trs[i-period]
		}
		if i >= period {
			out[i] = ready(sum / float64(period))
		}
	}
	return out
}

// ADXResult carries the trend-strength line plus its directional components.
type ADXResult struct {
	ADX     Series
	PlusDI  Series
	MinusDI Series
}

// ADX computes Wilder's average directional index. True range and
// directional movement are smoothed with Wilder's recursive method.
// When +DI and -DI sum to zero the DX term is defined as 0, not NaN.
// Warm-up requires 2*period bars after the seed candle.
func ADX(bars []market.Bar, period int) ADXResult {
	n := len(bars)
	res := ADXResult{ADX: notReady(n), PlusDI: notReady(n), MinusDI: notReady(n)}
	if period <= 0 || n < 2*period+1 {
		return res
	}

	var smTR, smPDM, smMDM float64
	var adx float64
	dxCount := 0
	dxSum := 0.0

	for i := 1; i < n; i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		var pdm, mdm float64
		if upMove > downMove && upMove > 0 {
			pdm = upMove
		}
		if downMove > upMove && downMove > 0 {
			mdm = downMove
		}
		tr := trueRange(bars[i], bars[i-1])

		if i <= period {
			// accumulate the initial Wilder sums
			smTR += tr
			smPDM += pdm
			smMDM += mdm
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPDM = smPDM - smPDM/float64(period) + pdm
			smMDM = smMDM - smMDM/float64(period) + mdm
		}

		var pdi, mdi float64
		if smTR > 0 {
			pdi = 100 * smPDM / smTR
			mdi = 100 * smMDM / smTR
		}
		res.PlusDI[i] = ready(pdi)
		res.MinusDI[i] = ready(mdi)

		dx := 0.0
		if pdi+mdi > 0 {
			dx = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
		}

		dxCount++
		if dxCount < period {
			dxSum += dx
			continue
		}
		if dxCount == period {
			dxSum += dx
			adx = dxSum / float64(period)
		} else {
			adx = (adx*float64(period-1) + dx) / float64(period)
		}
		res.ADX[i] = ready(adx)
	}
	return res
}
