package risk

import (
	"context"
	"fmt"
	"math"

	"executor-core/internal/market"
)

// Correlator estimates the trailing correlation between two instruments.
type Correlator interface {
	Correlation(ctx context.Context, a, b string) (float64, error)
}

// BarCorrelator computes a Pearson correlation of daily returns over a
// trailing window fetched from the market-data collaborator.
type BarCorrelator struct {
	Source market.DataSource
	Window int // days, default 30
}

func (c *BarCorrelator) Correlation(ctx context.Context, a, b string) (float64, error) {
	window := c.Window
	if window <= 0 {
		window = 30
	}
	if a == b {
		return 1, nil
	}

	barsA, err := c.Source.GetBars(ctx, a, market.D1, window+1)
	if err != nil {
		return 0, fmt.Errorf("correlation bars for %s: %w", a, err)
	}
	barsB, err := c.Source.GetBars(ctx, b, market.D1, window+1)
	if err != nil {
		return 0, fmt.Errorf("correlation bars for %s: %w", b, err)
	}

	retA := returns(barsA)
	retB := returns(barsB)
	n := len(retA)
	if len(retB) < n {
		n = len(retB)
	}
	if n < 2 {
		return 0, fmt.Errorf("insufficient history for %s/%s correlation", a, b)
	}
	return pearson(retA[len(retA)-n:], retB[len(retB)-n:]), nil
}

func returns(bars []market.Bar) []float64 {
	out := make([]float64, 0, len(bars))
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close != 0 {
			out = append(out, bars[i].Close/bars[i-1].Close-1)
		}
	}
	return out
}

func pearson(x, y []float64) float64 {
	n := float64(len(x))
	var sumX, sumY float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var cov, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

// FixedCorrelator serves a static correlation table; used in tests.
type FixedCorrelator struct {
	Table map[string]float64 // key = "A/B"
}

func (f *FixedCorrelator) Correlation(_ context.Context, a, b string) (float64, error) {
	if v, ok := f.Table[a+"/"+b]; ok {
		return v, nil
	}
	if v, ok := f.Table[b+"/"+a]; ok {
		return v, nil
	}
	return 0, nil
}
