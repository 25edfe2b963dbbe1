package market

import (
	"context"
	"fmt"
)

// DataSource is the market-data collaborator. Implementations fetch the most
// recent count bars for a symbol/timeframe, newest last.
type DataSource interface {
	GetBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)
	// Tradable reports whether the instrument currently accepts orders.
	Tradable(symbol string) bool
	// Spread returns the current spread in pips, best effort (0 when unknown).
	Spread(symbol string) float64
}

// FetchValidated fetches bars and enforces the append-only invariant.
// An out-of-order series aborts only the calling cycle.
func FetchValidated(ctx context.Context, src DataSource, symbol string, tf Timeframe, count int) ([]Bar, error) {
	bars, err := src.GetBars(ctx, symbol, tf, count)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s %s", symbol, tf)
	}
	if err := ValidateSeries(bars); err != nil {
		return nil, err
	}
	return bars, nil
}
