package market

import (
	"fmt"
	"time"
)

// Bar is one OHLCV sample for a symbol/timeframe.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Timeframe identifies the bar interval, MT-style (M1..D1).
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
)

// Duration returns the bar interval length. Unknown timeframes fall back to M15.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	}
	return 15 * time.Minute
}

// PollInterval returns how often a strategy on this timeframe re-evaluates.
// Finer timeframes poll more frequently; there is no global tick rate.
func (tf Timeframe) PollInterval() time.Duration {
	switch tf {
	case M1:
		return 5 * time.Second
	case M5:
		return 15 * time.Second
	case M15:
		return 30 * time.Second
	case M30:
		return time.Minute
	case H1:
		return 2 * time.Minute
	case H4:
		return 5 * time.Minute
	case D1:
		return 10 * time.Minute
	}
	return 30 * time.Second
}

// ValidateSeries checks that bar timestamps are strictly increasing.
// Gaps are tolerated; duplicates and out-of-order bars are a data error.
func ValidateSeries(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return fmt.Errorf("bar series not strictly increasing at index %d (%s then %s)",
				i, bars[i-1].Time.Format(time.RFC3339), bars[i].Time.Format(time.RFC3339))
		}
	}
	return nil
}
