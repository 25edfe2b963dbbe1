package filters

import (
	"time"
)

// Config bundles the per-strategy filter settings. A zero Config allows
// everything.
type Config struct {
	Session     SessionConfig     `json:"session" yaml:"session"`
	Weekdays    WeekdayConfig     `json:"weekdays" yaml:"weekdays"`
	Volatility  VolatilityConfig  `json:"volatility" yaml:"volatility"`
	Spread      SpreadConfig      `json:"spread" yaml:"spread"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
}

// Decision is the outcome of the filter gate. A blocked cycle suppresses
// signal emission for that cycle only; it never terminates the strategy.
type Decision struct {
	Allow         bool
	LotMultiplier float64
	Reason        string
}

func allow() Decision { return Decision{Allow: true, LotMultiplier: 1} }

func block(reason string) Decision { return Decision{Reason: reason, LotMultiplier: 1} }

// Context carries the live inputs each filter inspects.
type Context struct {
	Symbol        string
	Now           time.Time
	ATR           float64
	ATRReady      bool
	SpreadPips    float64
	OpenPositions []OpenPosition
}

// OpenPosition is the minimal view of an open position the correlation
// filter needs.
type OpenPosition struct {
	Symbol string
	Lots   float64
}

// Evaluate runs every configured filter. The first block wins; REDUCE_SIZE
// actions compound into the lot multiplier instead of blocking.
func Evaluate(cfg Config, fc Context) Decision {
	dec := allow()

	if d := checkSession(cfg.Session, fc); !d.Allow {
		return d
	}
	if d := checkWeekday(cfg.Weekdays, fc); !d.Allow {
		return d
	}
	if d := checkVolatility(cfg.Volatility, fc); !d.Allow {
		return d
	} else if d.LotMultiplier < dec.LotMultiplier {
		dec.LotMultiplier = d.LotMultiplier
	}
	if d := checkSpread(cfg.Spread, fc); !d.Allow {
		return d
	} else if d.LotMultiplier < dec.LotMultiplier {
		dec.LotMultiplier = d.LotMultiplier
	}
	if d := checkCorrelation(cfg.Correlation, fc); !d.Allow {
		return d
	}
	return dec
}
