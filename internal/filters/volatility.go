package filters

import "strings"

// BandAction is what happens when volatility or spread leaves its band.
type BandAction string

const (
	ActionSkip       BandAction = "SKIP"
	ActionReduceSize BandAction = "REDUCE_SIZE"
)

// VolatilityConfig rejects or down-weights outside an ATR band.
type VolatilityConfig struct {
	Enabled  bool       `json:"enabled" yaml:"enabled"`
	MinATR   float64    `json:"minATR" yaml:"min_atr"`
	MaxATR   float64    `json:"maxATR" yaml:"max_atr"`
	BelowMin BandAction `json:"belowMin" yaml:"below_min"`
	AboveMax BandAction `json:"aboveMax" yaml:"above_max"`
}

func checkVolatility(cfg VolatilityConfig, fc Context) Decision {
	if !cfg.Enabled {
		return allow()
	}
	if !fc.ATRReady {
		return block("volatility unknown: ATR not ready")
	}
	if cfg.MinATR > 0 && fc.ATR < cfg.MinATR {
		if action(cfg.BelowMin) == ActionReduceSize {
			return Decision{Allow: true, LotMultiplier: 0.5, Reason: "ATR below band, size reduced"}
		}
		return block("ATR below minimum")
	}
	if cfg.MaxATR > 0 && fc.ATR > cfg.MaxATR {
		if action(cfg.AboveMax) == ActionReduceSize {
			return Decision{Allow: true, LotMultiplier: 0.5, Reason: "ATR above band, size reduced"}
		}
		return block("ATR above maximum")
	}
	return allow()
}

// SpreadConfig skips or down-weights when the live spread widens past a cap.
type SpreadConfig struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	MaxSpread  float64    `json:"maxSpread" yaml:"max_spread"` // pips
	OverAction BandAction `json:"action" yaml:"action"`
}

func checkSpread(cfg SpreadConfig, fc Context) Decision {
	if !cfg.Enabled || cfg.MaxSpread <= 0 {
		return allow()
	}
	if fc.SpreadPips <= cfg.MaxSpread {
		return allow()
	}
	if action(cfg.OverAction) == ActionReduceSize {
		return Decision{Allow: true, LotMultiplier: 0.5, Reason: "spread wide, size reduced"}
	}
	return block("spread above maximum")
}

func action(a BandAction) BandAction {
	if strings.EqualFold(string(a), string(ActionReduceSize)) {
		return ActionReduceSize
	}
	return ActionSkip
}
