package filters

import "strings"

// CorrelationConfig limits exposure to positions sharing a base currency.
// The full statistical correlation check lives in the safety validator; this
// filter is the cheap per-cycle heuristic that runs before any sizing work.
type CorrelationConfig struct {
	Enabled                bool `json:"enabled" yaml:"enabled"`
	MaxCorrelatedPositions int  `json:"maxCorrelatedPositions" yaml:"max_correlated_positions"`
}

func checkCorrelation(cfg CorrelationConfig, fc Context) Decision {
	if !cfg.Enabled {
		return allow()
	}
	maxN := cfg.MaxCorrelatedPositions
	if maxN <= 0 {
		maxN = 2
	}
	base := BaseCurrency(fc.Symbol)
	if base == "" {
		return allow()
	}
	count := 0
	for _, pos := range fc.OpenPositions {
		if pos.Lots > 0 && BaseCurrency(pos.Symbol) == base {
			count++
		}
	}
	if count >= maxN {
		return block("too many correlated positions for " + base)
	}
	return allow()
}

// BaseCurrency extracts the first leg of a six-letter FX symbol; suffixes like
// ".m" are stripped first.
func BaseCurrency(symbol string) string {
	s := strings.ToUpper(symbol)
	if i := strings.IndexAny(s, "._-"); i > 0 {
		s = s[:i]
	}
	if len(s) < 3 {
		return ""
	}
	return s[:3]
}
