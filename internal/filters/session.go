package filters

import (
	"strings"
	"time"
)

// SessionConfig gates evaluation by named trading-session windows.
type SessionConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled"`
	AllowedSessions []string `json:"allowedSessions" yaml:"allowed_sessions"`
	// UseOptimalPairs restricts each session to the pairs most liquid in it.
	UseOptimalPairs bool `json:"useOptimalPairs" yaml:"use_optimal_pairs"`
	// Timezone for window matching; defaults to UTC.
	Timezone string `json:"timezone" yaml:"timezone"`
}

type window struct {
	start, end int // hours, end inclusive; start > end wraps midnight
}

var sessionWindows = map[string]window{
	"london":  {7, 16},
	"newyork": {12, 21},
	"tokyo":   {23, 8},
	"sydney":  {21, 6},
}

var optimalPairs = map[string][]string{
	"london":  {"EURUSD", "GBPUSD", "EURGBP", "XAUUSD"},
	"newyork": {"EURUSD", "USDJPY", "USDCAD", "XAUUSD"},
	"tokyo":   {"USDJPY", "AUDJPY", "NZDJPY"},
	"sydney":  {"AUDUSD", "NZDUSD", "AUDJPY"},
}

func checkSession(cfg SessionConfig, fc Context) Decision {
	if !cfg.Enabled || len(cfg.AllowedSessions) == 0 {
		return allow()
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	hour := fc.Now.In(loc).Hour()
	symbol := strings.ToUpper(fc.Symbol)

	for _, session := range cfg.AllowedSessions {
		key := strings.ToLower(session)
		w, ok := sessionWindows[key]
		if !ok {
			continue
		}
		if cfg.UseOptimalPairs {
			if pairs, ok := optimalPairs[key]; ok && !containsSymbol(pairs, symbol) {
				continue
			}
		}
		if w.start <= w.end {
			if hour >= w.start && hour <= w.end {
				return allow()
			}
		} else if hour >= w.start || hour <= w.end {
			return allow()
		}
	}
	return block("outside allowed sessions")
}

func containsSymbol(pairs []string, symbol string) bool {
	for _, p := range pairs {
		if p == symbol {
			return true
		}
	}
	return false
}

// WeekdayConfig whitelists weekdays; empty list with Enabled means no
// trading at all, which is rejected at definition validation instead.
type WeekdayConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Allowed []time.Weekday `json:"allowed" yaml:"allowed"`
}

func checkWeekday(cfg WeekdayConfig, fc Context) Decision {
	if !cfg.Enabled || len(cfg.Allowed) == 0 {
		return allow()
	}
	day := fc.Now.UTC().Weekday()
	for _, d := range cfg.Allowed {
		if d == day {
			return allow()
		}
	}
	return block("weekday not allowed")
}
