package filters

import (
	"testing"
	"time"
)

// 2026-03-04 is a Wednesday.
func at(hour int) time.Time {
	return time.Date(2026, 3, 4, hour, 30, 0, 0, time.UTC)
}

func TestSessionWindows(t *testing.T) {
	tests := []struct {
		name    string
		session string
		hour    int
		symbol  string
		allow   bool
	}{
		{"london open hour", "london", 7, "EURUSD", true},
		{"london close hour", "london", 16, "EURUSD", true},
		{"london after close", "london", 17, "EURUSD", false},
		{"newyork mid", "newyork", 15, "EURUSD", true},
		{"tokyo wraps past midnight", "tokyo", 2, "USDJPY", true},
		{"tokyo late evening", "tokyo", 23, "USDJPY", true},
		{"tokyo midday gap", "tokyo", 12, "USDJPY", false},
		{"sydney wraps", "sydney", 3, "AUDUSD", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Session: SessionConfig{
				Enabled:         true,
				AllowedSessions: []string{tt.session},
			}}
			dec := Evaluate(cfg, Context{Symbol: tt.symbol, Now: at(tt.hour), ATRReady: true})
			if dec.Allow != tt.allow {
				t.Fatalf("Allow = %v (%s), want %v", dec.Allow, dec.Reason, tt.allow)
			}
		})
	}
}

func TestSessionOptimalPairs(t *testing.T) {
	cfg := Config{Session: SessionConfig{
		Enabled:         true,
		AllowedSessions: []string{"tokyo"},
		UseOptimalPairs: true,
	}}
	// USDJPY is a Tokyo pair, EURUSD is not.
	if dec := Evaluate(cfg, Context{Symbol: "USDJPY", Now: at(2), ATRReady: true}); !dec.Allow {
		t.Fatalf("USDJPY should pass tokyo optimal pairs: %s", dec.Reason)
	}
	if dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: at(2), ATRReady: true}); dec.Allow {
		t.Fatal("EURUSD should be blocked by tokyo optimal pairs")
	}
}

func TestWeekdayWhitelist(t *testing.T) {
	cfg := Config{Weekdays: WeekdayConfig{
		Enabled: true,
		Allowed: []time.Weekday{time.Monday, time.Tuesday},
	}}
	if dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: at(10), ATRReady: true}); dec.Allow {
		t.Fatal("Wednesday should be blocked")
	}
	monday := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: monday, ATRReady: true}); !dec.Allow {
		t.Fatalf("Monday should pass: %s", dec.Reason)
	}
}

func TestVolatilityBandActions(t *testing.T) {
	tests := []struct {
		name    string
		cfg     VolatilityConfig
		atr     float64
		ready   bool
		allow   bool
		lotMult float64
	}{
		{"inside band", VolatilityConfig{Enabled: true, MinATR: 0.001, MaxATR: 0.01}, 0.005, true, true, 1},
		{"below min skips", VolatilityConfig{Enabled: true, MinATR: 0.001}, 0.0005, true, false, 1},
		{"below min reduces", VolatilityConfig{Enabled: true, MinATR: 0.001, BelowMin: ActionReduceSize}, 0.0005, true, true, 0.5},
		{"above max skips", VolatilityConfig{Enabled: true, MaxATR: 0.01}, 0.02, true, false, 1},
		{"above max reduces", VolatilityConfig{Enabled: true, MaxATR: 0.01, AboveMax: ActionReduceSize}, 0.02, true, true, 0.5},
		{"atr not ready blocks", VolatilityConfig{Enabled: true, MinATR: 0.001}, 0, false, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := Evaluate(Config{Volatility: tt.cfg}, Context{
				Symbol: "EURUSD", Now: at(10), ATR: tt.atr, ATRReady: tt.ready,
			})
			if dec.Allow != tt.allow {
				t.Fatalf("Allow = %v (%s), want %v", dec.Allow, dec.Reason, tt.allow)
			}
			if dec.Allow && dec.LotMultiplier != tt.lotMult {
				t.Fatalf("LotMultiplier = %v, want %v", dec.LotMultiplier, tt.lotMult)
			}
		})
	}
}

func TestSpreadFilter(t *testing.T) {
	cfg := Config{Spread: SpreadConfig{Enabled: true, MaxSpread: 2.0}}
	if dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: at(10), ATRReady: true, SpreadPips: 1.5}); !dec.Allow {
		t.Fatalf("spread within cap should pass: %s", dec.Reason)
	}
	if dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: at(10), ATRReady: true, SpreadPips: 3.0}); dec.Allow {
		t.Fatal("spread past cap should block")
	}

	reduce := Config{Spread: SpreadConfig{Enabled: true, MaxSpread: 2.0, OverAction: ActionReduceSize}}
	dec := Evaluate(reduce, Context{Symbol: "EURUSD", Now: at(10), ATRReady: true, SpreadPips: 3.0})
	if !dec.Allow || dec.LotMultiplier != 0.5 {
		t.Fatalf("REDUCE_SIZE spread: Allow=%v mult=%v", dec.Allow, dec.LotMultiplier)
	}
}

func TestCorrelationHeuristic(t *testing.T) {
	cfg := Config{Correlation: CorrelationConfig{Enabled: true, MaxCorrelatedPositions: 2}}
	open := []OpenPosition{
		{Symbol: "EURUSD", Lots: 0.1},
		{Symbol: "EURGBP", Lots: 0.1},
		{Symbol: "USDJPY", Lots: 0.1},
	}
	// Two EUR-base positions already open: a third EUR pair is blocked.
	if dec := Evaluate(cfg, Context{Symbol: "EURJPY", Now: at(10), ATRReady: true, OpenPositions: open}); dec.Allow {
		t.Fatal("third EUR-base position should be blocked")
	}
	// GBP base is unrelated.
	if dec := Evaluate(cfg, Context{Symbol: "GBPUSD", Now: at(10), ATRReady: true, OpenPositions: open}); !dec.Allow {
		t.Fatalf("GBP-base position should pass: %s", dec.Reason)
	}
}

func TestBaseCurrencyStripsSuffix(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"EURUSD", "EUR"},
		{"eurusd.m", "EUR"},
		{"GBPJPY-pro", "GBP"},
		{"XX", ""},
	}
	for _, tt := range tests {
		if got := BaseCurrency(tt.symbol); got != tt.want {
			t.Fatalf("BaseCurrency(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestReduceActionsCompound(t *testing.T) {
	cfg := Config{
		Volatility: VolatilityConfig{Enabled: true, MaxATR: 0.01, AboveMax: ActionReduceSize},
		Spread:     SpreadConfig{Enabled: true, MaxSpread: 2.0, OverAction: ActionReduceSize},
	}
	dec := Evaluate(cfg, Context{Symbol: "EURUSD", Now: at(10), ATR: 0.02, ATRReady: true, SpreadPips: 3.0})
	if !dec.Allow {
		t.Fatalf("both filters reduce, neither blocks: %s", dec.Reason)
	}
	if dec.LotMultiplier != 0.5 {
		t.Fatalf("LotMultiplier = %v, want 0.5", dec.LotMultiplier)
	}
}
