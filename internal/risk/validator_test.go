package risk

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"executor-core/internal/account"
	"executor-core/internal/market"
)

func testLimits() Limits {
	l := DefaultLimits()
	l.MaxDailyLoss = 500
	l.MaxDailyLossPercent = 0
	l.MaxDrawdownPercent = 0.20
	l.MaxPositions = 5
	l.MaxLotSize = 1.0
	l.MaxTotalExposure = 1_000_000
	l.MaxCorrelation = 0.85
	return l
}

func healthyAccount() account.Snapshot {
	return account.Snapshot{
		Balance:    10_000,
		Equity:     10_000,
		PeakEquity: 10_000,
		FreeMargin: 9_000,
	}
}

func openCandidate(id string) Candidate {
	return Candidate{
		CommandID:      id,
		StrategyID:     "s1",
		Symbol:         "EURUSD",
		Side:           "BUY",
		Type:           "OPEN",
		Lots:           0.1,
		Price:          1.1,
		Exposure:       11_000,
		RequiredMargin: 110,
	}
}

func newTestValidator(l Limits) *Validator {
	return NewValidator(l, nil, nil, &market.StaticSource{})
}

func hasFailure(v Verdict, reason string) bool {
	for _, cr := range v.FailedChecks {
		if cr.Reason == reason {
			return true
		}
	}
	return false
}

func TestValidatePassesHealthyCandidate(t *testing.T) {
	v := newTestValidator(testLimits())
	verdict := v.Validate(context.Background(), openCandidate("c1"), healthyAccount())
	if !verdict.CanTrade {
		t.Fatalf("healthy candidate rejected: %+v", verdict.FailedChecks)
	}
	if len(verdict.PassedChecks) != 9 {
		t.Fatalf("expected 9 passed checks, got %d", len(verdict.PassedChecks))
	}
}

func TestChecksRunIndependently(t *testing.T) {
	// Break three limits at once; every failure must be reported, not just
	// the first.
	v := newTestValidator(testLimits())
	snap := healthyAccount()
	snap.TodayRealizedPnL = -600
	snap.Equity = 7_500 // 25% drawdown from peak 10000
	snap.PeakEquity = 10_000

	c := openCandidate("c1")
	c.Lots = 2.0

	verdict := v.Validate(context.Background(), c, snap)
	if verdict.CanTrade {
		t.Fatal("candidate should be rejected")
	}
	for _, reason := range []string{ReasonDailyLoss, ReasonDrawdown, ReasonLotSize} {
		if !hasFailure(verdict, reason) {
			t.Fatalf("missing failure %q in %+v", reason, verdict.FailedChecks)
		}
	}
}

func TestDailyLossReasonString(t *testing.T) {
	v := newTestValidator(testLimits())
	snap := healthyAccount()
	snap.TodayRealizedPnL = -500

	verdict := v.Validate(context.Background(), openCandidate("c1"), snap)
	if verdict.CanTrade {
		t.Fatal("candidate at the daily loss limit should be rejected")
	}
	if verdict.FirstReason() != "Daily loss limit reached" {
		t.Fatalf("reason = %q", verdict.FirstReason())
	}
}

func TestMarginBuffer(t *testing.T) {
	v := newTestValidator(testLimits())
	snap := healthyAccount()
	snap.FreeMargin = 150

	c := openCandidate("c1")
	c.RequiredMargin = 110 // 110 * 1.5 = 165 > 150

	verdict := v.Validate(context.Background(), c, snap)
	if !hasFailure(verdict, ReasonMargin) {
		t.Fatalf("margin buffer violation not detected: %+v", verdict)
	}
}

func TestMarketClosed(t *testing.T) {
	v := NewValidator(testLimits(), nil, nil, &market.StaticSource{Untradable: true})
	verdict := v.Validate(context.Background(), openCandidate("c1"), healthyAccount())
	if !hasFailure(verdict, ReasonMarketClosed) {
		t.Fatalf("closed market not detected: %+v", verdict)
	}
}

func TestCloseBypassesValidation(t *testing.T) {
	v := newTestValidator(testLimits())
	snap := healthyAccount()
	snap.TodayRealizedPnL = -10_000 // everything is broken

	for _, typ := range []string{"CLOSE", "CLOSE_ALL"} {
		c := openCandidate("c1")
		c.Type = typ
		if verdict := v.Validate(context.Background(), c, snap); !verdict.CanTrade {
			t.Fatalf("%s must bypass validation", typ)
		}
	}
}

func TestCorrelationFailAndWarn(t *testing.T) {
	corr := &FixedCorrelator{Table: map[string]float64{
		"EURUSD/EURGBP": 0.95,
		"EURUSD/GBPUSD": 0.70, // ≥ 0.8 × 0.85 = 0.68 → warning only
	}}
	v := NewValidator(testLimits(), nil, corr, &market.StaticSource{})

	snap := healthyAccount()
	snap.OpenPositions = []account.Position{{Ticket: "1", Symbol: "EURGBP", Lots: 0.1}}
	verdict := v.Validate(context.Background(), openCandidate("c1"), snap)
	if !hasFailure(verdict, ReasonCorrelation) {
		t.Fatalf("correlation 0.95 should fail: %+v", verdict)
	}

	snap.OpenPositions = []account.Position{{Ticket: "1", Symbol: "GBPUSD", Lots: 0.1}}
	verdict = v.Validate(context.Background(), openCandidate("c2"), snap)
	if !verdict.CanTrade {
		t.Fatalf("correlation 0.70 should pass: %+v", verdict.FailedChecks)
	}
	if len(verdict.Warnings) == 0 {
		t.Fatal("elevated correlation should produce a warning")
	}
}

func TestEventBlackoutWarnsByDefault(t *testing.T) {
	cal := NewCalendar("")
	cal.SetEvents([]CalendarEvent{{
		Title:    "Nonfarm Payrolls",
		Currency: "USD",
		Impact:   "high",
		Time:     time.Now().UTC().Add(10 * time.Minute),
	}})

	v := NewValidator(testLimits(), cal, nil, &market.StaticSource{})
	verdict := v.Validate(context.Background(), openCandidate("c1"), healthyAccount())
	if !verdict.CanTrade {
		t.Fatalf("soft blackout must not reject: %+v", verdict.FailedChecks)
	}
	found := false
	for _, w := range verdict.Warnings {
		if strings.Contains(w, "Nonfarm") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected blackout warning, got %v", verdict.Warnings)
	}

	hard := testLimits()
	hard.EventBlackoutHard = true
	v2 := NewValidator(hard, cal, nil, &market.StaticSource{})
	verdict = v2.Validate(context.Background(), openCandidate("c2"), healthyAccount())
	if !hasFailure(verdict, ReasonEventWindow) {
		t.Fatalf("hard blackout should reject: %+v", verdict)
	}
}

// Four concurrent candidates against maxPositions=3: exactly three may pass.
func TestReservationPreventsJointLimitViolation(t *testing.T) {
	l := testLimits()
	l.MaxPositions = 3
	v := newTestValidator(l)
	snap := healthyAccount()

	var wg sync.WaitGroup
	results := make([]Verdict, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := openCandidate("c" + string(rune('0'+i)))
			results[i] = v.Validate(context.Background(), c, snap)
		}(i)
	}
	wg.Wait()

	passed := 0
	for _, r := range results {
		if r.CanTrade {
			passed++
		} else if r.FirstReason() != "Maximum open positions reached" {
			t.Fatalf("unexpected rejection reason %q", r.FirstReason())
		}
	}
	if passed != 3 {
		t.Fatalf("passed = %d, want exactly 3", passed)
	}
	if slots, _ := v.Reserved(); slots != 3 {
		t.Fatalf("reserved slots = %d, want 3", slots)
	}
}

func TestReleaseAndSettleFreeReservations(t *testing.T) {
	l := testLimits()
	l.MaxPositions = 1
	v := newTestValidator(l)
	snap := healthyAccount()

	if verdict := v.Validate(context.Background(), openCandidate("a"), snap); !verdict.CanTrade {
		t.Fatalf("first candidate rejected: %+v", verdict.FailedChecks)
	}
	if verdict := v.Validate(context.Background(), openCandidate("b"), snap); verdict.CanTrade {
		t.Fatal("second candidate must be rejected while slot reserved")
	}

	v.Release("a")
	if verdict := v.Validate(context.Background(), openCandidate("c"), snap); !verdict.CanTrade {
		t.Fatalf("slot should be free after release: %+v", verdict.FailedChecks)
	}

	v.Settle("c")
	if slots, exposure := v.Reserved(); slots != 0 || exposure != 0 {
		t.Fatalf("reservations not settled: slots=%d exposure=%v", slots, exposure)
	}
	// Releasing an unknown id is a no-op.
	v.Release("never-reserved")
	if slots, _ := v.Reserved(); slots != 0 {
		t.Fatal("release of unknown id must not underflow")
	}
}

func TestExposureReservation(t *testing.T) {
	l := testLimits()
	l.MaxTotalExposure = 20_000
	v := newTestValidator(l)
	snap := healthyAccount()

	a := openCandidate("a") // 11k exposure
	if verdict := v.Validate(context.Background(), a, snap); !verdict.CanTrade {
		t.Fatalf("first exposure rejected: %+v", verdict.FailedChecks)
	}
	b := openCandidate("b") // another 11k would exceed 20k
	verdict := v.Validate(context.Background(), b, snap)
	if !hasFailure(verdict, ReasonExposure) {
		t.Fatalf("exposure limit not enforced: %+v", verdict)
	}
}

func TestLimitsHotReload(t *testing.T) {
	v := newTestValidator(testLimits())
	c := openCandidate("c1")
	c.Lots = 0.5
	if verdict := v.Validate(context.Background(), c, healthyAccount()); !verdict.CanTrade {
		t.Fatalf("0.5 lots should pass with cap 1.0: %+v", verdict.FailedChecks)
	}
	v.Release("c1")

	tight := testLimits()
	tight.MaxLotSize = 0.3
	if err := v.UpdateLimits(tight); err != nil {
		t.Fatalf("UpdateLimits: %v", err)
	}
	verdict := v.Validate(context.Background(), c, healthyAccount())
	if !hasFailure(verdict, ReasonLotSize) {
		t.Fatal("new lot cap must apply on the next call")
	}

	bad := testLimits()
	bad.MaxPositions = -1
	if err := v.UpdateLimits(bad); err == nil {
		t.Fatal("invalid limits must be rejected")
	}
}

func TestLotSizeSizing(t *testing.T) {
	tests := []struct {
		name    string
		balance float64
		rules   SizingRules
		want    float64
	}{
		{"fixed override", 10_000, SizingRules{LotSize: 0.7}, 0.7},
		{"risk based", 10_000, SizingRules{RiskPercentage: 1, StopLossPips: 50, PipValue: 10, MinLot: 0.01, MaxLot: 5}, 0.2},
		{"clamped to max", 1_000_000, SizingRules{RiskPercentage: 2, StopLossPips: 10, PipValue: 10, MinLot: 0.01, MaxLot: 1}, 1},
		{"clamped to min", 100, SizingRules{RiskPercentage: 1, StopLossPips: 50, PipValue: 10, MinLot: 0.01, MaxLot: 5}, 0.01},
		{"degenerate stop falls back to defaults", 10_000, SizingRules{RiskPercentage: 1, StopLossPips: -5}, 10_000 * 0.01 / (10 * 30)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LotSize(tt.balance, tt.rules)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("LotSize = %v, want %v", got, tt.want)
			}
		})
	}
}
