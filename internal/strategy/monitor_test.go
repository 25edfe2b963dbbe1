package strategy

import (
	"context"
	"testing"
	"time"

	"executor-core/internal/account"
	"executor-core/internal/market"
	"executor-core/internal/order"
	"executor-core/internal/risk"
	"executor-core/internal/rules"
)

func barsFromCloses(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c + 0.0005,
			Low:    c - 0.0005,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func leaf(id, indicator string, op rules.Op, v float64) *rules.Node {
	val := v
	return &rules.Node{Kind: rules.KindComparison, ID: id, Indicator: indicator, Op: op, Value: rules.Operand{Number: &val}}
}

func crossLeaf(id, indicator string, op rules.Op, other string) *rules.Node {
	return &rules.Node{Kind: rules.KindComparison, ID: id, Indicator: indicator, Op: op, Value: rules.Operand{Indicator: other}}
}

type cycleGate struct {
	active bool
	errors int
}

func (g *cycleGate) Active() bool      { return g.active }
func (g *cycleGate) RecordCycleError() {}

type countingGate struct{ errors int }

func (g *countingGate) Active() bool      { return false }
func (g *countingGate) RecordCycleError() { g.errors++ }

func generousLimits() risk.Limits {
	l := risk.DefaultLimits()
	l.MaxPositions = 10
	l.MaxLotSize = 5
	l.MaxTotalExposure = 10_000_000
	return l
}

type testEnv struct {
	source *market.StaticSource
	queue  *order.Queue
	gate   *cycleGate
	deps   Deps
}

func newEnv(closes []float64, positions ...account.Position) *testEnv {
	src := &market.StaticSource{Bars: map[string][]market.Bar{"EURUSD": barsFromCloses(closes)}, Pips: 1.0}
	mgr := account.NewManager(nil, nil, time.Minute)
	mgr.SetSnapshot(account.Snapshot{
		Balance:       10_000,
		Equity:        10_000,
		FreeMargin:    9_000,
		OpenPositions: positions,
	})
	gate := &cycleGate{}
	queue := order.NewQueue(32, nil)
	return &testEnv{
		source: src,
		queue:  queue,
		gate:   gate,
		deps: Deps{
			Source:    src,
			Validator: risk.NewValidator(generousLimits(), nil, nil, src),
			Queue:     queue,
			Accounts:  mgr,
			Gate:      gate,
			Bus:       nil,
		},
	}
}

func trendDef() Definition {
	return Definition{
		ID:        "s1",
		Symbol:    "EURUSD",
		Timeframe: market.M15,
		EntryBuy:  leaf("e1", "sma_2", rules.OpGreaterThan, 0),
		Sizing:    risk.SizingRules{LotSize: 0.1, StopLossPips: 20},
	}
}

func mustMonitor(t *testing.T, def Definition, deps Deps) *Monitor {
	t.Helper()
	m, err := NewMonitor(def, deps)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return m
}

func TestCycleEmitsValidatedOpen(t *testing.T) {
	env := newEnv([]float64{1.1000, 1.1010, 1.1020, 1.1030, 1.1040})
	m := mustMonitor(t, trendDef(), env.deps)
	m.state = StateRunning

	if err, fatal := m.cycle(context.Background()); err != nil || fatal {
		t.Fatalf("cycle: err=%v fatal=%v", err, fatal)
	}

	cmd := env.queue.Dequeue()
	if cmd == nil {
		t.Fatal("no command enqueued")
	}
	if cmd.Type != order.CommandOpen || cmd.Side != "BUY" || cmd.Symbol != "EURUSD" {
		t.Fatalf("command = %+v", cmd)
	}
	if cmd.Lots != 0.1 {
		t.Fatalf("lots = %v, want 0.1", cmd.Lots)
	}
	if cmd.Priority != order.PriorityNormal {
		t.Fatalf("priority = %s, want NORMAL for a non-cross match", cmd.Priority)
	}
	wantStop := 1.1040 - 20*0.0001
	if diff := cmd.StopLoss - wantStop; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("stopLoss = %v, want %v", cmd.StopLoss, wantStop)
	}
	if slots, _ := env.deps.Validator.Reserved(); slots != 1 {
		t.Fatalf("reserved slots = %d, want 1", slots)
	}
}

func TestCrossSignalGetsHighPriority(t *testing.T) {
	// close crosses above sma_3 on the final bar.
	env := newEnv([]float64{6, 5, 4, 3, 9})
	def := trendDef()
	def.EntryBuy = crossLeaf("x1", "close", rules.OpCrossesAbove, "sma_3")
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	cmd := env.queue.Dequeue()
	if cmd == nil || cmd.Priority != order.PriorityHigh {
		t.Fatalf("cross signal priority = %v, want HIGH", cmd)
	}
}

func TestRejectedSignalLeavesNoReservation(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101, 1.102})
	def := trendDef()
	def.Sizing.LotSize = 0.1
	tight := generousLimits()
	tight.MaxLotSize = 0.05
	env.deps.Validator = risk.NewValidator(tight, nil, nil, env.source)
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if env.queue.Len() != 0 {
		t.Fatal("rejected signal must not reach the queue")
	}
	if slots, _ := env.deps.Validator.Reserved(); slots != 0 {
		t.Fatalf("reserved slots = %d, want 0", slots)
	}
}

func TestExitRulesCloseOncePerTicket(t *testing.T) {
	pos := account.Position{Ticket: "101", StrategyID: "s1", Symbol: "EURUSD", Side: "BUY", Lots: 0.1, OpenPrice: 1.1}
	env := newEnv([]float64{1.1, 1.101, 1.102}, pos)
	def := trendDef()
	def.EntryBuy = leaf("e1", "close", rules.OpLessThan, 0) // never matches
	def.Exit = leaf("x1", "sma_2", rules.OpGreaterThan, 0)  // always matches
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	cmd := env.queue.Dequeue()
	if cmd == nil || cmd.Type != order.CommandClose || cmd.Ticket != 101 {
		t.Fatalf("close command = %+v", cmd)
	}
	if cmd.Priority != order.PriorityHigh {
		t.Fatalf("close priority = %s, want HIGH", cmd.Priority)
	}

	// Position still open next cycle: the queued close must not repeat.
	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if env.queue.Len() != 0 {
		t.Fatal("duplicate CLOSE for a ticket already closing")
	}
}

func TestPausedRunsExitsButNoEntries(t *testing.T) {
	pos := account.Position{Ticket: "7", StrategyID: "s1", Symbol: "EURUSD", Side: "BUY", Lots: 0.1, OpenPrice: 1.1}
	env := newEnv([]float64{1.1, 1.101, 1.102}, pos)
	def := trendDef() // entry always matches
	def.Exit = leaf("x1", "sma_2", rules.OpGreaterThan, 0)
	m := mustMonitor(t, def, env.deps)
	m.state = StatePaused

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	cmd := env.queue.Dequeue()
	if cmd == nil || cmd.Type != order.CommandClose {
		t.Fatalf("paused monitor must still exit, got %+v", cmd)
	}
	if env.queue.Len() != 0 {
		t.Fatal("paused monitor must not open positions")
	}
}

func TestEmergencyGateSuppressesEntries(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101, 1.102})
	m := mustMonitor(t, trendDef(), env.deps)
	m.state = StateRunning
	env.gate.active = true

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if env.queue.Len() != 0 {
		t.Fatal("entries must be suppressed while the emergency gate is active")
	}
}

func TestTrailingStopEmitsModify(t *testing.T) {
	pos := account.Position{Ticket: "9", StrategyID: "s1", Symbol: "EURUSD", Side: "BUY", Lots: 0.1, OpenPrice: 1.1000}
	env := newEnv([]float64{1.1000, 1.1020, 1.1050}, pos)
	def := trendDef()
	def.EntryBuy = leaf("e1", "close", rules.OpLessThan, 0)
	def.Management.TrailingStopPips = 20
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	cmd := env.queue.Dequeue()
	if cmd == nil || cmd.Type != order.CommandModify || cmd.Ticket != 9 {
		t.Fatalf("modify command = %+v", cmd)
	}
	wantStop := 1.1050 - 20*0.0001
	if diff := cmd.StopLoss - wantStop; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("trailing stop = %v, want %v", cmd.StopLoss, wantStop)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101})
	m := mustMonitor(t, trendDef(), env.deps)

	if err := m.Pause(); err == nil {
		t.Fatal("pause from CREATED must fail")
	}
	if err := m.Resume(); err == nil {
		t.Fatal("resume from CREATED must fail")
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Fatal("start from RUNNING must fail")
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("state = %s, want STOPPED", m.State())
	}

	// Stopped monitors restart.
	if err := m.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = m.Stop()
}

func TestStartBlockedDuringEmergency(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101})
	env.gate.active = true
	m := mustMonitor(t, trendDef(), env.deps)
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("start during emergency must fail")
	}
}

func TestStopClosesOwnedPositionsOnce(t *testing.T) {
	pos := account.Position{Ticket: "55", StrategyID: "s1", Symbol: "EURUSD", Side: "BUY", Lots: 0.1, OpenPrice: 1.1}
	env := newEnv([]float64{1.1, 1.101}, pos)
	m := mustMonitor(t, trendDef(), env.deps)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	closes := 0
	for {
		cmd := env.queue.Dequeue()
		if cmd == nil {
			break
		}
		if cmd.Type == order.CommandClose && cmd.Ticket == 55 {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("close commands for ticket 55 = %d, want exactly 1", closes)
	}
}

func TestFetchErrorsFaultAfterThreshold(t *testing.T) {
	env := newEnv(nil)
	env.source.Bars = nil // every fetch returns no bars
	gate := &countingGate{}
	env.deps.Gate = gate
	m := mustMonitor(t, trendDef(), env.deps)
	m.state = StateRunning

	for i := 0; i < faultThreshold-1; i++ {
		m.tick(context.Background())
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s before threshold, want RUNNING", m.State())
	}
	m.tick(context.Background())
	if m.State() != StateFaulted {
		t.Fatalf("state = %s, want FAULTED after %d errors", m.State(), faultThreshold)
	}
	if gate.errors != faultThreshold {
		t.Fatalf("gate saw %d cycle errors, want %d", gate.errors, faultThreshold)
	}
}

func TestEvaluationErrorFaultsImmediately(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101, 1.102})
	def := trendDef()
	def.EntryBuy = leaf("e1", "no_such_indicator", rules.OpGreaterThan, 0)
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	m.tick(context.Background())
	if m.State() != StateFaulted {
		t.Fatalf("state = %s, want FAULTED on evaluation error", m.State())
	}
}

func TestOutOfOrderBarsAreCycleErrors(t *testing.T) {
	bars := barsFromCloses([]float64{1.1, 1.101, 1.102})
	bars[2].Time = bars[0].Time // duplicate timestamp
	env := newEnv(nil)
	env.source.Bars = map[string][]market.Bar{"EURUSD": bars}
	m := mustMonitor(t, trendDef(), env.deps)
	m.state = StateRunning

	err, fatal := m.cycle(context.Background())
	if err == nil {
		t.Fatal("out-of-order series must abort the cycle")
	}
	if fatal {
		t.Fatal("a data error counts toward the threshold, it is not fatal")
	}
}

func TestRegistryHaltAll(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101})
	r := NewRegistry(context.Background(), env.deps)

	for _, id := range []string{"a", "b"} {
		def := trendDef()
		def.ID = id
		if err := r.Start(def); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	if got := r.ActiveCount(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	r.HaltAll("shutdown")
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("active after halt = %d, want 0", got)
	}
	for _, m := range r.List() {
		if m.State() != StateStopped {
			t.Fatalf("monitor %s state = %s", m.Definition().ID, m.State())
		}
	}

	if _, err := r.Get("missing"); err == nil {
		t.Fatal("unknown strategy must error")
	}
}

func TestResumeHaltedRestartsOnlyActiveMonitors(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101})
	r := NewRegistry(context.Background(), env.deps)

	for _, id := range []string{"a", "b", "c"} {
		def := trendDef()
		def.ID = id
		if err := r.Start(def); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}
	// "c" was stopped by hand before the halt; it must stay stopped.
	mc, _ := r.Get("c")
	if err := mc.Stop(); err != nil {
		t.Fatalf("stop c: %v", err)
	}

	r.HaltAll("emergency")
	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("active after halt = %d, want 0", got)
	}

	r.ResumeHalted("emergency cleared")
	for _, id := range []string{"a", "b"} {
		m, _ := r.Get(id)
		if m.State() != StateRunning {
			t.Fatalf("monitor %s state = %s, want RUNNING after resume", id, m.State())
		}
	}
	if mc.State() != StateStopped {
		t.Fatalf("monitor c state = %s, want STOPPED", mc.State())
	}

	// A second resume has nothing left to do.
	r.ResumeHalted("again")
	if got := r.ActiveCount(); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}
	r.HaltAll("shutdown")
}

func TestEntriesEvaluateBuyBeforeSell(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101, 1.102})
	def := trendDef()
	def.EntryBuy = leaf("b1", "sma_2", rules.OpGreaterThan, 0)
	def.EntrySell = leaf("s1", "close", rules.OpGreaterThan, 0)
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	if err, _ := m.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	first := env.queue.Dequeue()
	second := env.queue.Dequeue()
	if first == nil || second == nil {
		t.Fatalf("want two OPEN commands, got %v and %v", first, second)
	}
	if first.Side != "BUY" || second.Side != "SELL" {
		t.Fatalf("emit order = [%s %s], want [BUY SELL]", first.Side, second.Side)
	}
}

func TestThresholdCrossSignalsOverSlidingWindows(t *testing.T) {
	closes := []float64{1.10, 1.15, 1.25, 1.30, 1.10, 1.05, 0.95, 1.05, 1.25, 1.15}
	for len(closes) < 30 {
		closes = append(closes, 1.10)
	}
	bars := barsFromCloses(closes)

	env := newEnv(nil)
	env.source.Bars = map[string][]market.Bar{"EURUSD": bars[:1]}
	def := trendDef()
	def.EntryBuy = leaf("up", "close", rules.OpCrossesAbove, 1.2)
	def.EntrySell = leaf("down", "close", rules.OpCrossesBelow, 1.0)
	m := mustMonitor(t, def, env.deps)
	m.state = StateRunning

	type signal struct {
		bar  int
		side string
	}
	var got []signal
	for i := 1; i < len(bars); i++ {
		env.source.Bars["EURUSD"] = bars[:i+1]
		if err, fatal := m.cycle(context.Background()); err != nil || fatal {
			t.Fatalf("cycle %d: err=%v fatal=%v", i, err, fatal)
		}
		for {
			cmd := env.queue.Dequeue()
			if cmd == nil {
				break
			}
			if cmd.Type != order.CommandOpen {
				t.Fatalf("cycle %d: unexpected %s command", i, cmd.Type)
			}
			got = append(got, signal{bar: i, side: cmd.Side})
		}
	}

	want := []signal{{2, "BUY"}, {6, "SELL"}, {8, "BUY"}}
	if len(got) != len(want) {
		t.Fatalf("signals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("signal %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestUpdateSwapsDefinition(t *testing.T) {
	env := newEnv([]float64{1.1, 1.101})
	m := mustMonitor(t, trendDef(), env.deps)

	def := trendDef()
	def.Sizing.LotSize = 0.5
	if err := m.Update(def); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := m.Definition().Sizing.LotSize; got != 0.5 {
		t.Fatalf("lotSize = %v, want 0.5", got)
	}

	other := trendDef()
	other.ID = "different"
	if err := m.Update(other); err == nil {
		t.Fatal("id mismatch must be rejected")
	}
}
