package strategy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"executor-core/internal/account"
	"executor-core/internal/events"
	"executor-core/internal/filters"
	"executor-core/internal/indicators"
	"executor-core/internal/market"
	"executor-core/internal/order"
	"executor-core/internal/risk"
	"executor-core/internal/rules"
)

// faultThreshold is how many consecutive cycle errors move a monitor to
// Faulted.
const faultThreshold = 10

// EmergencyGate is the cross-cutting kill switch view the monitor consults.
type EmergencyGate interface {
	Active() bool
	RecordCycleError()
}

// Deps bundles the collaborators every monitor shares.
type Deps struct {
	Source    market.DataSource
	Validator *risk.Validator
	Queue     *order.Queue
	Accounts  *account.Manager
	Gate      EmergencyGate
	Bus       *events.Bus
}

// Monitor runs one strategy: fetch, evaluate, size, validate, enqueue. Each
// monitor owns a single worker goroutine; lifecycle commands are
// synchronized and answered with accept/reject.
type Monitor struct {
	deps Deps

	mu          sync.Mutex
	def         Definition
	state       State
	consecutive int
	cancel      context.CancelFunc
	done        chan struct{}
	// tickets with a CLOSE already enqueued, so exits are not duplicated
	// while the terminal works through the queue
	closing map[string]struct{}
}

func NewMonitor(def Definition, deps Deps) (*Monitor, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		deps:    deps,
		def:     def,
		state:   StateCreated,
		closing: make(map[string]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Definition returns a copy of the live definition.
func (m *Monitor) Definition() Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.def
}

// ConsecutiveErrors reports the current cycle-error streak.
func (m *Monitor) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutive
}

// Start moves Created or Stopped to Running and spawns the worker.
func (m *Monitor) Start(ctx context.Context) error {
	if m.deps.Gate != nil && m.deps.Gate.Active() {
		return fmt.Errorf("emergency stop active")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateCreated, StateStopped:
	default:
		return fmt.Errorf("cannot start from %s", m.state)
	}
	wctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.state = StateRunning
	m.consecutive = 0
	go m.run(wctx, m.done)
	m.publishState(StateRunning)
	log.Printf("strategy %s: started (%s %s)", m.def.ID, m.def.Symbol, m.def.Timeframe)
	return nil
}

// Pause suspends entry evaluation; exits keep running.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return fmt.Errorf("cannot pause from %s", m.state)
	}
	m.state = StatePaused
	m.publishState(StatePaused)
	log.Printf("strategy %s: paused", m.def.ID)
	return nil
}

// Resume returns a paused monitor to Running.
func (m *Monitor) Resume() error {
	if m.deps.Gate != nil && m.deps.Gate.Active() {
		return fmt.Errorf("emergency stop active")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return fmt.Errorf("cannot resume from %s", m.state)
	}
	m.state = StateRunning
	m.publishState(StateRunning)
	log.Printf("strategy %s: resumed", m.def.ID)
	return nil
}

// Stop shuts the worker down and closes strategy-owned positions. Stopping a
// monitor that is already Stopping or Stopped is a no-op, so a second STOP
// never emits duplicate CLOSE commands.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	switch m.state {
	case StateStopping, StateStopped:
		m.mu.Unlock()
		return nil
	case StateCreated:
		m.state = StateStopped
		m.publishState(StateStopped)
		m.mu.Unlock()
		return nil
	}
	m.state = StateStopping
	m.publishState(StateStopping)
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.closeOwnedPositions("strategy stop")

	m.mu.Lock()
	m.state = StateStopped
	m.publishState(StateStopped)
	m.mu.Unlock()
	log.Printf("strategy %s: stopped", m.def.ID)
	return nil
}

// Update swaps the definition; it takes effect on the next cycle.
func (m *Monitor) Update(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateStopping || m.state == StateStopped || m.state == StateFaulted {
		return fmt.Errorf("cannot update from %s", m.state)
	}
	if def.ID != m.def.ID {
		return fmt.Errorf("definition id mismatch: %s vs %s", def.ID, m.def.ID)
	}
	m.def = def
	log.Printf("strategy %s: definition updated", def.ID)
	return nil
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := m.Definition().Timeframe.PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
			if m.State() == StateFaulted {
				go m.faultStop()
				return
			}
		}
	}
}

// tick runs one cycle with panic containment and error-streak accounting.
func (m *Monitor) tick(ctx context.Context) {
	var fatal bool
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("cycle panic: %v", r)
			}
		}()
		err, fatal = m.cycle(ctx)
		return err
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.consecutive = 0
		if m.deps.Bus != nil {
			m.deps.Bus.Publish(events.EventCycle, m.def.ID)
		}
		return
	}
	m.consecutive++
	log.Printf("strategy %s: cycle error (%d consecutive): %v", m.def.ID, m.consecutive, err)
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(events.EventCycleError, map[string]any{
			"strategyId": m.def.ID, "error": err.Error(), "consecutive": m.consecutive,
		})
	}
	if m.deps.Gate != nil {
		m.deps.Gate.RecordCycleError()
	}
	if fatal || m.consecutive >= faultThreshold {
		m.state = StateFaulted
		m.publishState(StateFaulted)
		log.Printf("strategy %s: FAULTED: %v", m.def.ID, err)
	}
}

// faultStop finishes the Faulted → Stopped transition outside the worker.
func (m *Monitor) faultStop() {
	m.closeOwnedPositions("strategy faulted")
	m.mu.Lock()
	m.state = StateStopped
	m.publishState(StateStopped)
	m.mu.Unlock()
	log.Printf("strategy %s: stopped after fault", m.def.ID)
}

// cycle performs one evaluation pass. The second return marks evaluation
// errors that fault the strategy immediately instead of counting toward the
// threshold.
func (m *Monitor) cycle(ctx context.Context) (error, bool) {
	m.mu.Lock()
	def := m.def
	state := m.state
	m.mu.Unlock()
	if state != StateRunning && state != StatePaused {
		return nil, false
	}

	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	bars, err := market.FetchValidated(fctx, m.deps.Source, def.Symbol, def.Timeframe, def.barWindow())
	cancel()
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err), false
	}

	snap := indicators.NewSnapshot(bars)
	acct := m.deps.Accounts.Get()
	owned := ownedPositions(acct, def.ID)
	m.pruneClosing(owned)
	price := bars[len(bars)-1].Close

	// Exit rules run while Running or Paused.
	if def.Exit != nil && len(owned) > 0 {
		res, err := rules.Evaluate(def.Exit, snap)
		if err != nil {
			return fmt.Errorf("exit rules: %w", err), true
		}
		if res.Matched {
			m.emitCloses(def, owned, res.MatchedLeafIDs)
		}
	}

	// Trailing stop and break-even management on what stays open.
	m.manage(def, owned, price)

	if state != StateRunning {
		return nil, false
	}
	if m.deps.Gate != nil && m.deps.Gate.Active() {
		return nil, false
	}

	atr, atrReady, err := snap.Last("atr")
	if err != nil {
		return fmt.Errorf("atr: %w", err), true
	}
	dec := filters.Evaluate(def.Filters, filters.Context{
		Symbol:        def.Symbol,
		Now:           time.Now().UTC(),
		ATR:           atr,
		ATRReady:      atrReady,
		SpreadPips:    m.deps.Source.Spread(def.Symbol),
		OpenPositions: filterPositions(acct.OpenPositions),
	})
	if !dec.Allow {
		return nil, false
	}

	entries := []struct {
		side string
		tree *rules.Node
	}{
		{"BUY", def.EntryBuy},
		{"SELL", def.EntrySell},
	}
	for _, e := range entries {
		side, tree := e.side, e.tree
		if tree == nil {
			continue
		}
		res, err := rules.Evaluate(tree, snap)
		if err != nil {
			return fmt.Errorf("entry rules (%s): %w", side, err), true
		}
		if !res.Matched {
			continue
		}
		m.emitOpen(ctx, def, side, price, acct, dec.LotMultiplier, res, tree)
	}
	return nil, false
}

func (m *Monitor) emitOpen(ctx context.Context, def Definition, side string, price float64, acct account.Snapshot, lotMult float64, res rules.Result, tree *rules.Node) {
	sig := Signal{
		ID:           uuid.NewString(),
		StrategyID:   def.ID,
		Direction:    side,
		Symbol:       def.Symbol,
		GeneratedAt:  time.Now().UTC(),
		MatchedRules: res.MatchedLeafIDs,
	}
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(events.EventSignal, sig)
	}

	lots := risk.LotSize(acct.Balance, def.Sizing) * lotMult
	prio := order.PriorityNormal
	if matchedCross(tree, res.MatchedLeafIDs) {
		prio = order.PriorityHigh
	}

	cmd := order.NewCommand(def.ID, order.CommandOpen, prio)
	cmd.Symbol = def.Symbol
	cmd.Side = side
	cmd.Lots = lots
	cmd.Price = price
	if def.Sizing.StopLossPips > 0 {
		if side == "BUY" {
			cmd.StopLoss = price - def.Sizing.StopLossPips*def.pipSize()
		} else {
			cmd.StopLoss = price + def.Sizing.StopLossPips*def.pipSize()
		}
	}

	exposure := lots * def.contractSize() * price
	verdict := m.deps.Validator.Validate(ctx, risk.Candidate{
		CommandID:      cmd.ID,
		StrategyID:     def.ID,
		Symbol:         def.Symbol,
		Side:           side,
		Type:           string(order.CommandOpen),
		Lots:           lots,
		Price:          price,
		Exposure:       exposure,
		RequiredMargin: exposure / def.leverage(),
	}, acct)
	for _, w := range verdict.Warnings {
		log.Printf("strategy %s: safety warning: %s", def.ID, w)
	}
	if !verdict.CanTrade {
		reason := verdict.FirstReason()
		log.Printf("strategy %s: %s signal rejected: %s", def.ID, side, reason)
		if m.deps.Bus != nil {
			m.deps.Bus.Publish(events.EventSafetyRejection, map[string]any{
				"strategyId": def.ID, "signalId": sig.ID, "reason": reason,
				"failedChecks": verdict.FailedChecks,
			})
		}
		return
	}
	if !m.deps.Queue.Enqueue(cmd) {
		m.deps.Validator.Release(cmd.ID)
		log.Printf("strategy %s: queue refused %s command %s", def.ID, side, cmd.ID)
		return
	}
	log.Printf("strategy %s: %s %.2f lots %s @ %.5f enqueued (%s)",
		def.ID, side, lots, def.Symbol, price, prio)
}

func (m *Monitor) emitCloses(def Definition, owned []account.Position, matched []string) {
	for _, p := range owned {
		m.mu.Lock()
		if _, already := m.closing[p.Ticket]; already {
			m.mu.Unlock()
			continue
		}
		m.closing[p.Ticket] = struct{}{}
		m.mu.Unlock()

		cmd := order.NewCommand(def.ID, order.CommandClose, order.PriorityHigh)
		cmd.Symbol = p.Symbol
		cmd.Ticket = parseTicket(p.Ticket)
		cmd.Comment = "exit rules matched"
		m.deps.Queue.Enqueue(cmd)
		if m.deps.Bus != nil {
			m.deps.Bus.Publish(events.EventSignal, Signal{
				ID: uuid.NewString(), StrategyID: def.ID, Direction: "CLOSE",
				Symbol: p.Symbol, GeneratedAt: time.Now().UTC(), MatchedRules: matched,
			})
		}
	}
}

// manage emits MODIFY commands for trailing stops and break-even moves.
func (m *Monitor) manage(def Definition, owned []account.Position, price float64) {
	pip := def.pipSize()
	for _, p := range owned {
		if _, closingAlready := m.pendingClose(p.Ticket); closingAlready {
			continue
		}
		profitPips := (price - p.OpenPrice) / pip
		if p.Side == "SELL" {
			profitPips = -profitPips
		}

		var newStop float64
		if def.Management.BreakEvenTriggerPips > 0 && profitPips >= def.Management.BreakEvenTriggerPips {
			offset := def.Management.BreakEvenOffsetPips * pip
			if p.Side == "BUY" {
				newStop = p.OpenPrice + offset
			} else {
				newStop = p.OpenPrice - offset
			}
		}
		if def.Management.TrailingStopPips > 0 && profitPips > def.Management.TrailingStopPips {
			dist := def.Management.TrailingStopPips * pip
			var trail float64
			if p.Side == "BUY" {
				trail = price - dist
			} else {
				trail = price + dist
			}
			if newStop == 0 || (p.Side == "BUY" && trail > newStop) || (p.Side == "SELL" && trail < newStop) {
				newStop = trail
			}
		}
		if newStop == 0 {
			continue
		}

		cmd := order.NewCommand(def.ID, order.CommandModify, order.PriorityNormal)
		cmd.Symbol = p.Symbol
		cmd.Ticket = parseTicket(p.Ticket)
		cmd.StopLoss = newStop
		cmd.Comment = "position management"
		m.deps.Queue.Enqueue(cmd)
	}
}

// closeOwnedPositions enqueues HIGH-priority closes for every position the
// strategy still owns, once per ticket.
func (m *Monitor) closeOwnedPositions(reason string) {
	if m.deps.Accounts == nil || m.deps.Queue == nil {
		return
	}
	def := m.Definition()
	owned := ownedPositions(m.deps.Accounts.Get(), def.ID)
	m.emitCloses(def, owned, nil)
	if len(owned) > 0 {
		log.Printf("strategy %s: closing %d position(s): %s", def.ID, len(owned), reason)
	}
}

func (m *Monitor) pendingClose(ticket string) (struct{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.closing[ticket]
	return v, ok
}

// pruneClosing forgets tickets that are no longer open.
func (m *Monitor) pruneClosing(owned []account.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := make(map[string]struct{}, len(owned))
	for _, p := range owned {
		open[p.Ticket] = struct{}{}
	}
	for t := range m.closing {
		if _, still := open[t]; !still {
			delete(m.closing, t)
		}
	}
}

// publishState must be called with m.mu held.
func (m *Monitor) publishState(s State) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(events.EventStrategyState, map[string]any{
			"strategyId": m.def.ID, "state": string(s),
		})
	}
}

func ownedPositions(snap account.Snapshot, strategyID string) []account.Position {
	var out []account.Position
	for _, p := range snap.OpenPositions {
		if p.StrategyID == strategyID {
			out = append(out, p)
		}
	}
	return out
}

func filterPositions(ps []account.Position) []filters.OpenPosition {
	out := make([]filters.OpenPosition, 0, len(ps))
	for _, p := range ps {
		out = append(out, filters.OpenPosition{Symbol: p.Symbol, Lots: p.Lots})
	}
	return out
}

// matchedCross reports whether any matched leaf is a cross operator, which
// marks the signal time-critical.
func matchedCross(n *rules.Node, matched []string) bool {
	if n == nil {
		return false
	}
	if n.Kind == rules.KindComparison {
		if n.Op != rules.OpCrossesAbove && n.Op != rules.OpCrossesBelow {
			return false
		}
		for _, id := range matched {
			if id == n.ID {
				return true
			}
		}
		return false
	}
	for _, c := range n.Children {
		if matchedCross(c, matched) {
			return true
		}
	}
	return false
}

func parseTicket(t string) int64 {
	var n int64
	for _, r := range t {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
