package account

import (
	"context"
	"log"
	"sync"
	"time"

	"executor-core/internal/events"
)

// Snapshot is the read-mostly account view every safety check consumes.
type Snapshot struct {
	Balance           float64
	Equity            float64
	PeakEquity        float64
	Margin            float64
	FreeMargin        float64
	Currency          string
	OpenPositions     []Position
	TodayRealizedPnL  float64
	ConsecutiveLosses int
	SyncedAt          time.Time
}

// Position is one open position attributed to a strategy.
type Position struct {
	Ticket     string
	StrategyID string
	Symbol     string
	Side       string // BUY or SELL
	Lots       float64
	OpenPrice  float64
	Exposure   float64 // notional in account currency
}

// TerminalClient is the collaborator that reports live account state.
type TerminalClient interface {
	AccountSnapshot(ctx context.Context) (Snapshot, error)
}

// Manager refreshes the snapshot periodically. The terminal owns today's
// realized P&L and the consecutive-loss streak; the manager adopts those
// numbers on every refresh and only derives peak equity, which the terminal
// does not report. Refreshes never block readers.
type Manager struct {
	client   TerminalClient
	bus      *events.Bus
	interval time.Duration

	mu         sync.RWMutex
	snap       Snapshot
	peakEquity float64
	dailyPnL   float64
	dailyDate  string // UTC yyyy-mm-dd the daily counters belong to
	lossStreak int
}

func NewManager(client TerminalClient, bus *events.Bus, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{client: client, bus: bus, interval: interval}
}

// Start begins the periodic refresh loop.
func (m *Manager) Start(ctx context.Context) {
	m.refresh(ctx)
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refresh(ctx)
			}
		}
	}()
}

func (m *Manager) refresh(ctx context.Context) {
	if m.client == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snap, err := m.client.AccountSnapshot(cctx)
	if err != nil {
		log.Printf("account: refresh failed: %v", err)
		return
	}

	m.mu.Lock()
	if snap.Equity > m.peakEquity {
		m.peakEquity = snap.Equity
	}
	snap.PeakEquity = m.peakEquity
	// The terminal is authoritative for the daily counters in live mode;
	// sync ours so the dry-run path keeps working from the same numbers.
	m.dailyPnL = snap.TodayRealizedPnL
	m.lossStreak = snap.ConsecutiveLosses
	m.dailyDate = time.Now().UTC().Format("2006-01-02")
	snap.SyncedAt = time.Now()
	m.snap = snap
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.EventAccountUpdate, snap)
	}
}

// Get returns the latest snapshot copy.
func (m *Manager) Get() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := m.snap
	snap.OpenPositions = append([]Position(nil), m.snap.OpenPositions...)
	return snap
}

// RecordTradeResult folds a simulated fill into the daily counters and the
// consecutive-loss streak. Dry-run path only; in live mode the counters come
// from the terminal snapshot on refresh.
func (m *Manager) RecordTradeResult(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(time.Now().UTC())
	m.dailyPnL += pnl
	if pnl < 0 {
		m.lossStreak++
	} else if pnl > 0 {
		m.lossStreak = 0
	}
	m.snap.TodayRealizedPnL = m.dailyPnL
	m.snap.ConsecutiveLosses = m.lossStreak
}

// SetSnapshot force-sets state; used by tests and the dry-run wiring.
func (m *Manager) SetSnapshot(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Equity > m.peakEquity {
		m.peakEquity = snap.Equity
	}
	if snap.PeakEquity > m.peakEquity {
		m.peakEquity = snap.PeakEquity
	}
	snap.PeakEquity = m.peakEquity
	m.dailyPnL = snap.TodayRealizedPnL
	m.lossStreak = snap.ConsecutiveLosses
	if m.dailyDate == "" {
		m.dailyDate = time.Now().UTC().Format("2006-01-02")
	}
	m.snap = snap
}

// rollDayLocked resets daily counters at the UTC day boundary.
func (m *Manager) rollDayLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if m.dailyDate == today {
		return
	}
	if m.dailyDate != "" {
		log.Printf("account: daily reset, prev day pnl=%.2f streak=%d", m.dailyPnL, m.lossStreak)
	}
	m.dailyDate = today
	m.dailyPnL = 0
}
