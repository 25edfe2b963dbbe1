package risk

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"executor-core/internal/account"
	"executor-core/internal/market"
)

// Reason strings surfaced to the control plane. Tests and operators match on
// these, so they are constants rather than ad-hoc formatting.
const (
	ReasonDailyLoss    = "Daily loss limit reached"
	ReasonDrawdown     = "Maximum drawdown reached"
	ReasonMaxPositions = "Maximum open positions reached"
	ReasonLotSize      = "Lot size exceeds maximum"
	ReasonMargin       = "Insufficient free margin"
	ReasonMarketClosed = "Market closed for instrument"
	ReasonCorrelation  = "Correlation limit exceeded"
	ReasonExposure     = "Total exposure limit exceeded"
	ReasonEventWindow  = "Scheduled event blackout"
)

// Candidate is one proposed trade presented to the safety gate.
type Candidate struct {
	CommandID      string
	StrategyID     string
	Symbol         string
	Side           string // BUY or SELL
	Type           string // OPEN, CLOSE, CLOSE_ALL
	Lots           float64
	Price          float64
	Exposure       float64 // notional in account currency
	RequiredMargin float64
}

// CheckResult is the outcome of a single independent check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Verdict aggregates all nine checks. CanTrade requires every check to pass.
type Verdict struct {
	CanTrade     bool          `json:"canTrade"`
	PassedChecks []CheckResult `json:"passedChecks"`
	FailedChecks []CheckResult `json:"failedChecks"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// FirstReason returns the reason of the first failed check, for reporting.
func (v Verdict) FirstReason() string {
	if len(v.FailedChecks) == 0 {
		return ""
	}
	return v.FailedChecks[0].Reason
}

// Validator is the shared pre-trade gate. All strategies funnel through one
// instance; the reservation counters are the single synchronization point
// that keeps concurrent candidates from jointly exceeding a limit.
type Validator struct {
	store      limitStore
	calendar   *Calendar
	correlator Correlator
	source     market.DataSource

	mu               sync.Mutex
	reserved         map[string]float64 // commandID -> reserved exposure
	reservedSlots    int
	reservedExposure float64
}

func NewValidator(limits Limits, calendar *Calendar, correlator Correlator, source market.DataSource) *Validator {
	v := &Validator{
		calendar:   calendar,
		correlator: correlator,
		source:     source,
		reserved:   make(map[string]float64),
	}
	v.store.set(limits)
	return v
}

// Limits returns the live limit set.
func (v *Validator) Limits() Limits { return v.store.get() }

// UpdateLimits hot-reloads the limit set; it applies to the next call.
func (v *Validator) UpdateLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}
	v.store.set(l)
	log.Printf("risk: limits updated: maxDailyLoss=%.2f maxPositions=%d maxLot=%.2f",
		l.MaxDailyLoss, l.MaxPositions, l.MaxLotSize)
	return nil
}

// Validate runs the nine independent checks against a live account snapshot.
// CLOSE and CLOSE_ALL bypass validation entirely. On an overall pass the
// candidate's position slot and exposure are reserved under the internal
// lock; the caller must Release on any downstream failure and Settle once
// the command is acknowledged.
func (v *Validator) Validate(ctx context.Context, c Candidate, snap account.Snapshot) Verdict {
	if c.Type == "CLOSE" || c.Type == "CLOSE_ALL" {
		return Verdict{CanTrade: true}
	}

	limits := v.store.get()
	verdict := Verdict{}
	record := func(name string, passed bool, reason string) {
		cr := CheckResult{Name: name, Passed: passed}
		if passed {
			verdict.PassedChecks = append(verdict.PassedChecks, cr)
			return
		}
		cr.Reason = reason
		verdict.FailedChecks = append(verdict.FailedChecks, cr)
	}

	// 1. Daily loss, absolute and percent-of-equity.
	dailyOK := true
	if limits.MaxDailyLoss > 0 && snap.TodayRealizedPnL <= -limits.MaxDailyLoss {
		dailyOK = false
	}
	if limits.MaxDailyLossPercent > 0 && snap.Equity > 0 &&
		snap.TodayRealizedPnL <= -(limits.MaxDailyLossPercent*snap.Equity) {
		dailyOK = false
	}
	record("daily_loss", dailyOK, ReasonDailyLoss)

	// 2. Drawdown from peak equity.
	ddOK := true
	if limits.MaxDrawdownPercent > 0 && snap.PeakEquity > 0 {
		dd := (snap.PeakEquity - snap.Equity) / snap.PeakEquity
		if dd >= limits.MaxDrawdownPercent {
			ddOK = false
		}
	}
	record("drawdown", ddOK, ReasonDrawdown)

	// 4. Lot size cap.
	record("lot_size", !(limits.MaxLotSize > 0 && c.Lots > limits.MaxLotSize), ReasonLotSize)

	// 5. Margin with a 50% safety buffer.
	record("margin", !(c.RequiredMargin*1.5 > snap.FreeMargin), ReasonMargin)

	// 6. Trading hours.
	tradableOK := true
	if v.source != nil && !v.source.Tradable(c.Symbol) {
		tradableOK = false
	}
	record("trading_hours", tradableOK, ReasonMarketClosed)

	// 7. Correlation with open positions, trailing window.
	v.checkCorrelation(ctx, c, snap, limits, record, &verdict)

	// 9. Scheduled-event proximity: warning by default, hard fail when
	// configured. Ambiguity resolved as warn-only on purpose.
	if v.calendar != nil {
		blackout, title := v.calendar.InBlackout(ctx, c.Symbol, time.Now().UTC(),
			limits.EventPauseBeforeMin, limits.EventPauseAfterMin, limits.EventHighImpactOnly)
		if blackout {
			if limits.EventBlackoutHard {
				record("event_window", false, ReasonEventWindow)
			} else {
				record("event_window", true, "")
				verdict.Warnings = append(verdict.Warnings,
					fmt.Sprintf("scheduled event within blackout window: %s", title))
			}
		} else {
			record("event_window", true, "")
		}
	} else {
		record("event_window", true, "")
	}

	// 3 + 8. Position count and total exposure run under the reservation
	// lock so two concurrent candidates cannot both pass and jointly
	// violate a limit. The reservation is only taken when everything else
	// passed too.
	v.mu.Lock()
	defer v.mu.Unlock()

	openCount := len(snap.OpenPositions)
	posOK := openCount+v.reservedSlots < limits.MaxPositions
	record("position_count", posOK, ReasonMaxPositions)

	expOK := true
	if limits.MaxTotalExposure > 0 {
		open := 0.0
		for _, p := range snap.OpenPositions {
			open += p.Exposure
		}
		if open+v.reservedExposure+c.Exposure > limits.MaxTotalExposure {
			expOK = false
		}
	}
	record("total_exposure", expOK, ReasonExposure)

	verdict.CanTrade = len(verdict.FailedChecks) == 0
	if verdict.CanTrade && c.CommandID != "" {
		v.reservedSlots++
		v.reservedExposure += c.Exposure
		v.reserved[c.CommandID] = c.Exposure
	}
	return verdict
}

func (v *Validator) checkCorrelation(ctx context.Context, c Candidate, snap account.Snapshot, limits Limits, record func(string, bool, string), verdict *Verdict) {
	if v.correlator == nil || limits.MaxCorrelation <= 0 {
		record("correlation", true, "")
		return
	}
	seen := make(map[string]struct{})
	for _, p := range snap.OpenPositions {
		if p.Symbol == c.Symbol {
			continue
		}
		if _, dup := seen[p.Symbol]; dup {
			continue
		}
		seen[p.Symbol] = struct{}{}

		corr, err := v.correlator.Correlation(ctx, c.Symbol, p.Symbol)
		if err != nil {
			log.Printf("risk: correlation %s/%s unavailable: %v", c.Symbol, p.Symbol, err)
			verdict.Warnings = append(verdict.Warnings,
				fmt.Sprintf("correlation %s/%s unavailable", c.Symbol, p.Symbol))
			continue
		}
		abs := corr
		if abs < 0 {
			abs = -abs
		}
		if abs >= limits.MaxCorrelation {
			record("correlation", false, ReasonCorrelation)
			return
		}
		if abs >= 0.8*limits.MaxCorrelation {
			verdict.Warnings = append(verdict.Warnings,
				fmt.Sprintf("elevated correlation %.2f between %s and %s", corr, c.Symbol, p.Symbol))
		}
	}
	record("correlation", true, "")
}

// Release frees a reservation after a downstream failure or rejection.
func (v *Validator) Release(commandID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	exp, ok := v.reserved[commandID]
	if !ok {
		return
	}
	delete(v.reserved, commandID)
	v.reservedSlots--
	v.reservedExposure -= exp
}

// Settle converts a reservation into a real position once the command is
// acknowledged; the account snapshot takes over counting it from there.
func (v *Validator) Settle(commandID string) {
	// identical bookkeeping; kept separate so call sites read correctly
	v.Release(commandID)
}

// Reserved reports current reservation counters, for metrics and tests.
func (v *Validator) Reserved() (slots int, exposure float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reservedSlots, v.reservedExposure
}
