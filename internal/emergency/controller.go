package emergency

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"executor-core/internal/account"
	"executor-core/internal/events"
	"executor-core/internal/order"
)

// Severity scales the cooldown applied after a trigger.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) cooldown() time.Duration {
	switch s {
	case SeverityCritical:
		return 60 * time.Minute
	case SeverityHigh:
		return 30 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// State of the emergency controller.
type State string

const (
	StateInactive    State = "INACTIVE"
	StateActive      State = "ACTIVE"
	StateCoolingDown State = "COOLING_DOWN"
)

// Config holds the automatic trigger thresholds. A zero value disables the
// corresponding monitor.
type Config struct {
	DailyLossTrigger       float64 `json:"dailyLossTrigger"`       // absolute loss in account currency
	DrawdownTrigger        float64 `json:"drawdownTrigger"`        // fraction of peak equity
	ConsecutiveLossTrigger int     `json:"consecutiveLossTrigger"` // losing trades in a row
	CycleErrorRateTrigger  int     `json:"cycleErrorRateTrigger"`  // cycle errors per minute
}

func DefaultConfig() Config {
	return Config{
		DrawdownTrigger:        0.20,
		ConsecutiveLossTrigger: 5,
		CycleErrorRateTrigger:  30,
	}
}

// StrategyHalter moves every running strategy to Stopping, and brings the
// halted ones back once an emergency clears.
type StrategyHalter interface {
	HaltAll(reason string)
	ResumeHalted(reason string)
}

// Recorder persists emergency events; failures are logged, never propagated.
type Recorder interface {
	EmergencyEvent(state State, reason string, severity Severity, at time.Time)
}

// Status is the externally visible controller state.
type Status struct {
	State       State     `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	TriggeredAt time.Time `json:"triggeredAt,omitempty"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`
}

// Controller owns the emergency-stop state machine. Trigger runs the halt
// protocol; each step is logged and a failing step never blocks the ones
// after it.
type Controller struct {
	cfg          Config
	bus          *events.Bus
	queue        *order.Queue
	reservations order.Reservations
	halter       StrategyHalter
	recorder     Recorder
	now          func() time.Time

	mu          sync.Mutex
	state       State
	reason      string
	severity    Severity
	triggeredAt time.Time
	lockedUntil time.Time
	lastSnap    account.Snapshot
	haveSnap    bool
	errTimes    []time.Time // cycle errors inside the rate window
}

func NewController(cfg Config, bus *events.Bus, queue *order.Queue, res order.Reservations, halter StrategyHalter, recorder Recorder) *Controller {
	return &Controller{
		cfg:          cfg,
		bus:          bus,
		queue:        queue,
		reservations: res,
		halter:       halter,
		recorder:     recorder,
		now:          time.Now,
		state:        StateInactive,
	}
}

// SetHalter installs the strategy halter after construction; the controller
// and the registry reference each other, so one side is wired late.
func (c *Controller) SetHalter(h StrategyHalter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halter = h
}

// Active reports whether opening new positions is currently forbidden. It
// stays true through the cooldown until an explicit Clear succeeds.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateInactive
}

// Status returns a copy of the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		Reason:      c.reason,
		Severity:    c.severity,
		TriggeredAt: c.triggeredAt,
		LockedUntil: c.lockedUntil,
	}
}

// Trigger activates the emergency stop and runs the halt protocol. A second
// trigger while already active only escalates the recorded severity.
func (c *Controller) Trigger(reason string, severity Severity) {
	c.mu.Lock()
	if c.state != StateInactive {
		if severity.cooldown() > c.severity.cooldown() {
			c.severity = severity
			c.lockedUntil = c.triggeredAt.Add(severity.cooldown())
			log.Printf("emergency: escalated to %s: %s", severity, reason)
		}
		c.mu.Unlock()
		return
	}
	now := c.now().UTC()
	c.state = StateActive
	c.reason = reason
	c.severity = severity
	c.triggeredAt = now
	c.lockedUntil = now.Add(severity.cooldown())
	c.mu.Unlock()

	log.Printf("emergency: TRIGGERED (%s): %s", severity, reason)
	c.runProtocol(reason, severity, now)

	c.mu.Lock()
	c.state = StateCoolingDown
	c.mu.Unlock()
}

// runProtocol executes the halt steps in order. Each step logs its own
// outcome; a failure moves on to the next step.
func (c *Controller) runProtocol(reason string, severity Severity, at time.Time) {
	step := func(name string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("emergency: step %q panicked: %v", name, r)
			}
		}()
		if err := fn(); err != nil {
			log.Printf("emergency: step %q failed: %v", name, err)
			return
		}
		log.Printf("emergency: step %q done", name)
	}

	step("halt strategies", func() error {
		if c.halter == nil {
			return nil
		}
		c.halter.HaltAll(reason)
		return nil
	})
	step("close all positions", func() error {
		if c.queue == nil {
			return nil
		}
		cmd := order.NewCommand("", order.CommandCloseAll, order.PriorityUrgent)
		cmd.Comment = "emergency: " + reason
		if !c.queue.Enqueue(cmd) {
			return errors.New("queue rejected CLOSE_ALL")
		}
		return nil
	})
	step("reject pending opens", func() error {
		if c.queue == nil {
			return nil
		}
		// The dispatcher's per-attempt gate check still covers commands
		// already in flight; this sweep covers everything still queued.
		for _, cmd := range c.queue.RejectOpens("emergency stop active") {
			if c.reservations != nil && cmd.Type == order.CommandOpen {
				c.reservations.Release(cmd.ID)
			}
		}
		return nil
	})
	step("notify", func() error {
		if c.bus != nil {
			c.bus.Publish(events.EventEmergencyActive, c.Status())
		}
		return nil
	})
	step("persist", func() error {
		if c.recorder != nil {
			c.recorder.EmergencyEvent(StateActive, reason, severity, at)
		}
		return nil
	})
}

// Clear attempts to return to Inactive. It fails while the cooldown lock is
// in force or while any automatic trigger condition still holds.
func (c *Controller) Clear() error {
	c.mu.Lock()
	if c.state == StateInactive {
		c.mu.Unlock()
		return nil
	}
	now := c.now().UTC()
	if now.Before(c.lockedUntil) {
		until := c.lockedUntil
		c.mu.Unlock()
		return fmt.Errorf("cooldown in force until %s", until.Format(time.RFC3339))
	}
	if c.haveSnap {
		if reason, _, firing := c.evaluateLocked(c.lastSnap, now); firing {
			c.mu.Unlock()
			return fmt.Errorf("trigger condition still active: %s", reason)
		}
	}
	c.state = StateInactive
	c.reason = ""
	c.severity = ""
	halter := c.halter
	c.mu.Unlock()

	log.Printf("emergency: cleared")
	if halter != nil {
		halter.ResumeHalted("emergency cleared")
	}
	if c.bus != nil {
		c.bus.Publish(events.EventEmergencyCleared, c.Status())
	}
	if c.recorder != nil {
		c.recorder.EmergencyEvent(StateInactive, "cleared", SeverityNormal, now)
	}
	return nil
}

// Observe feeds an account snapshot to the automatic monitors and triggers
// when a threshold is crossed.
func (c *Controller) Observe(snap account.Snapshot) {
	c.mu.Lock()
	c.lastSnap = snap
	c.haveSnap = true
	if c.state != StateInactive {
		c.mu.Unlock()
		return
	}
	reason, severity, firing := c.evaluateLocked(snap, c.now().UTC())
	c.mu.Unlock()
	if firing {
		c.Trigger(reason, severity)
	}
}

// RecordCycleError counts a strategy cycle error toward the error-rate
// monitor.
func (c *Controller) RecordCycleError() {
	if c.cfg.CycleErrorRateTrigger <= 0 {
		return
	}
	c.mu.Lock()
	now := c.now().UTC()
	cutoff := now.Add(-time.Minute)
	kept := c.errTimes[:0]
	for _, t := range c.errTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.errTimes = append(kept, now)
	count := len(c.errTimes)
	active := c.state != StateInactive
	c.mu.Unlock()

	if !active && count >= c.cfg.CycleErrorRateTrigger {
		c.Trigger(fmt.Sprintf("cycle error rate: %d errors in the last minute", count), SeverityHigh)
	}
}

func (c *Controller) evaluateLocked(snap account.Snapshot, now time.Time) (string, Severity, bool) {
	if c.cfg.DailyLossTrigger > 0 && snap.TodayRealizedPnL <= -c.cfg.DailyLossTrigger {
		return fmt.Sprintf("daily loss %.2f breached trigger %.2f",
			-snap.TodayRealizedPnL, c.cfg.DailyLossTrigger), SeverityCritical, true
	}
	if c.cfg.DrawdownTrigger > 0 && snap.PeakEquity > 0 {
		dd := (snap.PeakEquity - snap.Equity) / snap.PeakEquity
		if dd >= c.cfg.DrawdownTrigger {
			return fmt.Sprintf("drawdown %.1f%% breached trigger %.1f%%",
				dd*100, c.cfg.DrawdownTrigger*100), SeverityCritical, true
		}
	}
	if c.cfg.ConsecutiveLossTrigger > 0 && snap.ConsecutiveLosses >= c.cfg.ConsecutiveLossTrigger {
		return fmt.Sprintf("%d consecutive losing trades", snap.ConsecutiveLosses), SeverityHigh, true
	}
	if c.cfg.CycleErrorRateTrigger > 0 && len(c.errTimes) >= c.cfg.CycleErrorRateTrigger {
		cutoff := now.Add(-time.Minute)
		count := 0
		for _, t := range c.errTimes {
			if t.After(cutoff) {
				count++
			}
		}
		if count >= c.cfg.CycleErrorRateTrigger {
			return fmt.Sprintf("cycle error rate: %d errors in the last minute", count), SeverityHigh, true
		}
	}
	return "", "", false
}
