package notify

import (
	"fmt"
	"log"

	"executor-core/internal/emergency"
	"executor-core/internal/events"
	"executor-core/internal/order"
)

// Notifier is the outbound alert collaborator, best effort.
type Notifier interface {
	Notify(severity, message string, context map[string]any) error
}

// LogNotifier writes alerts to the process log; the default when no delivery
// channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(severity, message string, context map[string]any) error {
	log.Printf("notify [%s]: %s %v", severity, message, context)
	return nil
}

// Forwarder turns selected bus events into notifications. Delivery failures
// are logged and dropped.
type Forwarder struct {
	notifier Notifier
}

func NewForwarder(n Notifier) *Forwarder {
	if n == nil {
		n = LogNotifier{}
	}
	return &Forwarder{notifier: n}
}

// Attach subscribes to alert-worthy topics and returns an unsubscribe
// function.
func (f *Forwarder) Attach(bus *events.Bus) func() {
	stream, cancel := bus.SubscribeMany(128,
		events.EventEmergencyActive,
		events.EventEmergencyCleared,
		events.EventCommandFailed,
		events.EventSafetyRejection,
	)
	go func() {
		for env := range stream {
			severity, message, ctx := classify(env)
			if message == "" {
				continue
			}
			if err := f.notifier.Notify(severity, message, ctx); err != nil {
				log.Printf("notify: delivery failed: %v", err)
			}
		}
	}()
	return cancel
}

func classify(env events.Envelope) (string, string, map[string]any) {
	switch env.Topic {
	case events.EventEmergencyActive:
		st, _ := env.Payload.(emergency.Status)
		return "critical", fmt.Sprintf("emergency stop activated: %s", st.Reason),
			map[string]any{"severity": st.Severity, "lockedUntil": st.LockedUntil}
	case events.EventEmergencyCleared:
		return "info", "emergency stop cleared", nil
	case events.EventCommandFailed:
		cmd, ok := env.Payload.(order.TradeCommand)
		if !ok {
			return "", "", nil
		}
		return "warning", fmt.Sprintf("command %s failed permanently", cmd.ID),
			map[string]any{"type": cmd.Type, "symbol": cmd.Symbol, "error": cmd.LastError}
	case events.EventSafetyRejection:
		m, _ := env.Payload.(map[string]any)
		reason, _ := m["reason"].(string)
		sid, _ := m["strategyId"].(string)
		return "warning", fmt.Sprintf("signal rejected: %s", reason),
			map[string]any{"strategyId": sid}
	}
	return "", "", nil
}
