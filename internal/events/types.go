package events

// Event enumerates high-level topics inside the execution engine.
type Event string

const (
	EventSignal            Event = "strategy_signal"
	EventSafetyRejection   Event = "safety_rejection"
	EventCommandEnqueued   Event = "command.enqueued"
	EventCommandDispatched Event = "command.dispatched"
	EventCommandAcked      Event = "command.acked"
	EventCommandFailed     Event = "command.failed"
	EventCommandRejected   Event = "command.rejected"
	EventCommandDropped    Event = "command.dropped"
	EventStrategyState     Event = "strategy_state"
	EventCycle             Event = "cycle_done"
	EventCycleError        Event = "cycle_error"
	EventAccountUpdate     Event = "account_update"
	EventEmergencyActive   Event = "emergency.active"
	EventEmergencyCleared  Event = "emergency.cleared"
)
