package audit

import (
	"context"
	"log"
	"time"

	"executor-core/internal/emergency"
	"executor-core/internal/events"
	"executor-core/internal/order"
)

// Store is the persistence collaborator the writer appends to.
type Store interface {
	InsertAudit(kind string, payload any) error
	UpsertCommand(row CommandRow) error
	InsertSafetyRejection(strategyID, reason, detail string) error
	InsertEmergencyEvent(state, reason, severity string, at time.Time) error
}

// CommandRow mirrors the persisted command shape without importing pkg/db
// here; pkg/db's row type satisfies it structurally via the adapter in main.
type CommandRow struct {
	ID         string
	StrategyID string
	Type       string
	Symbol     string
	Side       string
	Lots       float64
	Priority   string
	Status     string
	RetryCount int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type entry struct {
	kind    string
	payload any
}

// Writer records audit events fire-and-forget. Producers enqueue onto a
// buffered channel and never block; a full buffer drops the entry with a log
// line, keeping the control loop isolated from storage latency.
type Writer struct {
	store Store
	ch    chan entry
	done  chan struct{}
}

func NewWriter(store Store, buffer int) *Writer {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Writer{
		store: store,
		ch:    make(chan entry, buffer),
		done:  make(chan struct{}),
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is queued.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-w.ch:
					w.write(e)
				default:
					return
				}
			}
		case e := <-w.ch:
			w.write(e)
		}
	}
}

// Done closes once Run has returned.
func (w *Writer) Done() <-chan struct{} { return w.done }

func (w *Writer) write(e entry) {
	var err error
	switch p := e.payload.(type) {
	case CommandRow:
		err = w.store.UpsertCommand(p)
	default:
		err = w.store.InsertAudit(e.kind, e.payload)
	}
	if err != nil {
		log.Printf("audit: write %s failed: %v", e.kind, err)
	}
}

// Record enqueues one audit entry, never blocking.
func (w *Writer) Record(kind string, payload any) {
	select {
	case w.ch <- entry{kind: kind, payload: payload}:
	default:
		log.Printf("audit: buffer full, dropping %s entry", kind)
	}
}

// EmergencyEvent implements emergency.Recorder. Persisting synchronously is
// acceptable here: emergency transitions are rare and worth durability.
func (w *Writer) EmergencyEvent(state emergency.State, reason string, severity emergency.Severity, at time.Time) {
	if err := w.store.InsertEmergencyEvent(string(state), reason, string(severity), at); err != nil {
		log.Printf("audit: emergency event write failed: %v", err)
	}
}

// ForwardBus subscribes to command and safety topics and audits every status
// change. It returns an unsubscribe function.
func (w *Writer) ForwardBus(bus *events.Bus) func() {
	stream, cancel := bus.SubscribeMany(256,
		events.EventCommandEnqueued,
		events.EventCommandDispatched,
		events.EventCommandAcked,
		events.EventCommandFailed,
		events.EventCommandRejected,
		events.EventCommandDropped,
		events.EventSafetyRejection,
	)
	go func() {
		for env := range stream {
			switch env.Topic {
			case events.EventSafetyRejection:
				if m, ok := env.Payload.(map[string]any); ok {
					sid, _ := m["strategyId"].(string)
					reason, _ := m["reason"].(string)
					if err := w.store.InsertSafetyRejection(sid, reason, ""); err != nil {
						log.Printf("audit: safety rejection write failed: %v", err)
					}
				}
			default:
				if cmd, ok := env.Payload.(order.TradeCommand); ok {
					w.Record(string(env.Topic), CommandRow{
						ID:         cmd.ID,
						StrategyID: cmd.StrategyID,
						Type:       string(cmd.Type),
						Symbol:     cmd.Symbol,
						Side:       cmd.Side,
						Lots:       cmd.Lots,
						Priority:   cmd.Priority.String(),
						Status:     string(cmd.Status),
						RetryCount: cmd.RetryCount,
						LastError:  cmd.LastError,
						CreatedAt:  cmd.CreatedAt,
						UpdatedAt:  cmd.UpdatedAt,
					})
				}
			}
		}
	}()
	return cancel
}
