package order

import (
	"context"
	"log"
	"time"

	"executor-core/internal/events"
)

// Transport delivers a command to the trading terminal and waits for its
// acknowledgement. A nil error means the terminal accepted the command.
type Transport interface {
	Send(ctx context.Context, cmd *TradeCommand) error
}

// EmergencyGate is consulted before every send attempt.
type EmergencyGate interface {
	Active() bool
}

// Reservations releases or settles the safety reservation taken at
// validation time, keyed by command id.
type Reservations interface {
	Release(commandID string)
	Settle(commandID string)
}

const (
	sendTimeout = 5 * time.Second
	maxRetries  = 3
	baseBackoff = time.Second
)

// Dispatcher is the queue's single consumer. One goroutine drains the queue
// so command ordering within a priority tier is preserved end to end.
type Dispatcher struct {
	queue        *Queue
	transport    Transport
	gate         EmergencyGate
	reservations Reservations
	bus          *events.Bus
	backoff      time.Duration
	done         chan struct{}
}

func NewDispatcher(queue *Queue, transport Transport, gate EmergencyGate, res Reservations, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		transport:    transport,
		gate:         gate,
		reservations: res,
		bus:          bus,
		backoff:      baseBackoff,
		done:         make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled, or until the queue has been
// closed and emptied. Closing the queue first gives queued close-out commands
// a chance to reach the terminal before shutdown cancels the context. Run
// blocks; call it in its own goroutine and wait on Done.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	log.Printf("order: dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("order: dispatcher stopped")
			return
		case <-d.queue.Ready():
			for {
				cmd := d.queue.Dequeue()
				if cmd == nil {
					break
				}
				d.dispatch(ctx, cmd)
				if ctx.Err() != nil {
					return
				}
			}
			if d.queue.Closed() {
				log.Printf("order: dispatcher stopped, queue drained")
				return
			}
		}
	}
}

// Done closes once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) dispatch(ctx context.Context, cmd *TradeCommand) {
	for attempt := 0; ; attempt++ {
		// Conditions may have changed while the command sat queued or
		// between retries, so the emergency gate is re-checked per attempt.
		if d.gate != nil && d.gate.Active() && (cmd.Type == CommandOpen || cmd.Type == CommandModify) {
			d.reject(cmd, "emergency stop active")
			return
		}

		cmd.setStatus(StatusDispatched)
		cmd.RetryCount = attempt
		d.publish(events.EventCommandDispatched, cmd)

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := d.transport.Send(sendCtx, cmd)
		cancel()

		if err == nil {
			cmd.setStatus(StatusAcked)
			cmd.LastError = ""
			d.settle(cmd)
			d.publish(events.EventCommandAcked, cmd)
			log.Printf("order: command %s (%s %s) acknowledged after %d attempt(s)",
				cmd.ID, cmd.Type, cmd.Symbol, attempt+1)
			return
		}

		cmd.LastError = err.Error()
		log.Printf("order: command %s send attempt %d failed: %v", cmd.ID, attempt+1, err)

		if attempt >= maxRetries || ctx.Err() != nil {
			cmd.setStatus(StatusFailed)
			d.release(cmd)
			d.publish(events.EventCommandFailed, cmd)
			log.Printf("order: command %s failed permanently: %s", cmd.ID, cmd.LastError)
			return
		}

		backoff := d.backoff << attempt
		select {
		case <-ctx.Done():
			cmd.setStatus(StatusFailed)
			d.release(cmd)
			d.publish(events.EventCommandFailed, cmd)
			return
		case <-time.After(backoff):
		}
	}
}

func (d *Dispatcher) reject(cmd *TradeCommand, reason string) {
	cmd.setStatus(StatusRejected)
	cmd.LastError = reason
	d.release(cmd)
	d.publish(events.EventCommandRejected, cmd)
	log.Printf("order: command %s rejected: %s", cmd.ID, reason)
}

func (d *Dispatcher) release(cmd *TradeCommand) {
	if d.reservations != nil && cmd.Type == CommandOpen {
		d.reservations.Release(cmd.ID)
	}
}

func (d *Dispatcher) settle(cmd *TradeCommand) {
	if d.reservations != nil && cmd.Type == CommandOpen {
		d.reservations.Settle(cmd.ID)
	}
}

func (d *Dispatcher) publish(topic events.Event, cmd *TradeCommand) {
	if d.bus != nil {
		d.bus.Publish(topic, *cmd)
	}
}
