package order

import (
	"log"
	"sync"

	"executor-core/internal/events"
)

// Queue is a bounded four-tier priority queue. Producers never block: when
// the queue is at capacity, the lowest-priority queued command is dropped to
// make room, unless every queued command outranks the newcomer, in which
// case the newcomer itself is dropped.
type Queue struct {
	mu       sync.Mutex
	tiers    [priorityCount][]*TradeCommand
	size     int
	capacity int
	closed   bool
	ready    chan struct{} // wakes the single consumer
	bus      *events.Bus
}

func NewQueue(capacity int, bus *events.Bus) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
		bus:      bus,
	}
}

// Enqueue adds a command, preempting lower-priority work when full. The
// returned bool reports whether the command was accepted.
func (q *Queue) Enqueue(cmd *TradeCommand) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.size >= q.capacity {
		dropped := q.evictLowestLocked(cmd.Priority)
		if dropped == nil {
			q.mu.Unlock()
			log.Printf("order: queue full, dropping incoming %s command %s (priority %s)",
				cmd.Type, cmd.ID, cmd.Priority)
			q.publishDropped(cmd)
			return false
		}
		log.Printf("order: queue full, dropped queued %s command %s (priority %s) for incoming %s",
			dropped.Type, dropped.ID, dropped.Priority, cmd.Priority)
		q.publishDropped(dropped)
	}
	q.tiers[cmd.Priority] = append(q.tiers[cmd.Priority], cmd)
	q.size++
	q.mu.Unlock()

	q.signal()
	if q.bus != nil {
		q.bus.Publish(events.EventCommandEnqueued, *cmd)
	}
	return true
}

// evictLowestLocked removes the newest command from the lowest non-empty
// tier that ranks strictly below prio. Returns nil when nothing is evictable.
func (q *Queue) evictLowestLocked(prio Priority) *TradeCommand {
	for p := PriorityLow; p > prio; p-- {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		victim := tier[len(tier)-1]
		q.tiers[p] = tier[:len(tier)-1]
		q.size--
		return victim
	}
	return nil
}

// Dequeue removes the highest-priority command, FIFO within a tier. Returns
// nil when the queue is empty.
func (q *Queue) Dequeue() *TradeCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p := PriorityUrgent; p <= PriorityLow; p++ {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		cmd := tier[0]
		q.tiers[p] = tier[1:]
		q.size--
		if q.size > 0 {
			q.signal()
		}
		return cmd
	}
	return nil
}

// RejectOpens removes every queued OPEN and MODIFY command, marks each
// Rejected with the given reason and returns them so the caller can free
// their safety reservations. CLOSE and CLOSE_ALL commands stay queued.
func (q *Queue) RejectOpens(reason string) []*TradeCommand {
	q.mu.Lock()
	var removed []*TradeCommand
	for p := PriorityUrgent; p <= PriorityLow; p++ {
		kept := q.tiers[p][:0]
		for _, cmd := range q.tiers[p] {
			if cmd.Type == CommandOpen || cmd.Type == CommandModify {
				removed = append(removed, cmd)
				q.size--
				continue
			}
			kept = append(kept, cmd)
		}
		q.tiers[p] = kept
	}
	q.mu.Unlock()

	for _, cmd := range removed {
		cmd.setStatus(StatusRejected)
		cmd.LastError = reason
		log.Printf("order: command %s (%s %s) rejected in queue: %s", cmd.ID, cmd.Type, cmd.Symbol, reason)
		if q.bus != nil {
			q.bus.Publish(events.EventCommandRejected, *cmd)
		}
	}
	return removed
}

// Ready exposes the wake-up channel for the consumer loop.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Len reports the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Close stops accepting new commands. Queued commands remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Closed reports whether Enqueue is shut off.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) publishDropped(cmd *TradeCommand) {
	cmd.setStatus(StatusRejected)
	cmd.LastError = "dropped: queue full"
	if q.bus != nil {
		q.bus.Publish(events.EventCommandDropped, *cmd)
	}
}
