package order

import (
	"testing"
)

func cmd(id string, typ CommandType, prio Priority) *TradeCommand {
	c := NewCommand("s1", typ, prio)
	c.ID = id
	c.Symbol = "EURUSD"
	return c
}

func TestDequeueOrdersByPriority(t *testing.T) {
	q := NewQueue(10, nil)
	q.Enqueue(cmd("low", CommandClose, PriorityLow))
	q.Enqueue(cmd("urgent", CommandCloseAll, PriorityUrgent))
	q.Enqueue(cmd("normal", CommandOpen, PriorityNormal))
	q.Enqueue(cmd("high", CommandClose, PriorityHigh))

	want := []string{"urgent", "high", "normal", "low"}
	for i, id := range want {
		got := q.Dequeue()
		if got == nil || got.ID != id {
			t.Fatalf("dequeue %d = %v, want %s", i, got, id)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("empty queue must return nil")
	}
}

func TestFIFOWithinTier(t *testing.T) {
	q := NewQueue(10, nil)
	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(cmd(id, CommandOpen, PriorityNormal))
	}
	for _, id := range []string{"a", "b", "c"} {
		if got := q.Dequeue(); got.ID != id {
			t.Fatalf("got %s, want %s", got.ID, id)
		}
	}
}

func TestOverflowEvictsLowestPriority(t *testing.T) {
	q := NewQueue(2, nil)
	q.Enqueue(cmd("n1", CommandOpen, PriorityNormal))
	low := cmd("l1", CommandOpen, PriorityLow)
	q.Enqueue(low)

	// Full. A HIGH newcomer evicts the LOW command, not the NORMAL one.
	if !q.Enqueue(cmd("h1", CommandClose, PriorityHigh)) {
		t.Fatal("high-priority command should be accepted by eviction")
	}
	if low.Status != StatusRejected || low.LastError != "dropped: queue full" {
		t.Fatalf("evicted command not marked dropped: %s %q", low.Status, low.LastError)
	}

	if got := q.Dequeue(); got.ID != "h1" {
		t.Fatalf("got %s, want h1", got.ID)
	}
	if got := q.Dequeue(); got.ID != "n1" {
		t.Fatalf("got %s, want n1", got.ID)
	}
}

func TestOverflowDropsIncomingWhenOutranked(t *testing.T) {
	q := NewQueue(2, nil)
	q.Enqueue(cmd("u1", CommandCloseAll, PriorityUrgent))
	q.Enqueue(cmd("h1", CommandClose, PriorityHigh))

	in := cmd("n1", CommandOpen, PriorityNormal)
	if q.Enqueue(in) {
		t.Fatal("outranked newcomer must be dropped")
	}
	if in.Status != StatusRejected {
		t.Fatalf("dropped newcomer status = %s", in.Status)
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2", q.Len())
	}
}

func TestRejectOpensSweepsOpensAndModifies(t *testing.T) {
	q := NewQueue(10, nil)
	q.Enqueue(cmd("o1", CommandOpen, PriorityNormal))
	q.Enqueue(cmd("c1", CommandClose, PriorityHigh))
	q.Enqueue(cmd("m1", CommandModify, PriorityNormal))
	q.Enqueue(cmd("ca1", CommandCloseAll, PriorityUrgent))

	removed := q.RejectOpens("emergency stop active")
	if len(removed) != 2 {
		t.Fatalf("removed %d commands, want 2", len(removed))
	}
	for _, c := range removed {
		if c.Status != StatusRejected || c.LastError != "emergency stop active" {
			t.Fatalf("swept command %s: status=%s err=%q", c.ID, c.Status, c.LastError)
		}
	}

	// Closes survive in priority order.
	if got := q.Dequeue(); got.ID != "ca1" {
		t.Fatalf("got %s, want ca1", got.ID)
	}
	if got := q.Dequeue(); got.ID != "c1" {
		t.Fatalf("got %s, want c1", got.ID)
	}
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
}

func TestClosedQueueRefusesNewWork(t *testing.T) {
	q := NewQueue(10, nil)
	q.Enqueue(cmd("a", CommandOpen, PriorityNormal))
	q.Close()

	if q.Enqueue(cmd("b", CommandOpen, PriorityNormal)) {
		t.Fatal("closed queue must refuse enqueue")
	}
	// Queued work stays drainable.
	if got := q.Dequeue(); got == nil || got.ID != "a" {
		t.Fatalf("queued command lost on close: %v", got)
	}
}

func TestReadySignals(t *testing.T) {
	q := NewQueue(10, nil)
	q.Enqueue(cmd("a", CommandOpen, PriorityNormal))
	select {
	case <-q.Ready():
	default:
		t.Fatal("enqueue must signal the consumer")
	}
}
