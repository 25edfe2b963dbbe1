package transport

import (
	"context"
	"errors"
	"sync"

	"executor-core/internal/order"
)

// Mock is an in-memory transport for tests and dry runs. FailFirst makes the
// first N sends fail, exercising the dispatcher retry path.
type Mock struct {
	mu        sync.Mutex
	sent      []order.TradeCommand
	attempts  int
	FailFirst int
	Err       error
}

func (m *Mock) Send(_ context.Context, cmd *order.TradeCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts <= m.FailFirst {
		if m.Err != nil {
			return m.Err
		}
		return errors.New("transport unavailable")
	}
	m.sent = append(m.sent, *cmd)
	return nil
}

// Sent returns a copy of the delivered commands.
func (m *Mock) Sent() []order.TradeCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]order.TradeCommand(nil), m.sent...)
}

// Attempts reports total Send calls, including failed ones.
func (m *Mock) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
