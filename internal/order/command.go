package order

import (
	"time"

	"github.com/google/uuid"
)

// CommandType enumerates the operations the terminal bridge accepts.
type CommandType string

const (
	CommandOpen     CommandType = "OPEN"
	CommandClose    CommandType = "CLOSE"
	CommandModify   CommandType = "MODIFY"
	CommandCloseAll CommandType = "CLOSE_ALL"
)

// Priority orders dispatch. Lower value dispatches first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow

	priorityCount = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "URGENT"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	}
	return "UNKNOWN"
}

// Status tracks a command through its lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispatched Status = "DISPATCHED"
	StatusAcked      Status = "ACKED"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
)

// TradeCommand is one instruction bound for the trading terminal.
type TradeCommand struct {
	ID         string      `json:"id"`
	StrategyID string      `json:"strategyId"`
	Type       CommandType `json:"type"`
	Priority   Priority    `json:"priority"`
	Status     Status      `json:"status"`

	Symbol     string  `json:"symbol,omitempty"`
	Side       string  `json:"side,omitempty"` // BUY or SELL
	Lots       float64 `json:"lots,omitempty"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stopLoss,omitempty"`
	TakeProfit float64 `json:"takeProfit,omitempty"`
	Ticket     int64   `json:"ticket,omitempty"` // target position for CLOSE/MODIFY
	Comment    string  `json:"comment,omitempty"`

	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewCommand builds a pending command with a fresh id.
func NewCommand(strategyID string, typ CommandType, prio Priority) *TradeCommand {
	now := time.Now().UTC()
	return &TradeCommand{
		ID:         uuid.NewString(),
		StrategyID: strategyID,
		Type:       typ,
		Priority:   prio,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (c *TradeCommand) setStatus(s Status) {
	c.Status = s
	c.UpdatedAt = time.Now().UTC()
}
