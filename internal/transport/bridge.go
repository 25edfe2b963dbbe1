package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"executor-core/internal/account"
	"executor-core/internal/market"
	"executor-core/internal/order"
)

// Bridge is the websocket client to the terminal-side bridge process. One
// connection carries command delivery, account snapshots and bar requests as
// request/response pairs; a mutex serializes them.
type Bridge struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewBridge(url string) *Bridge {
	return &Bridge{url: url, dialer: websocket.DefaultDialer}
}

type request struct {
	Op        string              `json:"op"` // command, account, bars, spread, tradable
	Command   *order.TradeCommand `json:"command,omitempty"`
	Symbol    string              `json:"symbol,omitempty"`
	Timeframe string              `json:"timeframe,omitempty"`
	Count     int                 `json:"count,omitempty"`
}

type response struct {
	Ok       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Ticket   int64             `json:"ticket,omitempty"`
	Account  *account.Snapshot `json:"account,omitempty"`
	Bars     []market.Bar      `json:"bars,omitempty"`
	Spread   float64           `json:"spread,omitempty"`
	Tradable bool              `json:"tradable,omitempty"`
}

// Send delivers a command and waits for the bridge acknowledgement.
func (b *Bridge) Send(ctx context.Context, cmd *order.TradeCommand) error {
	resp, err := b.roundTrip(ctx, request{Op: "command", Command: cmd})
	if err != nil {
		return err
	}
	if !resp.Ok {
		return fmt.Errorf("bridge rejected command %s: %s", cmd.ID, resp.Error)
	}
	if resp.Ticket != 0 {
		cmd.Ticket = resp.Ticket
	}
	return nil
}

// AccountSnapshot implements account.TerminalClient.
func (b *Bridge) AccountSnapshot(ctx context.Context) (account.Snapshot, error) {
	resp, err := b.roundTrip(ctx, request{Op: "account"})
	if err != nil {
		return account.Snapshot{}, err
	}
	if !resp.Ok || resp.Account == nil {
		return account.Snapshot{}, fmt.Errorf("bridge account query failed: %s", resp.Error)
	}
	return *resp.Account, nil
}

// GetBars implements market.DataSource.
func (b *Bridge) GetBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	resp, err := b.roundTrip(ctx, request{Op: "bars", Symbol: symbol, Timeframe: string(tf), Count: count})
	if err != nil {
		return nil, err
	}
	if !resp.Ok {
		return nil, fmt.Errorf("bridge bars query failed: %s", resp.Error)
	}
	return resp.Bars, nil
}

// Tradable implements market.DataSource. Query failure reads as closed; the
// safety gate treats that conservatively.
func (b *Bridge) Tradable(symbol string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := b.roundTrip(ctx, request{Op: "tradable", Symbol: symbol})
	if err != nil {
		log.Printf("transport: tradable query for %s failed: %v", symbol, err)
		return false
	}
	return resp.Ok && resp.Tradable
}

// Spread implements market.DataSource, best effort.
func (b *Bridge) Spread(symbol string) float64 {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := b.roundTrip(ctx, request{Op: "spread", Symbol: symbol})
	if err != nil || !resp.Ok {
		return 0
	}
	return resp.Spread
}

func (b *Bridge) roundTrip(ctx context.Context, req request) (*response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connLocked(ctx)
	if err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		b.dropLocked()
		return nil, fmt.Errorf("bridge write: %w", err)
	}
	var resp response
	if err := conn.ReadJSON(&resp); err != nil {
		b.dropLocked()
		return nil, fmt.Errorf("bridge read: %w", err)
	}
	return &resp, nil
}

func (b *Bridge) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if b.conn != nil {
		return b.conn, nil
	}
	if b.url == "" {
		return nil, errors.New("bridge url is empty")
	}
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", b.url, err)
	}
	log.Printf("transport: connected to bridge %s", b.url)
	b.conn = conn
	return conn, nil
}

func (b *Bridge) dropLocked() {
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}

// Close shuts the connection down.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.dropLocked()
	}
}
