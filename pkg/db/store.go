package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CommandRow is the persisted view of a trade command.
type CommandRow struct {
	ID         string    `json:"id"`
	StrategyID string    `json:"strategyId"`
	Type       string    `json:"type"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Lots       float64   `json:"lots"`
	Priority   string    `json:"priority"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retryCount"`
	LastError  string    `json:"lastError,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// UpsertCommand records a command or its latest status transition.
func (d *Database) UpsertCommand(row CommandRow) error {
	_, err := d.DB.Exec(`INSERT INTO commands
		(id, strategy_id, type, symbol, side, lots, priority, status, retry_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			retry_count = excluded.retry_count,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		row.ID, row.StrategyID, row.Type, row.Symbol, row.Side, row.Lots,
		row.Priority, row.Status, row.RetryCount, row.LastError, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert command %s: %w", row.ID, err)
	}
	return nil
}

// RecentCommands returns the newest commands, newest first.
func (d *Database) RecentCommands(limit int) ([]CommandRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.Query(`SELECT id, strategy_id, type, symbol, side, lots,
		priority, status, retry_count, last_error, created_at, updated_at
		FROM commands ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var r CommandRow
		if err := rows.Scan(&r.ID, &r.StrategyID, &r.Type, &r.Symbol, &r.Side, &r.Lots,
			&r.Priority, &r.Status, &r.RetryCount, &r.LastError, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertSafetyRejection stores one rejected-signal record.
func (d *Database) InsertSafetyRejection(strategyID, reason, detail string) error {
	_, err := d.DB.Exec(`INSERT INTO safety_rejections (strategy_id, reason, detail) VALUES (?, ?, ?)`,
		strategyID, reason, detail)
	if err != nil {
		return fmt.Errorf("insert safety rejection: %w", err)
	}
	return nil
}

// InsertEmergencyEvent stores one emergency state transition.
func (d *Database) InsertEmergencyEvent(state, reason, severity string, at time.Time) error {
	_, err := d.DB.Exec(`INSERT INTO emergency_events (state, reason, severity, created_at) VALUES (?, ?, ?, ?)`,
		state, reason, severity, at)
	if err != nil {
		return fmt.Errorf("insert emergency event: %w", err)
	}
	return nil
}

// InsertAudit appends one audit record with a JSON payload.
func (d *Database) InsertAudit(kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	if _, err := d.DB.Exec(`INSERT INTO audit_log (kind, payload) VALUES (?, ?)`, kind, string(raw)); err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// SaveStrategy persists a strategy definition and its last known state.
func (d *Database) SaveStrategy(id, name, symbol, timeframe, state string, definition any) error {
	raw, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("marshal strategy %s: %w", id, err)
	}
	_, err = d.DB.Exec(`INSERT INTO strategies (id, name, symbol, timeframe, definition, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, symbol = excluded.symbol, timeframe = excluded.timeframe,
			definition = excluded.definition, state = excluded.state, updated_at = excluded.updated_at`,
		id, name, symbol, timeframe, string(raw), state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save strategy %s: %w", id, err)
	}
	return nil
}

// StrategyDefinition loads the stored JSON definition for one strategy.
func (d *Database) StrategyDefinition(id string) (string, error) {
	var raw string
	err := d.DB.QueryRow(`SELECT definition FROM strategies WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("strategy %s not found", id)
	}
	if err != nil {
		return "", fmt.Errorf("load strategy %s: %w", id, err)
	}
	return raw, nil
}
