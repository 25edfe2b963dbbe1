package strategy

import (
	"fmt"
	"time"

	"executor-core/internal/filters"
	"executor-core/internal/market"
	"executor-core/internal/risk"
	"executor-core/internal/rules"
)

// State is the lifecycle state of a strategy monitor.
type State string

const (
	StateCreated  State = "CREATED"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateStopping State = "STOPPING"
	StateFaulted  State = "FAULTED"
	StateStopped  State = "STOPPED"
)

// Management holds the position-management parameters applied to open
// positions each cycle. Zero values disable the corresponding behavior.
type Management struct {
	TrailingStopPips     float64 `json:"trailingStopPips" yaml:"trailing_stop_pips"`
	BreakEvenTriggerPips float64 `json:"breakEvenTriggerPips" yaml:"break_even_trigger_pips"`
	BreakEvenOffsetPips  float64 `json:"breakEvenOffsetPips" yaml:"break_even_offset_pips"`
}

// Definition is the full description of one strategy. It is owned by the
// control plane and only ever swapped whole via UPDATE.
type Definition struct {
	ID        string           `json:"id" yaml:"id"`
	Name      string           `json:"name" yaml:"name"`
	Symbol    string           `json:"symbol" yaml:"symbol"`
	Timeframe market.Timeframe `json:"timeframe" yaml:"timeframe"`

	EntryBuy  *rules.Node `json:"entryBuy,omitempty" yaml:"entry_buy,omitempty"`
	EntrySell *rules.Node `json:"entrySell,omitempty" yaml:"entry_sell,omitempty"`
	Exit      *rules.Node `json:"exit,omitempty" yaml:"exit,omitempty"`

	Filters    filters.Config   `json:"filters" yaml:"filters"`
	Sizing     risk.SizingRules `json:"sizing" yaml:"sizing"`
	Management Management       `json:"management" yaml:"management"`

	// BarWindow is how many bars each cycle fetches; 0 means 200.
	BarWindow int `json:"barWindow,omitempty" yaml:"bar_window,omitempty"`
	// PipSize is the price delta of one pip; 0 means 0.0001.
	PipSize float64 `json:"pipSize,omitempty" yaml:"pip_size,omitempty"`
	// ContractSize converts lots to notional; 0 means 100000.
	ContractSize float64 `json:"contractSize,omitempty" yaml:"contract_size,omitempty"`
	// Leverage sizes the margin estimate; 0 means 100.
	Leverage float64 `json:"leverage,omitempty" yaml:"leverage,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
}

// Validate rejects definitions the monitor could not run.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("strategy id is required")
	}
	if d.Symbol == "" {
		return fmt.Errorf("strategy %s: symbol is required", d.ID)
	}
	if d.Timeframe == "" {
		return fmt.Errorf("strategy %s: timeframe is required", d.ID)
	}
	if d.EntryBuy == nil && d.EntrySell == nil {
		return fmt.Errorf("strategy %s: at least one entry rule tree is required", d.ID)
	}
	for name, tree := range map[string]*rules.Node{
		"entry_buy": d.EntryBuy, "entry_sell": d.EntrySell, "exit": d.Exit,
	} {
		if tree == nil {
			continue
		}
		if err := tree.Validate(); err != nil {
			return fmt.Errorf("strategy %s: %s rules: %w", d.ID, name, err)
		}
	}
	return nil
}

func (d *Definition) barWindow() int {
	if d.BarWindow > 0 {
		return d.BarWindow
	}
	return 200
}

func (d *Definition) pipSize() float64 {
	if d.PipSize > 0 {
		return d.PipSize
	}
	return 0.0001
}

func (d *Definition) contractSize() float64 {
	if d.ContractSize > 0 {
		return d.ContractSize
	}
	return 100000
}

func (d *Definition) leverage() float64 {
	if d.Leverage > 0 {
		return d.Leverage
	}
	return 100
}

// Signal is one trade intent produced by rule evaluation, published on the
// bus for observers before it is turned into a command.
type Signal struct {
	ID           string    `json:"id"`
	StrategyID   string    `json:"strategyId"`
	Direction    string    `json:"direction"` // BUY, SELL or CLOSE
	Symbol       string    `json:"symbol"`
	GeneratedAt  time.Time `json:"generatedAt"`
	MatchedRules []string  `json:"matchedRules,omitempty"`
}
