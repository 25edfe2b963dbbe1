package risk

import (
	"fmt"
	"sync"
)

// Limits are the shared risk limits the safety validator enforces. They are
// hot-reloadable: updates take effect on the next Validate call, and each
// call is self-contained so no retroactive invalidation is needed.
type Limits struct {
	MaxDailyLoss        float64 `json:"maxDailyLoss" yaml:"max_daily_loss"`                // absolute, account currency
	MaxDailyLossPercent float64 `json:"maxDailyLossPercent" yaml:"max_daily_loss_percent"` // fraction of equity, e.g. 0.05
	MaxDrawdownPercent  float64 `json:"maxDrawdownPercent" yaml:"max_drawdown_percent"`
	MaxPositions        int     `json:"maxPositions" yaml:"max_positions"`
	MaxLotSize          float64 `json:"maxLotSize" yaml:"max_lot_size"`
	MaxTotalExposure    float64 `json:"maxTotalExposure" yaml:"max_total_exposure"`
	MaxCorrelation      float64 `json:"maxCorrelation" yaml:"max_correlation"`
	// EventBlackoutHard turns the scheduled-event proximity check from a
	// warning into a hard fail.
	EventBlackoutHard   bool `json:"eventBlackoutHard" yaml:"event_blackout_hard"`
	EventPauseBeforeMin int  `json:"eventPauseBeforeMinutes" yaml:"event_pause_before_minutes"`
	EventPauseAfterMin  int  `json:"eventPauseAfterMinutes" yaml:"event_pause_after_minutes"`
	EventHighImpactOnly bool `json:"eventHighImpactOnly" yaml:"event_high_impact_only"`
}

// DefaultLimits are conservative starting values persisted on first run.
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLoss:        500,
		MaxDailyLossPercent: 0.05,
		MaxDrawdownPercent:  0.20,
		MaxPositions:        3,
		MaxLotSize:          1.0,
		MaxTotalExposure:    100000,
		MaxCorrelation:      0.85,
		EventPauseBeforeMin: 30,
		EventPauseAfterMin:  30,
		EventHighImpactOnly: true,
	}
}

// Validate rejects limit sets that would make every trade impossible or
// every trade unbounded.
func (l Limits) Validate() error {
	if l.MaxPositions <= 0 {
		return fmt.Errorf("maxPositions must be positive")
	}
	if l.MaxLotSize <= 0 {
		return fmt.Errorf("maxLotSize must be positive")
	}
	if l.MaxDrawdownPercent < 0 || l.MaxDrawdownPercent > 1 {
		return fmt.Errorf("maxDrawdownPercent must be within [0,1]")
	}
	if l.MaxCorrelation < 0 || l.MaxCorrelation > 1 {
		return fmt.Errorf("maxCorrelation must be within [0,1]")
	}
	return nil
}

// limitStore guards the live limits. Single owner: the safety validator.
type limitStore struct {
	mu     sync.RWMutex
	limits Limits
}

func (s *limitStore) get() Limits {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits
}

func (s *limitStore) set(l Limits) {
	s.mu.Lock()
	s.limits = l
	s.mu.Unlock()
}
