package risk

// SizingRules are the per-strategy sizing parameters.
type SizingRules struct {
	LotSize        float64 `json:"lotSize" yaml:"lot_size"` // fixed override, 0 = risk-based
	RiskPercentage float64 `json:"riskPercentage" yaml:"risk_percentage"`
	StopLossPips   float64 `json:"stopLossPips" yaml:"stop_loss_pips"`
	PipValue       float64 `json:"pipValue" yaml:"pip_value"` // per 1.0 lot
	MinLot         float64 `json:"minLot" yaml:"min_lot"`
	MaxLot         float64 `json:"maxLot" yaml:"max_lot"`
}

// LotSize converts risk percentage, stop distance and account balance into a
// lot size. A fixed lotSize wins outright; degenerate inputs fall back to the
// minimum lot rather than erroring, matching terminal-side behavior.
func LotSize(balance float64, r SizingRules) float64 {
	if r.LotSize > 0 {
		return r.LotSize
	}

	riskPct := r.RiskPercentage
	if riskPct <= 0 {
		riskPct = 1.0
	}
	stopPips := r.StopLossPips
	if stopPips <= 0 {
		stopPips = 30
	}
	pipValue := r.PipValue
	if pipValue <= 0 {
		pipValue = 10
	}
	minLot := r.MinLot
	if minLot <= 0 {
		minLot = 0.01
	}
	maxLot := r.MaxLot
	if maxLot <= 0 {
		maxLot = 1.0
	}

	riskAmount := balance * (riskPct / 100)
	lot := riskAmount / (pipValue * stopPips)
	if lot < minLot {
		return minLot
	}
	if lot > maxLot {
		return maxLot
	}
	return lot
}
