package indicators

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"executor-core/internal/market"
)

// Snapshot computes indicator series by name over one bar window, caching
// results so a rule tree referencing the same indicator twice pays once.
// It is built fresh each evaluation cycle and never mutated afterwards.
type Snapshot struct {
	bars  []market.Bar
	asOf  time.Time
	cache map[string]Series
}

// NewSnapshot wraps an ordered bar window. The snapshot is tagged with the
// timestamp of the bar it was computed from.
func NewSnapshot(bars []market.Bar) *Snapshot {
	s := &Snapshot{bars: bars, cache: make(map[string]Series)}
	if len(bars) > 0 {
		s.asOf = bars[len(bars)-1].Time
	}
	return s
}

// AsOf returns the timestamp of the newest bar in the window.
func (s *Snapshot) AsOf() time.Time { return s.asOf }

// Bars exposes the underlying window (read-only by convention).
func (s *Snapshot) Bars() []market.Bar { return s.bars }

// Last returns the most recent ready value of the named indicator.
func (s *Snapshot) Last(name string) (float64, bool, error) {
	series, err := s.Get(name)
	if err != nil {
		return 0, false, err
	}
	v, ok := series.Last()
	return v, ok, nil
}

// Prev returns the value one ready step before Last.
func (s *Snapshot) Prev(name string) (float64, bool, error) {
	series, err := s.Get(name)
	if err != nil {
		return 0, false, err
	}
	v, ok := series.Prev()
	return v, ok, nil
}

// Get resolves an indicator by dynamic name, e.g. "ema_50", "rsi_14",
// "bollinger_upper", "stochastic_k", "macd_signal". Unknown names are an
// evaluation error, never a silent fallback.
func (s *Snapshot) Get(name string) (Series, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if series, ok := s.cache[key]; ok {
		return series, nil
	}

	var series Series
	switch {
	case key == "price" || key == "close":
		series = readyFloats(closes(s.bars))
	case key == "volume":
		series = readyFloats(volumes(s.bars))
	case strings.HasPrefix(key, "ema_"):
		series = EMA(s.bars, suffixPeriod(key, 0))
	case strings.HasPrefix(key, "sma_"):
		series = SMA(s.bars, suffixPeriod(key, 0))
	case key == "rsi" || strings.HasPrefix(key, "rsi_"):
		series = RSI(s.bars, suffixPeriod(key, 14))
	case key == "atr" || strings.HasPrefix(key, "atr_"):
		series = ATR(s.bars, suffixPeriod(key, 14))
	case key == "cci" || strings.HasPrefix(key, "cci_"):
		series = CCI(s.bars, suffixPeriod(key, 20))
	case key == "williams_r":
		series = WilliamsR(s.bars, 14)
	case key == "adx" || key == "adx_di_plus" || key == "adx_di_minus":
		res := ADX(s.bars, 14)
		s.cache["adx"] = res.ADX
		s.cache["adx_di_plus"] = res.PlusDI
		s.cache["adx_di_minus"] = res.MinusDI
		return s.cache[key], nil
	case key == "macd" || key == "macd_signal" || key == "macd_hist":
		res := MACD(s.bars, 12, 26, 9)
		s.cache["macd"] = res.Line
		s.cache["macd_signal"] = res.Signal
		s.cache["macd_hist"] = res.Histogram
		return s.cache[key], nil
	case key == "stochastic_k" || key == "stochastic_d":
		res := Stochastic(s.bars, 14, 3, 3)
		s.cache["stochastic_k"] = res.K
		s.cache["stochastic_d"] = res.D
		return s.cache[key], nil
	case key == "bollinger_upper" || key == "bollinger_mid" || key == "bollinger_lower":
		bb := Bollinger(s.bars, 20, 2.0)
		s.cache["bollinger_upper"] = bb.Upper
		s.cache["bollinger_mid"] = bb.Middle
		s.cache["bollinger_lower"] = bb.Lower
		return s.cache[key], nil
	case key == "ichimoku_tenkan" || key == "ichimoku_kijun" || key == "ichimoku_senkou_a" || key == "ichimoku_senkou_b" || key == "ichimoku_chikou":
		res := Ichimoku(s.bars, 9, 26, 52)
		s.cache["ichimoku_tenkan"] = res.Tenkan
		s.cache["ichimoku_kijun"] = res.Kijun
		s.cache["ichimoku_senkou_a"] = res.SenkouA
		s.cache["ichimoku_senkou_b"] = res.SenkouB
		s.cache["ichimoku_chikou"] = res.Chikou
		return s.cache[key], nil
	case key == "vwap":
		series = VWAP(s.bars, true)
	case key == "obv":
		series = OBV(s.bars)
	case key == "volume_ratio" || strings.HasPrefix(key, "volume_ratio_"):
		series = VolumeRatio(s.bars, suffixPeriod(key, 20))
	default:
		return nil, fmt.Errorf("unknown indicator %q", name)
	}

	s.cache[key] = series
	return series, nil
}

func readyFloats(vals []float64) Series {
	out := make(Series, len(vals))
	for i, v := range vals {
		out[i] = ready(v)
	}
	return out
}

func suffixPeriod(key string, def int) int {
	idx := strings.LastIndex(key, "_")
	if idx < 0 {
		return def
	}
	if p, err := strconv.Atoi(key[idx+1:]); err == nil && p > 0 {
		return p
	}
	return def
}
