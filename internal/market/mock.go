package market

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MockSource generates a synthetic random-walk bar history for local
// development and tests. Safe for concurrent use.
type MockSource struct {
	StartPrice float64
	Step       float64
	SpreadPips float64
	Closed     bool // when true, Tradable reports false for every symbol

	mu   sync.Mutex
	rng  *rand.Rand
	hist map[string][]Bar // key = symbol + "/" + timeframe
}

func NewMockSource(start, step float64) *MockSource {
	return &MockSource{
		StartPrice: start,
		Step:       step,
		SpreadPips: 1.2,
		rng:        rand.New(rand.NewSource(42)),
		hist:       make(map[string][]Bar),
	}
}

// Seed reseeds the random walk. Call it before the first GetBars so two runs
// with the same seed produce identical histories.
func (m *MockSource) Seed(seed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = rand.New(rand.NewSource(seed))
}

// Prewarm generates the initial history for each symbol so the first
// strategy cycle starts from a full window.
func (m *MockSource) Prewarm(symbols []string, tf Timeframe, count int) {
	for _, s := range symbols {
		_, _ = m.GetBars(context.Background(), s, tf, count)
	}
}

func (m *MockSource) GetBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := symbol + "/" + string(tf)
	bars := m.hist[key]
	if len(bars) < count {
		bars = m.extend(bars, tf, count-len(bars))
		m.hist[key] = bars
	}

	out := make([]Bar, count)
	copy(out, bars[len(bars)-count:])
	return out, nil
}

func (m *MockSource) extend(bars []Bar, tf Timeframe, n int) []Bar {
	price := m.StartPrice
	ts := time.Now().UTC().Truncate(tf.Duration()).Add(-time.Duration(n) * tf.Duration())
	if len(bars) > 0 {
		price = bars[len(bars)-1].Close
		ts = bars[len(bars)-1].Time.Add(tf.Duration())
	}
	for i := 0; i < n; i++ {
		open := price
		price += (m.rng.Float64()*2 - 1) * m.Step
		high := open
		low := open
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
		bars = append(bars, Bar{
			Time:   ts,
			Open:   open,
			High:   high + m.rng.Float64()*m.Step/2,
			Low:    low - m.rng.Float64()*m.Step/2,
			Close:  price,
			Volume: 500 + m.rng.Float64()*1000,
		})
		ts = ts.Add(tf.Duration())
	}
	return bars
}

func (m *MockSource) Tradable(string) bool { return !m.Closed }

func (m *MockSource) Spread(string) float64 { return m.SpreadPips }

// StaticSource serves a fixed bar slice; used in tests to drive known setups.
type StaticSource struct {
	Bars       map[string][]Bar // key = symbol
	Untradable bool
	Pips       float64
	Err        error
}

func (s *StaticSource) GetBars(_ context.Context, symbol string, _ Timeframe, count int) ([]Bar, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	bars := s.Bars[symbol]
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (s *StaticSource) Tradable(string) bool  { return !s.Untradable }
func (s *StaticSource) Spread(string) float64 { return s.Pips }
