package indicators

// Value is one point of an indicator series. Ready is false for indices
// before the warm-up period completes; a not-ready point never carries a
// meaningful number and must not be compared against thresholds.
type Value struct {
	Float64 float64
	Ready   bool
}

// Series is an indicator output aligned index-for-index with its input bars.
type Series []Value

// Last returns the most recent ready value.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i].Ready {
			return s[i].Float64, true
		}
	}
	return 0, false
}

// Prev returns the second most recent ready value.
func (s Series) Prev() (float64, bool) {
	seen := false
	for i := len(s) - 1; i >= 0; i-- {
		if !s[i].Ready {
			continue
		}
		if seen {
			return s[i].Float64, true
		}
		seen = true
	}
	return 0, false
}

// At returns the value at index i, not-ready when out of range.
func (s Series) At(i int) Value {
	if i < 0 || i >= len(s) {
		return Value{}
	}
	return s[i]
}

func ready(v float64) Value { return Value{Float64: v, Ready: true} }

func notReady(n int) Series { return make(Series, n) }
