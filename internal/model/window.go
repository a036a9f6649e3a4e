package model

import "fmt"

// WindowSlice is an ordered, deduplicated sequence of Candles for one
// (Symbol, Timeframe) spanning [From, To]. Invariant: strictly increasing
// StartTS, no duplicates, every member valid. Returned by value from the
// Window Loader — callers never share the backing array with the loader's
// own cache state.
type WindowSlice struct {
	Symbol    string
	Timeframe Timeframe
	From      int64 // unix seconds, inclusive
	To        int64 // unix seconds, inclusive
	Candles   []Candle
}

// Clone returns a copy of the slice header with its own backing array (the
// Candle values themselves are immutable) so a caller can't mutate the
// loader's cached state through the returned slice.
func (w WindowSlice) Clone() WindowSlice {
	cp := make([]Candle, len(w.Candles))
	copy(cp, w.Candles)
	w.Candles = cp
	return w
}

// Validate checks the slice invariants: strictly increasing StartTS, no
// duplicates, every candle individually OHLC-valid.
func (w WindowSlice) Validate() error {
	var prev *Candle
	for i := range w.Candles {
		c := &w.Candles[i]
		if err := c.ValidateOHLC(); err != nil {
			return err
		}
		if prev != nil && !c.StartTS.After(prev.StartTS) {
			return fmt.Errorf("model: window slice not strictly increasing at index %d (%s <= %s)", i, c.StartTS, prev.StartTS)
		}
		prev = c
	}
	return nil
}

// Last returns the newest candle in the slice, or the zero value and false
// if the slice is empty.
func (w WindowSlice) Last() (Candle, bool) {
	if len(w.Candles) == 0 {
		return Candle{}, false
	}
	return w.Candles[len(w.Candles)-1], true
}

// IndicatorResult holds a computed indicator value at produce time, used to
// build feature snapshots for predictions.
type IndicatorResult struct {
	Name  string  `json:"name"` // e.g. "SMA_20", "EMA_9", "RSI_14"
	Value float64 `json:"value"`
	Ready bool    `json:"ready"`
}
