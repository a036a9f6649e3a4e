package cache

import (
	"testing"

	"marketforecast/internal/model"
)

func slice(symbol string, from int64) model.WindowSlice {
	return model.WindowSlice{Symbol: symbol, Timeframe: model.TF1m, From: from, To: from + 60}
}

func TestWarmGetMiss(t *testing.T) {
	w := NewWarm(2)
	if _, ok := w.Get("ACME", model.TF1m, 0, 60); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestWarmPutGetRoundTrip(t *testing.T) {
	w := NewWarm(2)
	s := slice("ACME", 0)
	w.Put(s)

	got, ok := w.Get("ACME", model.TF1m, 0, 60)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.Symbol != "ACME" {
		t.Fatalf("got wrong slice: %+v", got)
	}
}

func TestWarmEvictsLeastRecentlyUsed(t *testing.T) {
	w := NewWarm(2)
	w.Put(slice("A", 0))
	w.Put(slice("B", 0))

	// touch A so B becomes LRU
	if _, ok := w.Get("A", model.TF1m, 0, 60); !ok {
		t.Fatal("expected hit for A")
	}

	w.Put(slice("C", 0))

	if _, ok := w.Get("B", model.TF1m, 0, 60); ok {
		t.Fatal("expected B to be evicted")
	}
	if _, ok := w.Get("A", model.TF1m, 0, 60); !ok {
		t.Fatal("expected A to survive eviction")
	}
	if _, ok := w.Get("C", model.TF1m, 0, 60); !ok {
		t.Fatal("expected C present")
	}
	if w.Len() != 2 {
		t.Fatalf("expected len 2, got %d", w.Len())
	}
}
