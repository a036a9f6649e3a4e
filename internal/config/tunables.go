package config

import (
	"sync/atomic"
	"time"
)

// Tunables holds the thresholds the Validation Pipeline, Prediction
// Orchestrator and Drift Health Monitor consult on every request. Unlike
// Config, they sit behind a Store whose Update swaps them atomically while
// the process runs (no component of the service calls Update), so every
// read goes through a lock-free snapshot.
type Tunables struct {
	// Validation Pipeline (§5.B sanity gate).
	StepMaxPct     float64 // max absolute bar-to-bar % move before flagging
	TotalMaxPct    float64 // max absolute % move across the whole window
	EnvelopeStdDev float64 // envelope gate: allowed std-devs from the series mean

	// Multi-Tier Cache TTLs. Not read by any component: the hot and warm
	// tiers take their TTL and capacity from the static Config.
	HotCacheTTL  time.Duration
	WarmCacheCap int

	// Drift Health Monitor (§5.F) thresholds: drift at or above DriftYellow
	// is Yellow, at or above DriftRed is Red.
	DriftYellow float64
	DriftRed    float64

	// Prediction Orchestrator bot fan-out.
	BotTimeout      time.Duration
	MinBotsRequired int
}

// DefaultTunables returns the initial thresholds applied at startup.
func DefaultTunables() Tunables {
	return Tunables{
		StepMaxPct:     0.20,
		TotalMaxPct:    0.50,
		EnvelopeStdDev: 4.0,

		HotCacheTTL:  30 * time.Second,
		WarmCacheCap: 100,

		DriftYellow: 0.15,
		DriftRed:    0.35,

		BotTimeout:      5 * time.Second,
		MinBotsRequired: 1,
	}
}

// Store is an atomic, hot-swappable holder for Tunables. Readers call
// Store.Load(); operators call Store.Update with a function that derives
// the next value from the current one.
type Store struct {
	v atomic.Pointer[Tunables]
}

// NewStore creates a Store seeded with the given initial value.
func NewStore(initial Tunables) *Store {
	s := &Store{}
	s.v.Store(&initial)
	return s
}

// Load returns the current Tunables snapshot.
func (s *Store) Load() Tunables {
	return *s.v.Load()
}

// Update atomically replaces the current Tunables with fn's output.
// fn is not a compare-and-swap loop: callers that need strict
// read-modify-write semantics should serialize Update calls themselves.
func (s *Store) Update(fn func(Tunables) Tunables) {
	next := fn(s.Load())
	s.v.Store(&next)
}
