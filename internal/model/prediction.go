package model

import "time"

// PredictedPoint is a single step of a predicted series.
type PredictedPoint struct {
	TS         time.Time `json:"ts"`
	Price      float64   `json:"price"`
	Confidence float64   `json:"confidence"`
}

// BotContribution records how much a surviving bot contributed to the
// merged forecast.
type BotContribution struct {
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
}

// ValidationFlag is the structured per-bot validation outcome recorded on a
// Prediction Record, independent of whether the bot survived.
type ValidationFlag struct {
	Accepted bool     `json:"accepted"`
	Reasons  []string `json:"reasons,omitempty"`
}

// PredictionRecord is a forecast for a (Symbol, Timeframe, HorizonMinutes).
type PredictionRecord struct {
	ID                string                     `json:"id"`
	Symbol            string                     `json:"symbol"`
	Timeframe         Timeframe                  `json:"timeframe"`
	HorizonMinutes    int                        `json:"horizon_minutes"`
	ProducedAt        time.Time                  `json:"produced_at"`
	PredictedSeries   []PredictedPoint           `json:"predicted_series"`
	OverallConfidence float64                    `json:"overall_confidence"`
	BotContributions  map[string]BotContribution `json:"bot_contributions"`
	RawBotOutputs     map[string][]PredictedPoint `json:"raw_bot_outputs"`
	ValidationFlags   map[string]ValidationFlag  `json:"validation_flags"`
	FeatureSnapshot   map[string]float64         `json:"feature_snapshot"`
	ReferencePrice    float64                    `json:"reference_price"`
}

// SurvivorNames returns the bot names that were accepted into the merge, in
// BotContributions' map iteration order, which is not defined.
func (p PredictionRecord) SurvivorNames() []string {
	names := make([]string, 0, len(p.BotContributions))
	for name, c := range p.BotContributions {
		if c.Accepted {
			names = append(names, name)
		}
	}
	return names
}

// NoValidPrediction reports whether zero bots survived validation.
func (p PredictionRecord) NoValidPrediction() bool {
	for _, c := range p.BotContributions {
		if c.Accepted {
			return false
		}
	}
	return true
}
