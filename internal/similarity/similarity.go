// Package similarity implements the Regime Similarity Store: an advisory,
// never-a-merge-input nearest-neighbor lookup over past prediction feature
// snapshots. Grounded on MooArnon's internal/database Postgres+pgvector
// pattern store, moved from raw pgx onto gorm (as the rest of the pack's
// ORM-backed stores do) while keeping pgvector's cosine-distance operator
// for the actual search, which gorm has no query-builder support for.
package similarity

import (
	"context"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marketforecast/internal/model"
)

// snapshotRow is the pgvector-indexed table row. Column order in
// feature_snapshot must be stable across writes since the vector has no
// field names once embedded.
type snapshotRow struct {
	PredictionID string          `gorm:"primaryKey;column:prediction_id"`
	Symbol       string          `gorm:"column:symbol;index"`
	Timeframe    string          `gorm:"column:timeframe"`
	FeatureNames string          `gorm:"column:feature_names"` // comma-joined, fixes embedding order
	Embedding    pgvector.Vector `gorm:"column:embedding;type:vector(6)"`
	RealizedErr  float64         `gorm:"column:realized_error"`
	PredictedErr float64         `gorm:"column:predicted_error"`
}

func (snapshotRow) TableName() string { return "regime_snapshots" }

// Neighbor is one nearest-historical-analogue result.
type Neighbor struct {
	PredictionID string  `json:"prediction_id"`
	Symbol       string  `json:"symbol"`
	Timeframe    string  `json:"timeframe"`
	Distance     float64 `json:"distance"`
	RealizedErr  float64 `json:"realized_error"`
	PredictedErr float64 `json:"predicted_error"`
}

// Store embeds and retrieves feature snapshots. Every method swallows and
// logs its own errors where the caller is the Prediction Orchestrator: this
// is a diagnostic enrichment, never on the critical path.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// featureOrder fixes the dimension order every embedding is built in, so
// cosine distance between two snapshots is meaningful.
var featureOrder = []string{"SMA_9", "SMA_21", "EMA_9", "RSI_14", "ATR_14", "VOLUME_SMA_20"}

// Open connects to the similarity store's Postgres/pgvector database and
// auto-migrates the snapshot table.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("similarity: connect: %w", err)
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("similarity: enable pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("similarity: migrate: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// embed projects a feature snapshot map into the fixed-order vector,
// missing indicators contributing zero.
func embed(snapshot map[string]float64) []float32 {
	vec := make([]float32, len(featureOrder))
	for i, name := range featureOrder {
		vec[i] = float32(snapshot[name])
	}
	return vec
}

// Upsert embeds rec's feature snapshot and stores it keyed by prediction id.
// Failures are logged, not returned, per the package's advisory-only
// contract.
func (s *Store) Upsert(ctx context.Context, rec model.PredictionRecord) {
	if s == nil {
		return
	}
	row := snapshotRow{
		PredictionID: rec.ID,
		Symbol:       rec.Symbol,
		Timeframe:    rec.Timeframe.String(),
		Embedding:    pgvector.NewVector(embed(rec.FeatureSnapshot)),
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		s.log.Warn("similarity: upsert failed", zap.String("prediction_id", rec.ID), zap.Error(err))
	}
}

// RecordOutcome back-fills the realized/predicted error for a previously
// embedded snapshot once the corresponding horizon has elapsed.
func (s *Store) RecordOutcome(ctx context.Context, predictionID string, realized, predicted float64) {
	if s == nil {
		return
	}
	err := s.db.WithContext(ctx).Model(&snapshotRow{}).
		Where("prediction_id = ?", predictionID).
		Updates(map[string]any{"realized_error": realized, "predicted_error": predicted}).Error
	if err != nil {
		s.log.Warn("similarity: record outcome failed", zap.String("prediction_id", predictionID), zap.Error(err))
	}
}

// FindSimilar returns the k nearest historic snapshots to snapshot by
// cosine distance, restricted to rows with a recorded outcome. Returns an
// empty, non-error result on any failure: callers display this
// alongside a prediction, never gate on it.
func (s *Store) FindSimilar(ctx context.Context, snapshot map[string]float64, k int) []Neighbor {
	if s == nil || k <= 0 {
		return nil
	}
	queryVec := pgvector.NewVector(embed(snapshot))

	var rows []struct {
		snapshotRow
		Distance float64
	}
	err := s.db.WithContext(ctx).
		Table("regime_snapshots").
		Select("*, (embedding <=> ?) as distance", queryVec).
		Where("predicted_error != 0 OR realized_error != 0").
		Order("distance ASC").
		Limit(k).
		Find(&rows).Error
	if err != nil {
		s.log.Warn("similarity: find failed", zap.Error(err))
		return nil
	}

	out := make([]Neighbor, 0, len(rows))
	for _, r := range rows {
		out = append(out, Neighbor{
			PredictionID: r.PredictionID,
			Symbol:       r.Symbol,
			Timeframe:    r.Timeframe,
			Distance:     r.Distance,
			RealizedErr:  r.RealizedErr,
			PredictedErr: r.PredictedErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
