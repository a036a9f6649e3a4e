// Package store holds the Persistent Store: the SQLite-backed source of
// truth for candles, predictions, and training records, plus the Mongo
// archive for records that have been superseded. Grounded on the
// teacher's internal/store/sqlite writer, generalized from a
// single-purpose candle batcher into the multi-table store the
// forecasting domain needs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketforecast/internal/model"
)

// SQLite is the Persistent Store, implementing CandleWriter, CandleReader,
// PredictionStore, and TrainingStore against one local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and
// provisions its schema. WAL mode and a single connection match the
// teacher's single-writer discipline.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			timeframe  INTEGER NOT NULL,
			start_ts   INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			provenance INTEGER NOT NULL,
			PRIMARY KEY (symbol, timeframe, start_ts)
		);

		CREATE TABLE IF NOT EXISTS predictions (
			id                 TEXT PRIMARY KEY,
			symbol             TEXT    NOT NULL,
			timeframe          INTEGER NOT NULL,
			produced_at        INTEGER NOT NULL,
			overall_confidence REAL    NOT NULL,
			reference_price    REAL    NOT NULL,
			payload            TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_predictions_latest
			ON predictions (symbol, timeframe, produced_at DESC);

		CREATE TABLE IF NOT EXISTS trainings (
			id                TEXT PRIMARY KEY,
			symbol            TEXT    NOT NULL,
			timeframe         INTEGER NOT NULL,
			bot_name          TEXT    NOT NULL,
			status            TEXT    NOT NULL,
			started_at        INTEGER NOT NULL,
			finished_at       INTEGER,
			payload           TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trainings_key
			ON trainings (symbol, timeframe, bot_name, status);
	`)
	return err
}

// DB exposes the raw *sql.DB for health-check pings.
func (s *SQLite) DB() *sql.DB { return s.db }

// Ping satisfies metrics.Pinger.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// PutCandles upserts a batch of candles in one transaction. Implements
// model.CandleWriter.
func (s *SQLite) PutCandles(ctx context.Context, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (symbol, timeframe, start_ts, open, high, low, close, volume, provenance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, timeframe, start_ts) DO UPDATE SET
			open=excluded.open, high=excluded.high, low=excluded.low,
			close=excluded.close, volume=excluded.volume, provenance=excluded.provenance
			WHERE excluded.provenance >= candles.provenance
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: prepare candle upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Symbol, int(c.Timeframe), c.StartTS.Unix(),
			c.Open, c.High, c.Low, c.Close, c.Volume, int(c.Provenance)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: exec candle upsert: %w", err)
		}
	}
	return tx.Commit()
}

// ReadCandles implements model.CandleReader.
func (s *SQLite) ReadCandles(ctx context.Context, symbol string, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, timeframe, start_ts, open, high, low, close, volume, provenance
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND start_ts BETWEEN ? AND ?
		ORDER BY start_ts ASC
	`, symbol, int(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("store: query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var tfInt, prov int
		var startTS int64
		if err := rows.Scan(&c.Symbol, &tfInt, &startTS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &prov); err != nil {
			return nil, fmt.Errorf("store: scan candle: %w", err)
		}
		c.Timeframe = model.Timeframe(tfInt)
		c.StartTS = time.Unix(startTS, 0).UTC()
		c.Provenance = model.Provenance(prov)
		out = append(out, c)
	}
	return out, rows.Err()
}

// PutPrediction implements model.PredictionStore, storing the full
// audit-trail record as JSON alongside the queryable summary columns.
func (s *SQLite) PutPrediction(ctx context.Context, p model.PredictionRecord) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal prediction: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO predictions (id, symbol, timeframe, produced_at, overall_confidence, reference_price, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Symbol, int(p.Timeframe), p.ProducedAt.Unix(), p.OverallConfidence, p.ReferencePrice, string(payload))
	if err != nil {
		return fmt.Errorf("store: insert prediction: %w", err)
	}
	return nil
}

// LatestPrediction implements model.PredictionStore.
func (s *SQLite) LatestPrediction(ctx context.Context, symbol string, tf model.Timeframe) (*model.PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM predictions
		WHERE symbol = ? AND timeframe = ?
		ORDER BY produced_at DESC LIMIT 1
	`, symbol, int(tf))

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan latest prediction: %w", err)
	}

	var p model.PredictionRecord
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("store: unmarshal prediction: %w", err)
	}
	return &p, nil
}

// PutTraining implements model.TrainingStore.
func (s *SQLite) PutTraining(ctx context.Context, t model.TrainingRecord) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: marshal training: %w", err)
	}
	var finishedAt any
	if !t.FinishedAt.IsZero() {
		finishedAt = t.FinishedAt.Unix()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trainings (id, symbol, timeframe, bot_name, status, started_at, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, int(t.Timeframe), t.BotName, string(t.Status), t.StartedAt.Unix(), finishedAt, string(payload))
	if err != nil {
		return fmt.Errorf("store: insert training: %w", err)
	}
	return nil
}

// ArchivePrior marks every prior training record for (symbol, tf, bot)
// other than keepID as archived. Implements model.TrainingStore.
func (s *SQLite) ArchivePrior(ctx context.Context, symbol string, tf model.Timeframe, botName string, keepID string) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM trainings
		WHERE symbol = ? AND timeframe = ? AND bot_name = ? AND id != ? AND status != ?
	`, symbol, int(tf), botName, keepID, string(model.TrainingArchived))
	if err != nil {
		return fmt.Errorf("store: query prior trainings: %w", err)
	}
	var toArchive []model.TrainingRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan prior training: %w", err)
		}
		var t model.TrainingRecord
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			rows.Close()
			return fmt.Errorf("store: unmarshal prior training: %w", err)
		}
		toArchive = append(toArchive, t)
	}
	rows.Close()

	for _, t := range toArchive {
		t.Status = model.TrainingArchived
		if err := s.PutTraining(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// ListTrainings implements model.TrainingStore.
func (s *SQLite) ListTrainings(ctx context.Context) ([]model.TrainingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM trainings ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: query trainings: %w", err)
	}
	defer rows.Close()

	var out []model.TrainingRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan training: %w", err)
		}
		var t model.TrainingRecord
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("store: unmarshal training: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTraining removes every training record for (symbol, tf, bot),
// returning the count deleted. Implements model.TrainingStore.
func (s *SQLite) DeleteTraining(ctx context.Context, symbol string, tf model.Timeframe, botName string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM trainings WHERE symbol = ? AND timeframe = ? AND bot_name = ?
	`, symbol, int(tf), botName)
	if err != nil {
		return 0, fmt.Errorf("store: delete training: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
