package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/aegis-analytics/internal/pipeline"
)

// PostgresSink persists run records to analytics.run_records
// ⭐ SSOT: RunRecord DB 저장/조회는 여기서만
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a sink on an existing pool
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Save inserts the record. Records are insert-only; a duplicate run_id is an error.
func (s *PostgresSink) Save(ctx context.Context, rec *pipeline.RunRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	query := `
		INSERT INTO analytics.run_records (
			run_id, ticker, status, started_at, ended_at, record
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = s.pool.Exec(ctx, query,
		rec.RunID, rec.Ticker, string(rec.Status), rec.StartTime, rec.EndTime, recordJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}
	return nil
}

// Get loads one run record by id
func (s *PostgresSink) Get(ctx context.Context, runID string) (*pipeline.RunRecord, error) {
	query := `SELECT record FROM analytics.run_records WHERE run_id = $1`

	var recordJSON []byte
	err := s.pool.QueryRow(ctx, query, runID).Scan(&recordJSON)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}

	var rec pipeline.RunRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}
	return &rec, nil
}

// Recent lists the newest runs, optionally for one ticker
func (s *PostgresSink) Recent(ctx context.Context, ticker string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT record
		FROM analytics.run_records
		WHERE ($1 = '' OR ticker = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query run records: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		var rec pipeline.RunRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
		}
		out = append(out, Summarize(&rec))
	}
	return out, rows.Err()
}
