package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run is one model's outcome within a comparison, kept in the run ledger.
type Run struct {
	ID               int64
	RunID            string
	ItemID           int64
	Timestamp        time.Time
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	// CostUSD is nil when the model has no pricing or the call failed.
	CostUSD *float64
	IsError bool
}

// RunStats holds aggregate statistics over the ledger.
type RunStats struct {
	TotalResults          int64
	TotalRuns             int64
	Errors                int64
	TotalPromptTokens     int64
	TotalCompletionTokens int64
	TotalCost             float64
}

// ModelStats is RunStats for a single model.
type ModelStats struct {
	Model            string
	Results          int64
	Errors           int64
	PromptTokens     int64
	CompletionTokens int64
	Cost             float64
}

// InsertRuns stores the given rows in one transaction.
func (s *Store) InsertRuns(runs []Run) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: insert runs: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range runs {
		isErr := 0
		if r.IsError {
			isErr = 1
		}
		var cost sql.NullFloat64
		if r.CostUSD != nil {
			cost = sql.NullFloat64{Float64: *r.CostUSD, Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO runs (
				run_id, item_id, timestamp, model,
				prompt_tokens, completion_tokens, cost_usd, is_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.ItemID, r.Timestamp.UTC().Format(timeLayout), r.Model,
			r.PromptTokens, r.CompletionTokens, cost, isErr,
		)
		if err != nil {
			return fmt.Errorf("store: insert run %s/%s: %w", r.RunID, r.Model, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert runs: %w", err)
	}
	return nil
}

// ListRuns returns a page of rows ordered newest first.
func (s *Store) ListRuns(limit, offset int) ([]*Run, error) {
	rows, err := s.reader.Query(`
		SELECT id, run_id, item_id, timestamp, model,
		       prompt_tokens, completion_tokens, cost_usd, is_error
		FROM runs
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer rows.Close()

	var results []*Run
	for rows.Next() {
		r := &Run{}
		var ts string
		var cost sql.NullFloat64
		var isErr int
		if err := rows.Scan(
			&r.ID, &r.RunID, &r.ItemID, &ts, &r.Model,
			&r.PromptTokens, &r.CompletionTokens, &cost, &isErr,
		); err != nil {
			return nil, fmt.Errorf("store: scan run row: %w", err)
		}
		r.Timestamp, _ = time.Parse(timeLayout, ts)
		if cost.Valid {
			c := cost.Float64
			r.CostUSD = &c
		}
		r.IsError = isErr != 0
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list runs iteration: %w", err)
	}
	return results, nil
}

// GetRunStats computes aggregate statistics for all rows whose timestamp
// is >= since.
func (s *Store) GetRunStats(since time.Time) (*RunStats, error) {
	stats := &RunStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COUNT(DISTINCT run_id),
			COALESCE(SUM(is_error), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(cost_usd), 0.0)
		FROM runs
		WHERE timestamp >= ?`, since.UTC().Format(timeLayout),
	).Scan(
		&stats.TotalResults,
		&stats.TotalRuns,
		&stats.Errors,
		&stats.TotalPromptTokens,
		&stats.TotalCompletionTokens,
		&stats.TotalCost,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get run stats: %w", err)
	}
	return stats, nil
}

// GetModelStats breaks the ledger down per model, most used first.
func (s *Store) GetModelStats(since time.Time) ([]ModelStats, error) {
	rows, err := s.reader.Query(`
		SELECT model, COUNT(*), COALESCE(SUM(is_error), 0),
		       COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cost_usd), 0.0)
		FROM runs
		WHERE timestamp >= ?
		GROUP BY model
		ORDER BY COUNT(*) DESC, model ASC`, since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("store: model stats: %w", err)
	}
	defer rows.Close()

	var out []ModelStats
	for rows.Next() {
		var m ModelStats
		if err := rows.Scan(&m.Model, &m.Results, &m.Errors, &m.PromptTokens, &m.CompletionTokens, &m.Cost); err != nil {
			return nil, fmt.Errorf("store: scan model stats: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: model stats iteration: %w", err)
	}
	return out, nil
}
