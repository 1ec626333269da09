package store

import (
	"fmt"
	"time"
)

// step is one schema change. Steps are applied in order and recorded by
// version, so a version is never reused for different DDL.
type step struct {
	Version int
	Name    string
	DDL     []string
}

// steps is the modelbench schema history:
//
//	v1 kv-slots:    kv table holding the selection, custom-models and history slots
//	v2 runs-ledger: one row per model outcome, read by stats and pruned by age
var steps = []step{
	{Version: 1, Name: "kv-slots", DDL: []string{schemaKV}},
	{Version: 2, Name: "runs-ledger", DDL: []string{schemaRuns}},
}

// Migrate applies every step newer than the recorded schema version on
// the writer connection, one transaction per step.
func (s *Store) Migrate() error {
	if _, err := s.writer.Exec(schemaMigrations); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	current, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for _, m := range steps {
		if m.Version <= current {
			continue
		}
		if err := s.apply(m); err != nil {
			return fmt.Errorf("store: migration v%d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// schemaVersion is 0 on a fresh database.
func (s *Store) schemaVersion() (int, error) {
	var version int
	err := s.writer.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&version)
	return version, err
}

func (s *Store) apply(m step) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, ddl := range m.DDL {
		if _, err := tx.Exec(ddl); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO migrations (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return err
	}
	return tx.Commit()
}
