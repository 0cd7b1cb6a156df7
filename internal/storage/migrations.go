package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx, dialect) error
	Description string
	Version     int
}

// MigrationState reports whether a migration has been applied.
type MigrationState struct {
	AppliedAt   *time.Time
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions ledger",
		Up: func(tx *sql.Tx, d dialect) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id ` + d.identity() + `,
					tenant_id BIGINT NOT NULL,
					kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
					amount BIGINT NOT NULL,
					description TEXT NOT NULL,
					category TEXT NOT NULL,
					occurred_on TEXT NOT NULL,
					created_at ` + d.timestamp() + ` NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_transactions_tenant_date ON transactions(tenant_id, occurred_on)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Agent sessions and transcript events",
		Up: func(tx *sql.Tx, d dialect) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS agent_sessions (
					id TEXT NOT NULL,
					tenant_id BIGINT NOT NULL,
					app_name TEXT NOT NULL,
					created_at ` + d.timestamp() + ` NOT NULL,
					updated_at ` + d.timestamp() + ` NOT NULL,
					PRIMARY KEY (tenant_id, id)
				)`,
				`CREATE TABLE IF NOT EXISTS agent_events (
					id TEXT PRIMARY KEY,
					tenant_id BIGINT NOT NULL,
					session_id TEXT NOT NULL,
					seq INTEGER NOT NULL,
					author TEXT NOT NULL,
					kind TEXT NOT NULL,
					content TEXT NOT NULL DEFAULT '',
					tool_name TEXT NOT NULL DEFAULT '',
					tool_call_id TEXT NOT NULL DEFAULT '',
					tool_calls TEXT NOT NULL DEFAULT '',
					final BOOLEAN NOT NULL DEFAULT FALSE,
					created_at ` + d.timestamp() + ` NOT NULL,
					UNIQUE (tenant_id, session_id, seq)
				)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Index transcripts by recency",
		Up: func(tx *sql.Tx, _ dialect) error {
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_agent_sessions_updated ON agent_sessions(tenant_id, updated_at)`,
			})
		},
	},
}

func (s *Store) ensureMigrationTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at `+s.dialect.timestamp()+` NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := s.ensureMigrationTable(ctx); err != nil {
		return 0, classify(err)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, classify(fmt.Errorf("failed to get schema version: %w", err))
	}
	return version, nil
}

// Migrate applies every pending migration, each in its own transaction.
func (s *Store) Migrate(ctx context.Context) error {
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if upErr := migration.Up(tx, s.dialect); upErr != nil {
				return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
			}
			_, execErr := tx.Exec(
				s.dialect.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
				migration.Version, migration.Description, time.Now().UTC(),
			)
			if execErr != nil {
				return fmt.Errorf("failed to record schema version: %w", execErr)
			}
			return nil
		})
		if err != nil {
			return classify(err)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}
	return nil
}

// MigrationStatus lists every known migration with its applied time, if any.
func (s *Store) MigrationStatus(ctx context.Context) ([]MigrationState, error) {
	if _, err := s.SchemaVersion(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, classify(err)
		}
		applied[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	states := make([]MigrationState, 0, len(migrations))
	for _, m := range migrations {
		state := MigrationState{Version: m.Version, Description: m.Description}
		if at, ok := applied[m.Version]; ok {
			state.AppliedAt = &at
		}
		states = append(states, state)
	}
	return states, nil
}
