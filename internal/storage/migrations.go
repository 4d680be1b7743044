package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/dshills/codegraph/pkg/types"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.2.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
	// Backfill, when set, fills rows written before Up added a column
	Backfill func(ctx context.Context, db *sql.DB) error
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
	{
		Version:  "1.2.0",
		Up:       migrationV12Up,
		Down:     migrationV12Down,
		Backfill: backfillNameSegments,
	},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Graph nodes; file_node_id is NULL for unowned placeholders
CREATE TABLE IF NOT EXISTS node (
    id INTEGER PRIMARY KEY,
    kind INTEGER NOT NULL,
    serialized_name TEXT NOT NULL,
    qualified_name TEXT,
    canonical_id INTEGER,
    file_node_id INTEGER,
    start_line INTEGER,
    start_col INTEGER,
    end_line INTEGER,
    end_col INTEGER
);

CREATE INDEX IF NOT EXISTS idx_node_kind_name ON node(kind, serialized_name);
CREATE INDEX IF NOT EXISTS idx_node_qualified ON node(qualified_name);
CREATE INDEX IF NOT EXISTS idx_node_file ON node(file_node_id);

-- Graph edges with a nullable resolution triple
CREATE TABLE IF NOT EXISTS edge (
    id INTEGER PRIMARY KEY,
    source_node_id INTEGER NOT NULL,
    target_node_id INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    file_node_id INTEGER,
    line INTEGER,
    resolved_source_node_id INTEGER,
    resolved_target_node_id INTEGER,
    confidence REAL,
    callsite_identity TEXT,
    certainty TEXT,
    candidate_target_node_ids TEXT
);

CREATE INDEX IF NOT EXISTS idx_edge_source ON edge(source_node_id);
CREATE INDEX IF NOT EXISTS idx_edge_target ON edge(target_node_id);
CREATE INDEX IF NOT EXISTS idx_edge_file ON edge(file_node_id);
CREATE INDEX IF NOT EXISTS idx_edge_kind_resolved ON edge(kind, resolved_target_node_id);
CREATE INDEX IF NOT EXISTS idx_edge_resolved_target ON edge(resolved_target_node_id);

-- Token level references
CREATE TABLE IF NOT EXISTS occurrence (
    element_id INTEGER NOT NULL,
    kind INTEGER NOT NULL,
    file_node_id INTEGER NOT NULL,
    start_line INTEGER NOT NULL,
    start_col INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    end_col INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_occurrence_unique
    ON occurrence(element_id, kind, file_node_id, start_line, start_col, end_line, end_col);
CREATE INDEX IF NOT EXISTS idx_occurrence_file ON occurrence(file_node_id);

-- Indexing diagnostics
CREATE TABLE IF NOT EXISTS error (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message TEXT NOT NULL,
    file_id INTEGER,
    line INTEGER,
    col INTEGER,
    fatal BOOLEAN NOT NULL DEFAULT 0,
    index_step TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_error_file ON error(file_id);
`

const migrationV1Down = `
DROP TABLE IF EXISTS error;
DROP TABLE IF EXISTS occurrence;
DROP TABLE IF EXISTS edge;
DROP TABLE IF EXISTS node;
DROP TABLE IF EXISTS schema_version;
`

const migrationV11Up = `
-- Tracked source files for refresh planning
CREATE TABLE IF NOT EXISTS file (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    language TEXT,
    modification_time TIMESTAMP,
    content_hash BLOB,
    size_bytes INTEGER,
    line_count INTEGER,
    indexed BOOLEAN NOT NULL DEFAULT 0,
    complete BOOLEAN NOT NULL DEFAULT 0,
    last_indexed_at TIMESTAMP
);
`

const migrationV11Down = `
DROP TABLE IF EXISTS file;
`

// name_segment is the last segment of serialized_name, used to bring
// references back into a resolution scope by their bare name
const migrationV12Up = `
ALTER TABLE node ADD COLUMN name_segment TEXT;
CREATE INDEX IF NOT EXISTS idx_node_segment ON node(name_segment);
`

const migrationV12Down = `
DROP INDEX IF EXISTS idx_node_segment;
ALTER TABLE node DROP COLUMN name_segment;
`

func backfillNameSegments(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT id, serialized_name FROM node WHERE name_segment IS NULL")
	if err != nil {
		return err
	}
	segments := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			_ = rows.Close()
			return err
		}
		segments[id] = types.NameSegment(name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for id, seg := range segments {
		if _, err := db.ExecContext(ctx, "UPDATE node SET name_segment = ? WHERE id = ?", seg, id); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMigrations runs all pending migrations
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	// Run migrations in order
	for _, migration := range AllMigrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if migration.Backfill != nil {
			if err := migration.Backfill(ctx, db); err != nil {
				return fmt.Errorf("failed to backfill migration %s: %w", migration.Version, err)
			}
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// SchemaVersion returns the highest applied migration version
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// currentSchemaVersion returns 0.0.0 when no migration has been applied
func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// applied_at has second resolution, so compare versions instead of
	// trusting insertion time.
	current := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid current schema version %s: %w", s, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}

// RollbackMigration rolls back the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current.Equal(semver.MustParse("0.0.0")) {
		return fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range AllMigrations {
		if semver.MustParse(AllMigrations[i].Version).Equal(current) {
			migration = &AllMigrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", current)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself.
	if migration.Version == AllMigrations[0].Version {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}

	return nil
}
