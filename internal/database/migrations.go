package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration represents a database migration
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

// Applied reports whether the migration has run
func (m Migration) Applied() bool {
	return !m.AppliedAt.IsZero()
}

// Migrator handles database migrations
type Migrator struct {
	db     *DB
	source fs.FS
	logger *slog.Logger
}

// NewMigrator creates a migrator over the embedded migrations
func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:     db,
		source: migrationsFS,
		logger: slog.Default().With("component", "migrator"),
	}
}

// Run applies all pending migrations in version order and returns how many ran
func (m *Migrator) Run(ctx context.Context) (int, error) {
	status, err := m.GetStatus(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, migration := range status {
		if migration.Applied() {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return ran, fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		ran++
		m.logger.Info("Applied migration", "version", migration.Version, "name", migration.Name)
	}

	if ran > 0 {
		m.logger.Info("Database migrations completed", "applied", ran)
	}
	return ran, nil
}

// GetStatus returns every available migration with its applied time, if any
func (m *Migrator) GetStatus(ctx context.Context) ([]Migration, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	available, err := m.getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	for i := range available {
		if appliedAt, ok := applied[available[i].Version]; ok {
			available[i].AppliedAt = appliedAt
		}
	}
	return available, nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		) STRICT
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt int64
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		result[version] = time.Unix(appliedAt, 0)
	}

	return result, rows.Err()
}

// getAvailableMigrations reads NNN_name.sql files, sorted by version
func (m *Migrator) getAvailableMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, ok := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(version)
		if err != nil {
			m.logger.Warn("Invalid migration filename", "file", entry.Name())
			continue
		}

		// embed paths always use forward slashes
		content, err := fs.ReadFile(m.source, path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{Version: v, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		)
		return err
	})
}
