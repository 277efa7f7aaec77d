package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
)

//go:embed migrations
var migrationsFS embed.FS

// migrator abstracts the driver-specific pieces of schema migration.
type migrator interface {
	ensureMigrationsTable(ctx context.Context) error
	migrationApplied(ctx context.Context, name string) (bool, error)
	applyMigration(ctx context.Context, name, stmt string) error
}

// runMigrations applies the embedded migrations/<dialect>/*.sql files in filename order,
// skipping any already recorded in schema_migrations.
func runMigrations(ctx context.Context, dialect string, m migrator) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	dir := path.Join("migrations", dialect)
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		applied, err := m.migrationApplied(ctx, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		data, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := m.applyMigration(ctx, name, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// sqlMigrator runs migrations over database/sql for drivers using ? placeholders.
type sqlMigrator struct {
	db          *sql.DB
	createTable string
}

func (m *sqlMigrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, m.createTable)
	return err
}

func (m *sqlMigrator) migrationApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
	return count > 0, err
}

func (m *sqlMigrator) applyMigration(ctx context.Context, name, stmt string) error {
	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name)
	return err
}
