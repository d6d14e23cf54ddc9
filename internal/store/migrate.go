package store

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const createSchemaMigrations = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    filename    TEXT PRIMARY KEY,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies every embedded migration file in ascending filename
// order that has not already been recorded in schema_migrations. It is
// safe to call on every startup.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	files, err := sortedMigrationFiles()
	if err != nil {
		return err
	}

	if _, err := db.Exec(ctx, createSchemaMigrations); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, f := range files {
		applied, err := isApplied(ctx, db, f.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile(f.path)
		if err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", f.name, err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s failed: %w", f.name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(filename) VALUES ($1)`, f.name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %s: %w", f.name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", f.name, err)
		}
	}
	return nil
}

// LatestMigration returns the filename of the most recently applied
// migration, or "" if none has run yet. Used by the /v1/ready handler.
func LatestMigration(ctx context.Context, db *pgxpool.Pool) (string, error) {
	var filename string
	err := db.QueryRow(ctx,
		`SELECT filename FROM schema_migrations ORDER BY applied_at DESC, filename DESC LIMIT 1`,
	).Scan(&filename)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return filename, nil
}

type migrationFile struct {
	name string
	path string
}

func sortedMigrationFiles() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var files []migrationFile
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, migrationFile{name: e.Name(), path: "migrations/" + e.Name()})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

func isApplied(ctx context.Context, db *pgxpool.Pool, filename string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}
