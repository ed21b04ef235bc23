package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// Formato de archivo: {version}_{name}.sql (ej: 0001_consent_grants.sql)
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

type Migration struct {
	Version int
	Name    string
	SQL     string
}

type MigrationResult struct {
	Applied  []int
	Skipped  []int
	Duration time.Duration
}

// Migrations devuelve las migraciones embebidas ordenadas por versión.
func Migrations() ([]Migration, error) {
	var out []Migration

	err := fs.WalkDir(migrationsFS, migrationsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := migrationFilePattern.FindStringSubmatch(path.Base(p))
		if m == nil {
			return nil
		}
		version, _ := strconv.Atoi(m[1])
		content, err := migrationsFS.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		out = append(out, Migration{Version: version, Name: m[2], SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrate aplica las migraciones pendientes, cada una en su transacción.
func Migrate(ctx context.Context, db *sql.DB) (*MigrationResult, error) {
	start := time.Now()
	res := &MigrationResult{}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return res, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return res, fmt.Errorf("getting applied migrations: %w", err)
	}

	migs, err := Migrations()
	if err != nil {
		return res, fmt.Errorf("parsing migrations: %w", err)
	}

	for _, m := range migs {
		if applied[m.Version] {
			res.Skipped = append(res.Skipped, m.Version)
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("applying migration %d_%s: %w", m.Version, m.Name, err)
		}
		res.Applied = append(res.Applied, m.Version)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return err
	}
	return tx.Commit()
}
