package migrate

import (
	"cmp"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

func loadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		var v int
		if _, err := fmt.Sscanf(f.Name(), "%d_", &v); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s: %w", f.Name(), err)
		}
		migrations = append(migrations, Migration{Version: v, Name: f.Name(), UpSQL: string(data)})
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return migrations, nil
}

// Migrate applies pending embedded migrations in one transaction.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version(version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	current, err := readVersion(tx)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		current = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.Exec(m.UpSQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version=?`, m.Version); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
		current = m.Version
	}
	return tx.Commit()
}

// Version returns the applied schema version, 0 for a fresh database.
func Version(db *sql.DB) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	v, err := readVersion(tx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// Latest returns the highest embedded migration version.
func Latest() (int, error) {
	migrations, err := loadMigrations()
	if err != nil || len(migrations) == 0 {
		return 0, err
	}
	return migrations[len(migrations)-1].Version, nil
}

func readVersion(tx *sql.Tx) (int, error) {
	var v int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	return v, err
}
