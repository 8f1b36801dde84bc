package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.up.sql
var migrationFiles embed.FS

// migrationLockID - ключ pg_advisory_xact_lock: два инстанса бота,
// стартующие одновременно, применяют схему по очереди.
const migrationLockID = 0x636f75727365

// Migration - один файл migrations/NNN_name.up.sql.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
}

// LoadMigrations читает встроенные миграции по возрастанию версии.
func LoadMigrations() ([]Migration, error) {
	return parseMigrations(migrationFiles, "migrations")
}

func parseMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if !ok || e.IsDir() {
			continue
		}
		prefix, label, _ := strings.Cut(name, "_")
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: bad migration file name %q", ErrMigrationFailed, e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: version %d used by %s and %s", ErrMigrationFailed, version, prev, e.Name())
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		out = append(out, Migration{Version: version, Name: label, UpSQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator применяет миграции вперёд. Откат - вручную.
type Migrator struct {
	conn  *Connection
	table string
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, table: "schema_migrations"}
}

// Migrate applies pending migrations, each in its own transaction, and
// returns how many were applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	migrations, err := LoadMigrations()
	if err != nil {
		return 0, err
	}

	create := `CREATE TABLE IF NOT EXISTS ` + m.table + ` (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`
	if _, err := m.conn.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrMigrationFailed, m.table, err)
	}

	applied := 0
	for _, mig := range migrations {
		done, err := m.apply(ctx, mig)
		if err != nil {
			return applied, fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		if done {
			applied++
		}
	}
	return applied, nil
}

// apply проверяет версию под advisory lock, поэтому гонка двух
// инстансов не выполнит миграцию дважды.
func (m *Migrator) apply(ctx context.Context, mig Migration) (bool, error) {
	applied := false
	err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}

		var exists bool
		q := `SELECT EXISTS (SELECT 1 FROM ` + m.table + ` WHERE version = $1)`
		if err := tx.QueryRow(ctx, q, mig.Version).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}

		if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
			return err
		}
		ins := `INSERT INTO ` + m.table + ` (version, name) VALUES ($1, $2)`
		if _, err := tx.Exec(ctx, ins, mig.Version, mig.Name); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}
