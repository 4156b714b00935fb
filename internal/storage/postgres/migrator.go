package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Миграции лежат по одной на файл: up-часть сверху, down-часть после
// строки-маркера. Имя файла задаёт версию и название: 0001_core_orders.sql.
const (
	scriptsGlob     = "sql/migrations/*.sql"
	downMarker      = "-- migrate:down"
	journalTableDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationScripts embed.FS

var scriptNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// schemaLockKey — ключ advisory lock, защищающего прогон миграций от
// параллельных инстансов. Детеминированно выводится из имени схемы.
var schemaLockKey = func() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("ticketchange/schema"))
	return int64(h.Sum64() >> 1)
}()

type migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// MigrateUp применяет недостающие миграции; steps=0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.runMigrations(ctx, steps, false)
}

// MigrateDown откатывает применённые миграции; steps<=0 трактуется как 1,
// чтобы случайный вызов не снёс всю схему.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.runMigrations(ctx, steps, true)
}

// MigrationStatus возвращает максимальную применённую версию и число
// записей в журнале миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errors.New("postgres store is not initialized")
	}

	statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(statusCtx, journalTableDDL); err != nil {
		return 0, 0, fmt.Errorf("ensure migration journal: %w", err)
	}

	var (
		version int64
		applied int
	)
	row := s.db.QueryRowContext(statusCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("read migration journal: %w", err)
	}

	return version, applied, nil
}

func (s *Store) runMigrations(ctx context.Context, steps int, down bool) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}

	migrations, err := loadMigrationScripts(migrationScripts)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	unlock, err := acquireSchemaLock(ctx, conn)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := conn.ExecContext(ctx, journalTableDDL); err != nil {
		return fmt.Errorf("ensure migration journal: %w", err)
	}

	if down {
		return rollback(ctx, conn, migrations, steps)
	}
	return advance(ctx, conn, migrations, steps)
}

func acquireSchemaLock(ctx context.Context, conn *sql.Conn) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockKey); err != nil {
		return nil, fmt.Errorf("acquire schema lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	}, nil
}

// advance накатывает миграции, которых ещё нет в журнале, по возрастанию
// версий.
func advance(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	applied, err := journaledVersions(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := runScript(ctx, conn, m.Up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %d_%s: %w", m.Version, m.Name, err)
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}
	return nil
}

// rollback откатывает последние steps применённых миграций по убыванию
// версий.
func rollback(ctx context.Context, conn *sql.Conn, migrations []migration, steps int) error {
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return fmt.Errorf("read journal tail: %w", err)
	}
	defer rows.Close()

	var tail []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("scan journal version: %w", err)
		}
		tail = append(tail, version)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate journal tail: %w", err)
	}

	for _, version := range tail {
		m, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("journal references unknown migration version %d", version)
		}
		if err := runScript(ctx, conn, m.Down, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM schema_migrations WHERE version = $1`, m.Version)
			return err
		}); err != nil {
			return fmt.Errorf("rollback migration %d_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// runScript выполняет SQL-скрипт и правку журнала в одной транзакции.
func runScript(ctx context.Context, conn *sql.Conn, script string, journal func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := journal(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update journal: %w", err)
	}
	return tx.Commit()
}

func journaledVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration journal: %w", err)
	}
	defer rows.Close()

	versions := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan journal version: %w", err)
		}
		versions[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration journal: %w", err)
	}
	return versions, nil
}

// loadMigrationScripts читает и валидирует встроенные миграции.
func loadMigrationScripts(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, scriptsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration scripts found")
	}

	seen := make(map[int64]string, len(files))
	migrations := make([]migration, 0, len(files))
	for _, file := range files {
		base := path.Base(file)
		parts := scriptNamePattern.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("migration script %s: name must look like 0001_name.sql", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration script %s: parse version: %w", base, err)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", version, prev, base)
		}
		seen[version] = base

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration script %s: %w", base, err)
		}

		up, down, err := splitScript(string(raw))
		if err != nil {
			return nil, fmt.Errorf("migration script %s: %w", base, err)
		}

		migrations = append(migrations, migration{
			Version: version,
			Name:    parts[2],
			Up:      up,
			Down:    down,
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// splitScript делит скрипт на up и down части по строке-маркеру.
func splitScript(script string) (string, string, error) {
	idx := strings.Index(script, downMarker)
	if idx < 0 {
		return "", "", fmt.Errorf("missing %q marker", downMarker)
	}

	up := strings.TrimSpace(script[:idx])
	down := strings.TrimSpace(script[idx+len(downMarker):])
	if up == "" {
		return "", "", errors.New("up section is empty")
	}
	if down == "" {
		return "", "", errors.New("down section is empty")
	}
	return up, down, nil
}
