package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding posts, memories, settings and logs.
type Store struct {
	db *sql.DB
}

// Open opens or creates chirpd.db in dataDir and migrates it. ":memory:"
// opens a private in-memory database.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chirpd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Three loops share the store; a single connection keeps writes serialized
	// and keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"busy_timeout = 5000", "journal_mode = WAL", "foreign_keys = ON"} {
		if _, err := db.Exec("PRAGMA " + pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate applies every embedded migration not yet recorded in
// schema_migrations, in version order, one transaction per file.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	files, err := migrationFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.version] {
			continue
		}
		if err := s.applyMigration(f); err != nil {
			return err
		}
	}
	return nil
}

type migrationFile struct {
	version int
	name    string
}

// migrationFiles lists the embedded NNN_name.sql files sorted by version.
func migrationFiles() ([]migrationFile, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(prefix)
		if !ok || err != nil {
			return nil, fmt.Errorf("migration %q: name must start with a version number", base)
		}
		files = append(files, migrationFile{version: version, name: base})
	}
	slices.SortFunc(files, func(a, b migrationFile) int { return a.version - b.version })
	for i := 1; i < len(files); i++ {
		if files[i].version == files[i-1].version {
			return nil, fmt.Errorf("duplicate migration version %d", files[i].version)
		}
	}
	return files, nil
}

func (s *Store) applyMigration(f migrationFile) (err error) {
	body, err := migrationsFS.ReadFile("migrations/" + f.name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", f.name, err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %s: %w", f.name, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err := tx.Exec(string(body)); err != nil {
		return fmt.Errorf("applying migration %s: %w", f.name, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		f.version, f.name, formatTime(time.Now())); err != nil {
		return fmt.Errorf("recording migration %s: %w", f.name, err)
	}
	return tx.Commit()
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}
