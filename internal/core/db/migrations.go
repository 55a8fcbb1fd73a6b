package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	embeddedmigrations "github.com/rcwatch/rcwatch/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// migration is one embedded schema file.
type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// appliedRow is one row of the migrations table.
type appliedRow struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   any    `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// plan pairs the embedded migrations of a driver with what the database has
// already applied.
type plan struct {
	migrations []migration
	applied    map[string]appliedRow
}

// trackingTable creates the migrations table per driver. It must match the
// definition in each 001_initial_schema.sql.
var trackingTable = map[string]string{
	"sqlite3": `CREATE TABLE IF NOT EXISTS migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		execution_ms INTEGER NOT NULL,
		CHECK (applied_at LIKE '____-__-__T__:__:__Z')
	)`,
	"postgres": `CREATE TABLE IF NOT EXISTS migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
		execution_ms INTEGER NOT NULL
	)`,
}

// MigrateUp applies pending migrations in file name order and returns how
// many were applied. Applied migrations whose embedded file changed fail the
// run before anything is applied.
func MigrateUp(ctx context.Context, db *sqlx.DB) (int, error) {
	p, err := loadPlan(ctx, db)
	if err != nil {
		return 0, err
	}
	if err := p.verify(); err != nil {
		return 0, fmt.Errorf("migration checksum validation failed: %w", err)
	}

	count := 0
	for _, m := range p.migrations {
		if _, ok := p.applied[m.ID]; ok {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// MigrateStatus returns the status of all migrations (applied and pending).
func MigrateStatus(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	p, err := loadPlan(ctx, db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(p.migrations))
	for _, m := range p.migrations {
		row, ok := p.applied[m.ID]
		if !ok {
			statuses = append(statuses, MigrationStatus{ID: m.ID, Checksum: m.Checksum})
			continue
		}
		statuses = append(statuses, MigrationStatus{
			ID:          row.ID,
			Checksum:    row.Checksum,
			Applied:     true,
			AppliedAt:   parseAppliedAt(row.AppliedAt),
			ExecutionMs: row.ExecutionMs,
		})
	}
	return statuses, nil
}

func loadPlan(ctx context.Context, db *sqlx.DB) (*plan, error) {
	fsys, dir, err := migrationSource(db.DriverName())
	if err != nil {
		return nil, err
	}
	migrations, err := readMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx, trackingTable[db.DriverName()]); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var rows []appliedRow
	if err := db.SelectContext(ctx, &rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]appliedRow, len(rows))
	for _, row := range rows {
		applied[row.ID] = row
	}
	return &plan{migrations: migrations, applied: applied}, nil
}

// verify checks every applied migration against its embedded file.
func (p *plan) verify() error {
	embedded := make(map[string]string, len(p.migrations))
	for _, m := range p.migrations {
		embedded[m.ID] = m.Checksum
	}
	for id, row := range p.applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if row.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, row.Checksum)
		}
	}
	return nil
}

// apply runs one migration and records it in the same transaction.
func apply(ctx context.Context, db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	defer tx.Rollback()

	// lib/pq doesn't support multiple statements in single Exec
	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
	}

	var appliedAt any = time.Now().UTC()
	if tx.DriverName() == "sqlite3" {
		appliedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, appliedAt, time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

// parseAppliedAt normalizes applied_at: PostgreSQL yields a time.Time, SQLite
// stores RFC 3339 text.
func parseAppliedAt(v any) *time.Time {
	var text string
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil
	}
	return &parsed
}

// migrationSource selects the embedded migration set for a driver.
func migrationSource(driver string) (fs.FS, string, error) {
	switch driver {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// readMigrations loads dir/*.sql in lexical order with their SHA-256 checksums.
func readMigrations(fsys fs.FS, dir string) ([]migration, error) {
	files, err := fs.Glob(fsys, dir+"/*.sql")
	if err != nil {
		return nil, err
	}

	migrations := make([]migration, 0, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, migration{
			ID:       path.Base(file),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	return migrations, nil
}

// splitStatements drops full-line "--" comments and splits the remaining SQL
// on semicolons. Statements must not contain literal semicolons.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var statements []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
