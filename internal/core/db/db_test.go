package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestOpen_Schemes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"sqlite file", "sqlite://" + filepath.Join(t.TempDir(), "history.db"), ""},
		{"sqlite memory", "sqlite://:memory:", ""},
		{"sqlite without path", "sqlite://", "no path"},
		{"unknown scheme", "mysql://localhost/rcwatch", "unsupported database scheme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(ctx, tt.url)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Open(%q) error = %v, want containing %q", tt.url, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open(%q) error = %v", tt.url, err)
			}
			defer db.Close()
			if db.DriverName() != "sqlite3" {
				t.Errorf("DriverName() = %s, want sqlite3", db.DriverName())
			}
		})
	}
}

func TestMigrateUp(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	applied, err := MigrateUp(ctx, db)
	if err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if applied != 1 {
		t.Errorf("MigrateUp() applied %d migrations, want 1", applied)
	}

	// Second run is a no-op
	applied, err = MigrateUp(ctx, db)
	if err != nil {
		t.Fatalf("second MigrateUp() error = %v", err)
	}
	if applied != 0 {
		t.Errorf("second MigrateUp() applied %d migrations, want 0", applied)
	}

	statuses, err := MigrateStatus(ctx, db)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("MigrateStatus() = %d entries, want 1", len(statuses))
	}
	s := statuses[0]
	if s.ID != "001_initial_schema.sql" || !s.Applied || s.AppliedAt == nil {
		t.Errorf("status = %+v, want applied 001_initial_schema.sql with timestamp", s)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM alerts"); err != nil {
		t.Fatalf("alerts table missing: %v", err)
	}
}

func TestMigrateUp_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if _, err := MigrateUp(ctx, db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if _, err := db.Exec("UPDATE migrations SET checksum = 'tampered'"); err != nil {
		t.Fatal(err)
	}

	_, err = MigrateUp(ctx, db)
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("MigrateUp() error = %v, want checksum mismatch", err)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := `-- leading comment
CREATE TABLE a (x INTEGER);

-- another
CREATE INDEX idx_a ON a (x);
`
	got := splitStatements(sql)
	want := []string{"CREATE TABLE a (x INTEGER)", "CREATE INDEX idx_a ON a (x)"}
	if len(got) != len(want) {
		t.Fatalf("splitStatements() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if _, err := MigrateUp(ctx, db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	q, err := LoadQueries(db)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	for _, name := range []string{"insert-alert", "list-recent-alerts", "list-recent-alerts-by-watch", "count-alerts-by-watch", "delete-alerts-before"} {
		query, err := q.query(name)
		if err != nil || !strings.Contains(query, "alerts") {
			t.Errorf("query(%q) = (%q, %v)", name, query, err)
		}
	}

	if _, err := q.Exec(ctx, "insert-alert", "a1", 1, "pages", "#rc", "#ops", "[watch] pages", `{}`, 1000); err != nil {
		t.Fatalf("insert-alert error = %v", err)
	}

	type row struct {
		WatchName  string `db:"watch_name"`
		AlertCount int    `db:"alert_count"`
	}
	var rows []row
	if err := q.Select(ctx, "count-alerts-by-watch", &rows); err != nil {
		t.Fatalf("count-alerts-by-watch error = %v", err)
	}
	if len(rows) != 1 || rows[0].WatchName != "pages" || rows[0].AlertCount != 1 {
		t.Errorf("count-alerts-by-watch = %+v", rows)
	}

	if _, err := q.Exec(ctx, "no-such-query"); err == nil {
		t.Error("expected error for unknown query name")
	}
}

func TestMigrateStatus_PendingAndUnknown(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	statuses, err := MigrateStatus(ctx, db)
	if err != nil {
		t.Fatalf("MigrateStatus() error = %v", err)
	}
	if len(statuses) != 1 || statuses[0].Applied || statuses[0].AppliedAt != nil {
		t.Fatalf("MigrateStatus() on empty database = %+v, want one pending", statuses)
	}

	if _, err := db.Exec(`INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms)
		VALUES ('999_future.sql', 'x', '2026-01-01T00:00:00Z', 1)`); err != nil {
		t.Fatal(err)
	}
	_, err = MigrateUp(ctx, db)
	if err == nil || !strings.Contains(err.Error(), "not in embedded files") {
		t.Fatalf("MigrateUp() error = %v, want unknown migration", err)
	}
}

func TestParseAppliedAt(t *testing.T) {
	want := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	for _, v := range []any{want, "2026-03-04T05:06:07Z", []byte("2026-03-04T05:06:07Z")} {
		got := parseAppliedAt(v)
		if got == nil || !got.Equal(want) {
			t.Errorf("parseAppliedAt(%v) = %v, want %v", v, got, want)
		}
	}
	for _, v := range []any{nil, "yesterday", 42} {
		if got := parseAppliedAt(v); got != nil {
			t.Errorf("parseAppliedAt(%v) = %v, want nil", v, got)
		}
	}
}
