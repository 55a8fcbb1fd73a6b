package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jmoiron/sqlx"
	"github.com/qustavo/dotsql"
)

//go:embed queries/*.sql
var queriesFS embed.FS

// Queries runs the named history queries of queries/*.sql, rebound to the
// placeholder style of the connection's driver.
type Queries struct {
	db     *sqlx.DB
	byName map[string]string
}

// LoadQueries parses every embedded query file and rebinds each query for db.
func LoadQueries(db *sqlx.DB) (*Queries, error) {
	files, err := fs.Glob(queriesFS, "queries/*.sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list query files: %w", err)
	}

	dots := make([]*dotsql.DotSql, 0, len(files))
	for _, path := range files {
		content, err := queriesFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		dot, err := dotsql.LoadFromString(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		dots = append(dots, dot)
	}

	merged := dotsql.Merge(dots...)
	byName := make(map[string]string)
	for name := range merged.QueryMap() {
		query, err := merged.Raw(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read query %s: %w", name, err)
		}
		byName[name] = db.Rebind(query)
	}
	return &Queries{db: db, byName: byName}, nil
}

func (q *Queries) query(name string) (string, error) {
	query, ok := q.byName[name]
	if !ok {
		return "", fmt.Errorf("query not found: %s", name)
	}
	return query, nil
}

// Exec runs a named statement.
func (q *Queries) Exec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	query, err := q.query(name)
	if err != nil {
		return nil, err
	}
	return q.db.ExecContext(ctx, query, args...)
}

// Get scans the single row of a named query into dest.
func (q *Queries) Get(ctx context.Context, name string, dest any, args ...any) error {
	query, err := q.query(name)
	if err != nil {
		return err
	}
	return q.db.GetContext(ctx, dest, query, args...)
}

// Select scans every row of a named query into the slice dest.
func (q *Queries) Select(ctx context.Context, name string, dest any, args ...any) error {
	query, err := q.query(name)
	if err != nil {
		return err
	}
	return q.db.SelectContext(ctx, dest, query, args...)
}
