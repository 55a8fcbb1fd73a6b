// Package history records delivered notifications in the alert history
// database and lists them back.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rcwatch/rcwatch/internal/core/db"
	"github.com/rcwatch/rcwatch/internal/types"
	"github.com/rcwatch/rcwatch/internal/watch"
)

// DefaultListLimit bounds listings when the caller gives no limit.
const DefaultListLimit = 20

// Alert is one recorded notification.
type Alert struct {
	ID          types.AlertID `db:"alert_id"`
	WatchID     types.WatchID `db:"watch_id"`
	WatchName   string        `db:"watch_name"`
	Source      string        `db:"source"`
	Destination string        `db:"destination"`
	Message     string        `db:"message"`
	Event       string        `db:"event"`
	CreatedAtMs int64         `db:"created_at_ms"`
}

// CreatedAt returns the time the alert was recorded.
func (a Alert) CreatedAt() time.Time {
	return time.UnixMilli(a.CreatedAtMs).UTC()
}

// WatchCount is the number of alerts recorded for one watch name.
type WatchCount struct {
	WatchName  string `db:"watch_name"`
	AlertCount int64  `db:"alert_count"`
}

// Recorder persists notifications through the named history queries.
type Recorder struct {
	queries *db.Queries
	now     func() time.Time
}

// NewRecorder loads the named queries for conn.
func NewRecorder(conn *sqlx.DB) (*Recorder, error) {
	if conn == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		return nil, err
	}
	return &Recorder{queries: queries, now: time.Now}, nil
}

// Record stores n and returns the new alert's id.
func (r *Recorder) Record(ctx context.Context, n watch.Notification) (types.AlertID, error) {
	event, err := json.Marshal(n.Event)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}

	id := types.NewAlertID()
	_, err = r.queries.Exec(ctx, "insert-alert",
		string(id),
		int64(n.WatchID),
		n.WatchName,
		n.Source,
		n.Destination,
		n.Message,
		string(event),
		r.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record alert: %w", err)
	}
	return id, nil
}

// Recent lists the newest alerts first, optionally only for one watch name.
func (r *Recorder) Recent(ctx context.Context, watchName string, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var alerts []Alert
	var err error
	if watchName == "" {
		err = r.queries.Select(ctx, "list-recent-alerts", &alerts, limit)
	} else {
		err = r.queries.Select(ctx, "list-recent-alerts-by-watch", &alerts, watchName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return alerts, nil
}

// CountByWatch returns the number of alerts per watch name.
func (r *Recorder) CountByWatch(ctx context.Context) ([]WatchCount, error) {
	var counts []WatchCount
	if err := r.queries.Select(ctx, "count-alerts-by-watch", &counts); err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	return counts, nil
}

// Prune deletes alerts recorded before cutoff and returns how many were removed.
func (r *Recorder) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.queries.Exec(ctx, "delete-alerts-before", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune alerts: %w", err)
	}
	return res.RowsAffected()
}
