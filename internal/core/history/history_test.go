package history

import (
	"context"
	"testing"
	"time"

	"github.com/rcwatch/rcwatch/internal/core/db"
	"github.com/rcwatch/rcwatch/internal/types"
	"github.com/rcwatch/rcwatch/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = db.MigrateUp(context.Background(), conn)
	require.NoError(t, err)

	r, err := NewRecorder(conn)
	require.NoError(t, err)
	return r
}

func TestRecorder_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	r := newTestRecorder(t)

	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	notifications := []watch.Notification{
		{WatchID: 1, WatchName: "pages", Source: "#rc", Destination: "#ops", Message: "[watch] pages - first", Event: map[string]any{"title": "A"}},
		{WatchID: 2, WatchName: "bots", Source: "#rc", Destination: "#ops", Message: "[watch] bots", Event: map[string]any{"bot": true}},
		{WatchID: 1, WatchName: "pages", Source: "#rc", Destination: "#ops", Message: "[watch] pages - second", Event: map[string]any{"title": "B"}},
	}
	var ids []types.AlertID
	for _, n := range notifications {
		id, err := r.Record(ctx, n)
		require.NoError(t, err)
		_, err = types.ParseAlertID(string(id))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := r.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, "[watch] pages - second", all[0].Message)
	assert.Equal(t, `{"title":"B"}`, all[0].Event)
	assert.Equal(t, types.WatchID(1), all[0].WatchID)
	assert.True(t, base.Add(3*time.Minute).Equal(all[0].CreatedAt()), "created at %v", all[0].CreatedAt())

	pages, err := r.Recent(ctx, "pages", 1)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, ids[2], pages[0].ID)

	counts, err := r.CountByWatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []WatchCount{{"bots", 1}, {"pages", 2}}, counts)

	removed, err := r.Prune(ctx, base.Add(2*time.Minute+time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err = r.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, ids[2], all[0].ID)
}

func TestRecorder_UnencodableEvent(t *testing.T) {
	r := newTestRecorder(t)
	_, err := r.Record(context.Background(), watch.Notification{WatchName: "x", Event: map[string]any{"ch": make(chan int)}})
	assert.Error(t, err)
}

func TestNewRecorder_NilDB(t *testing.T) {
	_, err := NewRecorder(nil)
	assert.Error(t, err)
}
