package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcwatch/rcwatch/internal/core/config"
	"github.com/rcwatch/rcwatch/internal/core/db"
	"github.com/rcwatch/rcwatch/internal/core/history"
	"github.com/rcwatch/rcwatch/internal/core/notify"
	"github.com/rcwatch/rcwatch/internal/types"
	"github.com/rcwatch/rcwatch/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.TrustedSources = map[string][]string{"#rc": {"rc-bot"}}
	cfg.Notify.Burst = 10
	return cfg
}

func newRecorder(t *testing.T) *history.Recorder {
	t.Helper()
	conn, err := db.Open(context.Background(), "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.MigrateUp(context.Background(), conn)
	require.NoError(t, err)
	r, err := history.NewRecorder(conn)
	require.NoError(t, err)
	return r
}

func TestNewAlertService_Validation(t *testing.T) {
	_, err := NewAlertService(nil, notify.NewWriterSink(io.Discard), nil, nil)
	assert.Error(t, err)
	_, err = NewAlertService(testConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestAlertService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	recorder := newRecorder(t)

	svc, err := NewAlertService(testConfig(), notify.NewWriterSink(&out), recorder, testLogger())
	require.NoError(t, err)

	_, err = svc.AddWatch(watch.Registration{
		Name:        "specials",
		Source:      "#rc",
		Rule:        `title:/^Special:/i`,
		Destination: "#ops",
	})
	require.NoError(t, err)
	_, err = svc.AddWatch(watch.Registration{
		Name:        "big",
		Source:      "#rc",
		Rule:        `(> length/new 1000)`,
		Template:    "${title} grew to ${length/new}",
		Destination: "#ops",
	})
	require.NoError(t, err)

	server, err := svc.NewFeedServer()
	require.NoError(t, err)

	lines := strings.Join([]string{
		`#rc rc-bot {"title":"special:Log","user":"Ann",`,
		`#rc rc-bot "comment":"cleanup","length":{"new":10}}`,
		`#rc stranger {"title":"Special:Fake","length":{"new":5000}}`,
		`#rc rc-bot {"title":"Main Page","user":"Bob","comment":"","length":{"new":4096}}`,
	}, "\n")
	require.NoError(t, server.ServeReader(ctx, strings.NewReader(lines)))
	require.NoError(t, svc.Close(ctx))

	assert.Equal(t,
		"#ops [watch] specials - [[special:Log]] by Ann: cleanup\n"+
			"#ops [watch] big - Main Page grew to 4096\n",
		out.String())

	alerts, err := recorder.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "big", alerts[0].WatchName)
	assert.Equal(t, "specials", alerts[1].WatchName)
	assert.Equal(t, types.WatchID(1), alerts[1].WatchID)
	assert.Contains(t, alerts[1].Event, `"user":"Ann"`)
}

func TestAlertService_WithoutHistory(t *testing.T) {
	var out bytes.Buffer
	svc, err := NewAlertService(testConfig(), notify.NewWriterSink(&out), nil, testLogger())
	require.NoError(t, err)

	_, err = svc.AddWatch(watch.Registration{Name: "any", Source: "#rc", Rule: "title", Destination: "#ops", Template: "${title}"})
	require.NoError(t, err)

	fired := svc.Watcher().Ingest(context.Background(), "#rc", `{"title":"X"}`)
	assert.Equal(t, 1, fired)
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, "#ops [watch] any - X\n", out.String())
}

type stalledSink struct{ release chan struct{} }

func (s stalledSink) Send(ctx context.Context, _, _ string) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAlertService_IngestDoesNotWaitForDelivery(t *testing.T) {
	cfg := testConfig()
	cfg.Notify.Rate = 1
	cfg.Notify.Burst = 1
	sink := stalledSink{release: make(chan struct{})}
	defer close(sink.release)

	svc, err := NewAlertService(cfg, sink, nil, testLogger())
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := svc.AddWatch(watch.Registration{
			Name:        fmt.Sprintf("w%d", i),
			Source:      "#rc",
			Rule:        "title",
			Destination: "#ops",
		})
		require.NoError(t, err)
	}

	start := time.Now()
	fired := svc.Watcher().Ingest(context.Background(), "#rc", `{"title":"X"}`)
	assert.Equal(t, 6, fired)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Close(ctx), context.DeadlineExceeded)
}

func TestAlertService_AddRemoveWatches(t *testing.T) {
	svc, err := NewAlertService(testConfig(), notify.NewWriterSink(io.Discard), nil, testLogger())
	require.NoError(t, err)

	_, err = svc.AddWatch(watch.Registration{Name: "bad", Source: "#rc", Rule: "(> 1 0)", Destination: "#ops"})
	assert.ErrorIs(t, err, types.ErrAlwaysTrue)
	assert.Empty(t, svc.Watches())

	id, err := svc.AddWatch(watch.Registration{Name: "ok", Source: "#rc", Rule: "bot", Destination: "#ops"})
	require.NoError(t, err)
	require.Len(t, svc.Watches(), 1)
	assert.Equal(t, id, svc.Watches()[0].ID)

	assert.True(t, svc.RemoveWatch("ok"))
	assert.False(t, svc.RemoveWatch("ok"))
	assert.Empty(t, svc.Watches())
}

func TestAlertService_LoadPresets(t *testing.T) {
	var out bytes.Buffer
	svc, err := NewAlertService(testConfig(), notify.NewWriterSink(&out), nil, testLogger())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "watches.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
destination: "#ops"
watches:
  - name: bots
    source: "#rc"
    rule: "bot"
    template: "${user}"
  - name: broken
    source: "#rc"
    rule: "(IF bot)"
`), 0o644))

	loaded, err := svc.LoadPresets(path)
	assert.Equal(t, 1, loaded)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidArity)
	assert.Contains(t, err.Error(), `preset "broken"`)

	svc.Watcher().Ingest(context.Background(), "#rc", `{"bot":true,"user":"RoboEdit"}`)
	require.NoError(t, svc.Close(context.Background()))
	assert.Equal(t, "#ops [watch] bots - RoboEdit\n", out.String())
}
