// Package service wires the watcher to its collaborators: the feed that
// supplies events, the notifier that delivers matches and the optional alert
// history.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rcwatch/rcwatch/internal/core/config"
	"github.com/rcwatch/rcwatch/internal/core/feed"
	"github.com/rcwatch/rcwatch/internal/core/history"
	"github.com/rcwatch/rcwatch/internal/core/notify"
	"github.com/rcwatch/rcwatch/internal/core/presets"
	"github.com/rcwatch/rcwatch/internal/types"
	"github.com/rcwatch/rcwatch/internal/watch"
)

// AlertService owns the watcher and delivers its notifications.
// Thin orchestration layer delegating to watch, notify, and history packages.
type AlertService struct {
	cfg      *config.Config
	watcher  *watch.Watcher
	notifier *notify.Notifier
	history  *history.Recorder
	logger   *slog.Logger
}

// NewAlertService creates service instance with dependencies.
// recorder may be nil when no history database is configured.
func NewAlertService(cfg *config.Config, sink notify.Sink, recorder *history.Recorder, logger *slog.Logger) (*AlertService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AlertService{
		cfg: cfg,
		watcher: watch.New(watch.Options{
			MaxBufferBytes:  cfg.Watcher.MaxBufferBytes,
			UnescapeUnicode: cfg.Watcher.UnescapeUnicode,
			Logger:          logger,
		}),
		notifier: notify.New(sink, cfg.Notify.Rate, cfg.Notify.Burst, cfg.Notify.QueueSize, logger),
		history:  recorder,
		logger:   logger,
	}, nil
}

// Watcher returns the service's watcher.
func (s *AlertService) Watcher() *watch.Watcher {
	return s.watcher
}

// AddWatch registers a watch whose matches are delivered by the service.
// Any Notify set on reg is replaced.
func (s *AlertService) AddWatch(reg watch.Registration) (types.WatchID, error) {
	reg.Notify = s.deliver
	return s.watcher.Register(reg)
}

// RemoveWatch unregisters the watch called name.
func (s *AlertService) RemoveWatch(name string) bool {
	return s.watcher.UnregisterName(name)
}

// Watches lists active watches in registration order.
func (s *AlertService) Watches() []watch.WatchInfo {
	return s.watcher.ListActive()
}

// LoadPresets registers the watches of a preset file. Watches that fail to
// compile are reported together; the others stay registered.
func (s *AlertService) LoadPresets(path string) (int, error) {
	f, err := presets.LoadFile(path)
	if err != nil {
		return 0, err
	}

	var errs []error
	loaded := 0
	for _, reg := range f.Registrations(s.deliver) {
		if _, err := s.watcher.Register(reg); err != nil {
			errs = append(errs, fmt.Errorf("preset %q: %w", reg.Name, err))
			continue
		}
		loaded++
	}
	s.logger.Info("presets loaded", "path", path, "loaded", loaded, "failed", len(errs))
	return loaded, errors.Join(errs...)
}

// NewFeedServer creates the feed listener forwarding trusted lines to the
// watcher.
func (s *AlertService) NewFeedServer() (*feed.Server, error) {
	return feed.NewServer(s.watcher, s.cfg.Trusts, s.cfg.Feed.MaxLineLength, s.logger)
}

// Close flushes queued notifications, giving up when ctx ends.
func (s *AlertService) Close(ctx context.Context) error {
	return s.notifier.Close(ctx)
}

// deliver queues a notification and records it in the history.
func (s *AlertService) deliver(ctx context.Context, n watch.Notification) {
	s.notifier.Deliver(ctx, n)

	if s.history == nil {
		return
	}
	if _, err := s.history.Record(ctx, n); err != nil {
		s.logger.Warn("failed to record alert", "watch", n.WatchName, "error", err)
	}
}
