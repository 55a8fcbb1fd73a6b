// Package watch holds the registry of active watches and dispatches
// reassembled feed events to the watches whose rules match them.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rcwatch/rcwatch/internal/rules"
	"github.com/rcwatch/rcwatch/internal/types"
)

// Notification is delivered to a watch's callback for every matching event.
type Notification struct {
	WatchID     types.WatchID
	WatchName   string
	Source      string
	Destination string
	Message     string
	Event       any
}

// NotifyFunc receives notifications. It runs on the ingesting goroutine,
// outside the registry lock, while the event's source is held.
type NotifyFunc func(ctx context.Context, n Notification)

// Registration describes a watch to install.
type Registration struct {
	Name        string
	Source      string // exact source an event must come from
	Rule        string
	Template    string // DefaultTemplate when empty
	Destination string
	Notify      NotifyFunc
}

// Watch is one installed, compiled watch.
type Watch struct {
	ID          types.WatchID
	Name        string
	Source      string
	Rule        *rules.CompiledRule
	Template    string
	Destination string
	Notify      NotifyFunc
	CreatedAt   time.Time
}

// WatchInfo is the read-only view of a watch returned by listings.
type WatchInfo struct {
	ID          types.WatchID
	Name        string
	Rule        string
	Compiled    string
	Source      string
	Destination string
	CreatedAt   time.Time
}

func (w *Watch) info() WatchInfo {
	return WatchInfo{
		ID:          w.ID,
		Name:        w.Name,
		Rule:        w.Rule.Source,
		Compiled:    w.Rule.Compiled(),
		Source:      w.Source,
		Destination: w.Destination,
		CreatedAt:   w.CreatedAt,
	}
}

// Options configures a Watcher.
type Options struct {
	// MaxBufferBytes bounds each source's partial-event buffer; 0 is unbounded.
	MaxBufferBytes int
	// UnescapeUnicode rewrites literal \uXXXX sequences in event strings
	// before rules see them.
	UnescapeUnicode bool
	Logger          *slog.Logger
	Now             func() time.Time
}

// Watcher owns the watch registry and the per-source buffers.
type Watcher struct {
	opts    Options
	logger  *slog.Logger
	buffers *SourceBuffers

	mu      sync.RWMutex
	nextID  types.WatchID
	watches map[types.WatchID]*Watch
	order   []types.WatchID // ascending, ids are allocated monotonically
	byName  map[string]types.WatchID
}

// New creates an empty Watcher.
func New(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Watcher{
		opts:    opts,
		logger:  logger,
		buffers: NewSourceBuffers(opts.MaxBufferBytes, logger),
		watches: make(map[types.WatchID]*Watch),
		byName:  make(map[string]types.WatchID),
	}
}

// Register compiles reg.Rule and installs the watch. On any error the
// registry is left untouched. A watch already registered under the same name
// is removed first. Returns the new watch's id.
func (w *Watcher) Register(reg Registration) (types.WatchID, error) {
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return 0, types.ErrEmptyName
	}
	if reg.Source == "" {
		return 0, types.ErrEmptySource
	}

	rule, err := rules.CompileRule(reg.Rule)
	if err != nil {
		return 0, fmt.Errorf("watch %s: %w", name, err)
	}

	template := reg.Template
	if template == "" {
		template = DefaultTemplate
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if old, ok := w.byName[name]; ok {
		w.removeLocked(old)
		w.logger.Info("watch replaced", "name", name, "old_id", old.String())
	}

	w.nextID++
	watch := &Watch{
		ID:          w.nextID,
		Name:        name,
		Source:      reg.Source,
		Rule:        rule,
		Template:    template,
		Destination: reg.Destination,
		Notify:      reg.Notify,
		CreatedAt:   w.opts.Now(),
	}
	w.watches[watch.ID] = watch
	w.order = append(w.order, watch.ID)
	w.byName[name] = watch.ID

	w.logger.Info("watch registered",
		"id", watch.ID.String(),
		"name", name,
		"source", reg.Source,
		"cost", rule.Cost)
	for _, warning := range rule.Warnings {
		w.logger.Warn("watch rule warning", "name", name, "warning", warning)
	}
	return watch.ID, nil
}

// Unregister removes the watch with the given id. Returns true iff it existed.
func (w *Watcher) Unregister(id types.WatchID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watches[id]; !ok {
		return false
	}
	w.removeLocked(id)
	w.logger.Info("watch unregistered", "id", id.String())
	return true
}

// UnregisterName removes the watch registered under name.
func (w *Watcher) UnregisterName(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, ok := w.byName[name]
	if !ok {
		return false
	}
	w.removeLocked(id)
	w.logger.Info("watch unregistered", "id", id.String(), "name", name)
	return true
}

func (w *Watcher) removeLocked(id types.WatchID) {
	watch := w.watches[id]
	delete(w.watches, id)
	if w.byName[watch.Name] == id {
		delete(w.byName, watch.Name)
	}
	for i, other := range w.order {
		if other == id {
			w.order = append(w.order[:i:i], w.order[i+1:]...)
			break
		}
	}
}

// ListActive returns every installed watch in registration order.
func (w *Watcher) ListActive() []WatchInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	infos := make([]WatchInfo, 0, len(w.order))
	for _, id := range w.order {
		infos = append(infos, w.watches[id].info())
	}
	return infos
}

// Lookup returns the watch registered under name.
func (w *Watcher) Lookup(name string) (WatchInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	id, ok := w.byName[name]
	if !ok {
		return WatchInfo{}, false
	}
	return w.watches[id].info(), true
}

// Len returns the number of installed watches.
func (w *Watcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.order)
}

// Buffers exposes the per-source reassembly buffers.
func (w *Watcher) Buffers() *SourceBuffers {
	return w.buffers
}

// Ingest feeds one transport chunk from source. When the chunk completes an
// event, every watch constrained to source is evaluated in ascending id order
// and each match is delivered to its callback. Returns the number of
// notifications delivered.
func (w *Watcher) Ingest(ctx context.Context, source, chunk string) int {
	st := w.buffers.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()

	record, result := w.buffers.feedLocked(source, st, chunk)
	if result != Complete && result != Recovered {
		return 0
	}
	if w.opts.UnescapeUnicode {
		record = UnescapeUnicode(record)
	}
	return w.dispatch(ctx, source, record)
}

// Dispatch evaluates a decoded event from source against the registry,
// bypassing reassembly.
func (w *Watcher) Dispatch(ctx context.Context, source string, record any) int {
	st := w.buffers.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return w.dispatch(ctx, source, record)
}

func (w *Watcher) dispatch(ctx context.Context, source string, record any) int {
	w.mu.RLock()
	candidates := make([]*Watch, 0, len(w.order))
	for _, id := range w.order {
		if watch := w.watches[id]; watch.Source == source {
			candidates = append(candidates, watch)
		}
	}
	w.mu.RUnlock()

	delivered := 0
	for _, watch := range candidates {
		if !watch.Rule.Match(record) {
			continue
		}
		n := Notification{
			WatchID:     watch.ID,
			WatchName:   watch.Name,
			Source:      source,
			Destination: watch.Destination,
			Message:     FormatNotification(watch.Name, Render(watch.Template, record)),
			Event:       record,
		}
		w.logger.Debug("watch matched", "id", watch.ID.String(), "name", watch.Name, "source", source)
		if watch.Notify != nil {
			watch.Notify(ctx, n)
		}
		delivered++
	}
	return delivered
}
