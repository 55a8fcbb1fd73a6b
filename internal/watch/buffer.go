package watch

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/gjson"
)

// FeedResult describes what happened to one chunk fed into a source buffer.
type FeedResult int

const (
	// Pending: the chunk was buffered, awaiting the rest of the event.
	Pending FeedResult = iota
	// Complete: buffer and chunk together formed an event.
	Complete
	// Recovered: the stale buffer was discarded and the chunk alone formed
	// an event.
	Recovered
	// Overflowed: the buffer grew past its bound and was dropped.
	Overflowed
)

func (r FeedResult) String() string {
	switch r {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	case Recovered:
		return "recovered"
	case Overflowed:
		return "overflowed"
	default:
		return "unknown"
	}
}

// sourceState holds one source's partial event text. mu serializes
// reassembly and dispatch for the source.
type sourceState struct {
	mu      sync.Mutex
	pending string
}

// SourceBuffers reassembles events split across transport lines, one
// independent buffer per source.
type SourceBuffers struct {
	maxBytes int
	logger   *slog.Logger

	mu      sync.Mutex
	sources map[string]*sourceState
}

// NewSourceBuffers creates buffers bounded at maxBytes per source
// (0 disables the bound).
func NewSourceBuffers(maxBytes int, logger *slog.Logger) *SourceBuffers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceBuffers{
		maxBytes: maxBytes,
		logger:   logger,
		sources:  make(map[string]*sourceState),
	}
}

// state returns the state for source, creating it if not exists.
// The map grows by one entry per distinct source, and sources are limited
// to the trusted set.
func (b *SourceBuffers) state(source string) *sourceState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sources[source]; !ok {
		b.sources[source] = &sourceState{}
	}
	return b.sources[source]
}

// Feed appends chunk to the source's buffer. When the buffered text forms a
// complete JSON object it is decoded and returned and the buffer is cleared.
// If the buffer plus chunk does not parse and the chunk opens a new object,
// the stale buffer is replaced by the chunk, which may itself be the event.
func (b *SourceBuffers) Feed(source, chunk string) (any, FeedResult) {
	st := b.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return b.feedLocked(source, st, chunk)
}

func (b *SourceBuffers) feedLocked(source string, st *sourceState, chunk string) (any, FeedResult) {
	candidate := st.pending + chunk
	if record, ok := decodeObject(candidate); ok {
		st.pending = ""
		return record, Complete
	}
	if st.pending != "" && startsObject(chunk) {
		b.logger.Warn("dropped stale partial event",
			"source", source,
			"size", humanize.Bytes(uint64(len(st.pending))))
		st.pending = ""
		if record, ok := decodeObject(chunk); ok {
			return record, Recovered
		}
		candidate = chunk
	}

	if b.maxBytes > 0 && len(candidate) > b.maxBytes {
		b.logger.Warn("partial event exceeds buffer bound, dropping",
			"source", source,
			"size", humanize.Bytes(uint64(len(candidate))),
			"limit", humanize.Bytes(uint64(b.maxBytes)))
		st.pending = ""
		return nil, Overflowed
	}
	st.pending = candidate
	return nil, Pending
}

// Pending returns the text currently buffered for source.
func (b *SourceBuffers) Pending(source string) string {
	st := b.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending
}

// Reset discards the source's buffered text.
func (b *SourceBuffers) Reset(source string) {
	st := b.state(source)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending = ""
}

// startsObject reports whether chunk opens a JSON object.
func startsObject(chunk string) bool {
	return strings.HasPrefix(strings.TrimLeft(chunk, " \t"), "{")
}

// decodeObject parses text as a complete JSON object. Scalars and arrays are
// not events: a numeric fragment such as "1" must not complete a record.
func decodeObject(text string) (any, bool) {
	if !gjson.Valid(text) {
		return nil, false
	}
	result := gjson.Parse(text)
	if !result.IsObject() {
		return nil, false
	}
	return result.Value(), true
}
