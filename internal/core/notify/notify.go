// Package notify delivers watch notifications to their destinations with
// per-destination flood control.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Sink transmits one message to a destination.
type Sink interface {
	Send(ctx context.Context, destination, message string) error
}

// WriterSink writes "<destination> <message>" lines to an io.Writer.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Send writes one line. Line breaks inside message are flattened to spaces
// so one notification is always one line.
func (s *WriterSink) Send(_ context.Context, destination, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %s\n", destination, lineBreaks.Replace(message))
	return err
}

// Notifier queues notifications per destination and drains each queue
// through the destination's rate limiter on its own goroutine, so delivery
// never blocks the caller.
type Notifier struct {
	sink      Sink
	limit     rate.Limit
	burst     int
	queueSize int
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	limiters map[string]*rate.Limiter
	queues   map[string]chan watch.Notification
}

// New creates a notifier allowing perSecond messages per destination with
// the given burst. Up to queueSize notifications wait per destination.
func New(sink Sink, perSecond float64, burst, queueSize int, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		sink:      sink,
		limit:     rate.Limit(perSecond),
		burst:     burst,
		queueSize: queueSize,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		limiters:  make(map[string]*rate.Limiter),
		queues:    make(map[string]chan watch.Notification),
	}
}

// limiter returns the limiter for destination, creating it if not exists.
func (n *Notifier) limiter(destination string) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.limiters[destination]; !ok {
		n.limiters[destination] = rate.NewLimiter(n.limit, n.burst)
	}
	return n.limiters[destination]
}

// Send waits for the destination's rate limit, then delivers message.
func (n *Notifier) Send(ctx context.Context, destination, message string) error {
	if err := n.limiter(destination).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", destination, err)
	}
	return n.sink.Send(ctx, destination, message)
}

// Deliver queues a watch notification and returns immediately. When the
// destination's queue is full, or the notifier is closed, the notification
// is dropped with a warning.
func (n *Notifier) Deliver(_ context.Context, note watch.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		n.logger.Warn("notifier closed, dropping notification",
			"watch", note.WatchName,
			"destination", note.Destination)
		return
	}
	queue, ok := n.queues[note.Destination]
	if !ok {
		queue = make(chan watch.Notification, n.queueSize)
		n.queues[note.Destination] = queue
		n.wg.Add(1)
		go n.drain(queue)
	}

	select {
	case queue <- note:
	default:
		n.logger.Warn("outbox full, dropping notification",
			"watch", note.WatchName,
			"destination", note.Destination,
			"queued", len(queue))
	}
}

func (n *Notifier) drain(queue <-chan watch.Notification) {
	defer n.wg.Done()
	for note := range queue {
		if err := n.Send(n.ctx, note.Destination, note.Message); err != nil {
			n.logger.Warn("notification not delivered",
				"watch", note.WatchName,
				"destination", note.Destination,
				"error", err)
		}
	}
}

// Close stops accepting notifications and waits for the queues to drain.
// When ctx ends first, pending notifications are abandoned and ctx's error
// is returned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		for _, queue := range n.queues {
			close(queue)
		}
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	defer n.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}
