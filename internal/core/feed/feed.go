// Package feed implements the line transport carrying change events.
//
// Each line is "<source> <sender> <payload>". The payload is a JSON fragment;
// the watcher reassembles fragments per source. Lines from untrusted sources
// or senders are dropped. A line longer than the configured bound closes the
// connection.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
)

// ErrMalformedLine is returned by ParseLine for lines without a source and
// sender.
var ErrMalformedLine = errors.New("malformed feed line")

// Line is one decoded transport message.
type Line struct {
	Source  string
	Sender  string
	Payload string
}

// ParseLine splits a transport line into source, sender and payload. The
// payload is the remainder after the second space and may be empty.
func ParseLine(text string) (Line, error) {
	text = strings.TrimRight(text, "\r\n")
	source, rest, ok := strings.Cut(text, " ")
	if !ok || source == "" {
		return Line{}, fmt.Errorf("%w: %q", ErrMalformedLine, text)
	}
	sender, payload, _ := strings.Cut(rest, " ")
	if sender == "" {
		return Line{}, fmt.Errorf("%w: %q", ErrMalformedLine, text)
	}
	return Line{Source: source, Sender: sender, Payload: payload}, nil
}

// Ingester consumes payload fragments for a source.
type Ingester interface {
	Ingest(ctx context.Context, source, chunk string) int
}

// TrustFunc reports whether sender may feed events for source.
type TrustFunc func(source, sender string) bool

// Server accepts feed connections and forwards trusted payloads.
type Server struct {
	ingest  Ingester
	trusts  TrustFunc
	maxLine int
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer creates a feed server. maxLine bounds a single line in bytes.
func NewServer(ingest Ingester, trusts TrustFunc, maxLine int, logger *slog.Logger) (*Server, error) {
	if ingest == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if trusts == nil {
		return nil, fmt.Errorf("trust function cannot be nil")
	}
	if maxLine <= 0 {
		return nil, fmt.Errorf("max line length must be positive, got %d", maxLine)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingest:  ingest,
		trusts:  trusts,
		maxLine: maxLine,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// open connection and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("feed listening", "addr", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.closeAll()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed accept: %w", err)
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)

			remote := conn.RemoteAddr().String()
			s.logger.Debug("feed connection opened", "remote", remote)
			if err := s.ServeReader(ctx, conn); err != nil {
				s.logger.Warn("feed connection closed", "remote", remote, "error", err)
				return
			}
			s.logger.Debug("feed connection closed", "remote", remote)
		}()
	}
}

// ServeReader processes lines from r until EOF. It returns an error when a
// line exceeds the bound or reading fails, and nil as soon as ctx is done,
// even while a read is still blocked. r is closed on cancellation when it is
// an io.Closer.
func (s *Server) ServeReader(ctx context.Context, r io.Reader) error {
	if c, ok := r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	done := make(chan error, 1)
	go func() { done <- s.scan(ctx, r) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) scan(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	// Room for the terminator of a maximal line
	scanner.Buffer(make([]byte, 0, min(s.maxLine+2, 4096)), s.maxLine+2)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if len(text) > s.maxLine {
			return fmt.Errorf("line of %d bytes exceeds limit of %d", len(text), s.maxLine)
		}
		s.HandleLine(ctx, text)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return fmt.Errorf("line exceeds limit of %d bytes", s.maxLine)
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

// HandleLine forwards one line's payload when its source and sender are
// trusted. It returns the number of notifications fired.
func (s *Server) HandleLine(ctx context.Context, text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	line, err := ParseLine(text)
	if err != nil {
		s.logger.Debug("dropping feed line", "error", err)
		return 0
	}
	if !s.trusts(line.Source, line.Sender) {
		s.logger.Debug("dropping untrusted feed line", "source", line.Source, "sender", line.Sender)
		return 0
	}
	return s.ingest.Ingest(ctx, line.Source, line.Payload)
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	conn.Close()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
