package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunk struct {
	source, payload string
}

type recordingIngester struct {
	mu     sync.Mutex
	chunks []chunk
	seen   chan struct{}
}

func newRecordingIngester() *recordingIngester {
	return &recordingIngester{seen: make(chan struct{}, 64)}
}

func (r *recordingIngester) Ingest(_ context.Context, source, payload string) int {
	r.mu.Lock()
	r.chunks = append(r.chunks, chunk{source, payload})
	r.mu.Unlock()
	r.seen <- struct{}{}
	return 0
}

func (r *recordingIngester) got() []chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chunk(nil), r.chunks...)
}

func trustRC(source, sender string) bool {
	return source == "#rc" && sender == "rc-bot"
}

func newTestServer(t *testing.T, ingest Ingester, maxLine int) *Server {
	t.Helper()
	s, err := NewServer(ingest, trustRC, maxLine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		in      string
		want    Line
		wantErr bool
	}{
		{`#rc rc-bot {"title":"A"}`, Line{"#rc", "rc-bot", `{"title":"A"}`}, false},
		{"#rc rc-bot a b c\r\n", Line{"#rc", "rc-bot", "a b c"}, false},
		{"#rc rc-bot", Line{"#rc", "rc-bot", ""}, false},
		{"#rc rc-bot ", Line{"#rc", "rc-bot", ""}, false},
		{"#rc", Line{}, true},
		{" rc-bot x", Line{}, true},
		{"#rc  x", Line{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLine(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedLine)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, trustRC, 10, nil)
	assert.Error(t, err)
	_, err = NewServer(newRecordingIngester(), nil, 10, nil)
	assert.Error(t, err)
	_, err = NewServer(newRecordingIngester(), trustRC, 0, nil)
	assert.Error(t, err)
}

func TestServeReader_FiltersUntrusted(t *testing.T) {
	ing := newRecordingIngester()
	s := newTestServer(t, ing, 512)

	input := strings.Join([]string{
		`#rc rc-bot {"title":`,
		`#rc intruder {"title":"X"}`,
		`#other rc-bot {"title":"Y"}`,
		``,
		`garbage`,
		`#rc rc-bot "A"}`,
	}, "\n") + "\n"

	require.NoError(t, s.ServeReader(context.Background(), strings.NewReader(input)))
	assert.Equal(t, []chunk{
		{"#rc", `{"title":`},
		{"#rc", `"A"}`},
	}, ing.got())
}

func TestServeReader_LineTooLong(t *testing.T) {
	ing := newRecordingIngester()
	s := newTestServer(t, ing, 32)

	ok := "#rc rc-bot " + strings.Repeat("x", 32-len("#rc rc-bot "))
	input := ok + "\n" + "#rc rc-bot " + strings.Repeat("y", 100) + "\n" + ok + "\n"

	err := s.ServeReader(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
	assert.Len(t, ing.got(), 1, "processing stops at the oversized line")
}

// stalledReader yields its first line, then blocks until released.
type stalledReader struct {
	first   string
	release chan struct{}
}

func (r *stalledReader) Read(p []byte) (int, error) {
	if r.first != "" {
		n := copy(p, r.first)
		r.first = r.first[n:]
		return n, nil
	}
	<-r.release
	return 0, io.EOF
}

func TestServeReader_ReturnsOnCancelWhileBlocked(t *testing.T) {
	tests := []struct {
		name   string
		reader func(t *testing.T) io.Reader
	}{
		{"plain reader", func(t *testing.T) io.Reader {
			r := &stalledReader{first: "#rc rc-bot {}\n", release: make(chan struct{})}
			t.Cleanup(func() { close(r.release) })
			return r
		}},
		{"closable reader", func(t *testing.T) io.Reader {
			pr, pw := io.Pipe()
			go pw.Write([]byte("#rc rc-bot {}\n"))
			return pr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := newRecordingIngester()
			s := newTestServer(t, ing, 512)
			ctx, cancel := context.WithCancel(context.Background())

			errc := make(chan error, 1)
			go func() { errc <- s.ServeReader(ctx, tt.reader(t)) }()

			select {
			case <-ing.seen:
			case <-time.After(2 * time.Second):
				t.Fatal("first line not ingested")
			}
			cancel()

			select {
			case err := <-errc:
				assert.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("ServeReader still blocked after cancel")
			}
		})
	}
}

func TestServe_TCP(t *testing.T) {
	ing := newRecordingIngester()
	s := newTestServer(t, ing, 512)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		_, err := fmt.Fprintf(conn, "#rc rc-bot {\"n\":%d}\r\n", i)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-ing.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}
	assert.Equal(t, []chunk{{"#rc", `{"n":0}`}, {"#rc", `{"n":1}`}, {"#rc", `{"n":2}`}}, ing.got())
	assert.Equal(t, ln.Addr().String(), s.Addr().String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
