package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jgarizk/brainpro/internal/concurrency"
)

// maxLineBytes bounds one NDJSON request line.
const maxLineBytes = 8 << 20

// Handler is what a transport needs from the controller.
type Handler interface {
	Handle(ctx context.Context, req Request) <-chan AgentEvent
}

// StdioServer reads NDJSON requests from r and writes NDJSON events to w.
// Requests run concurrently; each event is written as one whole line.
type StdioServer struct {
	handler Handler
	r       io.Reader
	w       io.Writer

	mu  sync.Mutex
	enc *json.Encoder
}

func NewStdioServer(h Handler, r io.Reader, w io.Writer) *StdioServer {
	return &StdioServer{handler: h, r: r, w: w, enc: json.NewEncoder(w)}
}

// Serve returns when the input ends or ctx is cancelled, after every
// in-flight request has finished.
func (s *StdioServer) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			slog.Warn("Invalid request line", "error", err)
			s.write(errorEvent("", CodeInvalidRequest, "invalid JSON request: "+err.Error()))
			continue
		}

		wg.Add(1)
		concurrency.SafeGo(func() {
			defer wg.Done()
			for ev := range s.handler.Handle(ctx, req) {
				s.write(ev)
			}
		}, nil)
	}
	return scanner.Err()
}

func (s *StdioServer) write(ev AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		slog.Warn("Failed to write event", "type", ev.Type, "error", err)
	}
}
