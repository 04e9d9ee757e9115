package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamFailedFrame is written when the transport fails mid-stream.
const StreamFailedFrame = `{"type":"error","content":"Stream failed"}`

// SSEWriter frames events as server-sent events.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. Flushing is used when w supports it.
func NewSSEWriter(w io.Writer) *SSEWriter {
	f, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: f}
}

// WriteEvent writes one "event: message" frame and flushes it.
func (s *SSEWriter) WriteEvent(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return s.WriteData(data)
}

// WriteData writes a pre-encoded JSON payload as one frame.
func (s *SSEWriter) WriteData(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// WriteStream relays every event of ch to w until the stream finishes. If ctx
// ends first (client gone) the channel is closed so the producer stops. If an
// event cannot be written the stream-failed frame is attempted before
// returning. observe, when non-nil, sees each event after it was written.
func WriteStream(ctx context.Context, w io.Writer, ch *Channel, observe func(Event)) error {
	sse := NewSSEWriter(w)
	defer ch.Close()

	for {
		ev, ok := ch.Next(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := sse.WriteEvent(ev); err != nil {
			_ = sse.WriteData([]byte(StreamFailedFrame))
			return err
		}
		if observe != nil {
			observe(ev)
		}
	}
}

// ReadSSE parses frames written by SSEWriter from r and calls fn for each
// decoded event. It stops at EOF, on the first error, or after a terminal
// event.
func ReadSSE(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			if data.Len() == 0 {
				continue
			}
			ev, err := Decode([]byte(data.String()))
			data.Reset()
			if err != nil {
				return err
			}
			if err := fn(ev); err != nil {
				return err
			}
			if IsTerminal(ev) {
				return nil
			}
		}
	}
	return scanner.Err()
}
