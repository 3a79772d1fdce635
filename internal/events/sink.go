package events

import (
	"bytes"
	"io"
	"net/http"

	"github.com/router-for-me/chatrelay/internal/api/middleware"
)

// Sink receives the events of one turn in order. An Emit error means the client
// is gone and the producer should stop.
type Sink interface {
	Emit(ev Event) error
}

// SSEWriter frames events as "data: <json>\n\n" and flushes after each one.
// It is not safe for concurrent use.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewSSEWriter wraps w. When w is an http.Flusher every event is flushed.
func NewSSEWriter(w io.Writer) *SSEWriter {
	s := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Emit implements Sink.
func (s *SSEWriter) Emit(ev Event) error {
	payload, err := Marshal(ev)
	if err != nil {
		return err
	}
	s.buf.Reset()
	s.buf.WriteString("data: ")
	s.buf.Write(payload)
	s.buf.WriteString("\n\n")
	if _, err = s.w.Write(s.buf.Bytes()); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	middleware.RecordEvent(ev.Type())
	return nil
}
