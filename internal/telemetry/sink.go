package telemetry

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.bug.st/serial"
)

// Sink receives encoded events.
type Sink interface {
	Write(ev Event) error
	Close() error
}

// StreamSink writes events as a CBOR sequence to an io.WriteCloser.
// It is safe for concurrent use.
type StreamSink struct {
	mu     sync.Mutex
	w      io.WriteCloser
	enc    *cbor.Encoder
	closed bool
}

// NewStreamSink wraps w.
func NewStreamSink(w io.WriteCloser) *StreamSink {
	return &StreamSink{w: w, enc: NewEncoder(w)}
}

// NewFileSink appends events to the file at path, creating it with
// permissions 0644 if needed.
func NewFileSink(path string) (*StreamSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return NewStreamSink(f), nil
}

// NewSerialSink writes events to a serial port at baud, 8N1.
func NewSerialSink(port string, baud int) (*StreamSink, error) {
	p, err := OpenSerial(port, baud)
	if err != nil {
		return nil, err
	}
	return NewStreamSink(p), nil
}

// OpenSerial opens a serial port at baud, 8N1.
func OpenSerial(port string, baud int) (serial.Port, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: open serial %s: %w", port, err)
	}
	return p, nil
}

// Write encodes ev. After Close it is a no-op.
func (s *StreamSink) Write(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.enc.Encode(ev)
}

// Close closes the underlying writer. It is safe to call more than once.
func (s *StreamSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

var _ Sink = (*StreamSink)(nil)
