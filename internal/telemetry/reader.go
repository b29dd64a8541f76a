package telemetry

import (
	"errors"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	Kind      *Kind
	Session   string
	TimeStart *time.Time
	TimeEnd   *time.Time
}

func (f *Filter) matches(ev Event) bool {
	if f.Kind != nil && ev.Kind != *f.Kind {
		return false
	}
	if f.Session != "" && ev.Session != f.Session {
		return false
	}
	if f.TimeStart != nil && ev.Time.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !ev.Time.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader iterates over a CBOR event sequence.
type Reader struct {
	src    io.Reader
	dec    *cbor.Decoder
	filter Filter
}

// NewReader reads every event from r.
func NewReader(r io.Reader) *Reader {
	return NewFilteredReader(r, Filter{})
}

// NewFilteredReader reads the events from r that match filter.
func NewFilteredReader(r io.Reader, filter Filter) *Reader {
	return &Reader{src: r, dec: NewDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(ev) {
			return ev, nil
		}
	}
}

// Close closes the source if it is closable.
func (r *Reader) Close() error {
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
