// Package calibration learns each input channel's operating range and
// persists it as a checksummed record in non-volatile storage.
package calibration

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// RecordSize is the encoded record length without the checksum byte.
	RecordSize = 16
	// ImageSize is the stored length: record followed by its checksum.
	ImageSize = RecordSize + 1
	// ChecksumSeed is added to the byte sum.
	ChecksumSeed = 1
)

var (
	// ErrChecksumMismatch means the stored record cannot be trusted.
	ErrChecksumMismatch = errors.New("calibration: checksum mismatch")
	// ErrInvalidRecord means the record breaks min <= mid <= max.
	ErrInvalidRecord = errors.New("calibration: invalid record")
)

// Range is one channel's calibrated extents, in timer ticks.
type Range struct {
	Min uint16 `json:"min"`
	Max uint16 `json:"max"`
	Mid uint16 `json:"mid"`
}

// Record is the persisted calibration for both channels.
type Record struct {
	Channels     [2]Range `json:"channels"`
	ThrottleLow  uint16   `json:"throttle_low"`
	ThrottleHigh uint16   `json:"throttle_high"`
}

// NewRecord builds a record from the two channel ranges and derives the
// throttle thresholds from channel 0.
func NewRecord(ch0, ch1 Range) Record {
	r := Record{Channels: [2]Range{ch0, ch1}}
	span := ch0.Max - ch0.Min
	if ch0.Max < ch0.Min {
		span = 0
	}
	r.ThrottleLow = ch0.Min + span/16
	r.ThrottleHigh = ch0.Max - span/16
	return r
}

// Validate checks min <= mid <= max on both channels.
func (r Record) Validate() error {
	for i, ch := range r.Channels {
		if ch.Min > ch.Mid || ch.Mid > ch.Max {
			return fmt.Errorf("%w: channel %d min=%d mid=%d max=%d", ErrInvalidRecord, i, ch.Min, ch.Mid, ch.Max)
		}
	}
	return nil
}

// MarshalBinary encodes the record as eight little-endian uint16:
// ch0 min, max, mid, ch1 min, max, mid, throttle low, throttle high.
func (r Record) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	words := [8]uint16{
		r.Channels[0].Min, r.Channels[0].Max, r.Channels[0].Mid,
		r.Channels[1].Min, r.Channels[1].Max, r.Channels[1].Mid,
		r.ThrottleLow, r.ThrottleHigh,
	}
	for i, w := range words {
		binary.LittleEndian.PutUint16(b[i*2:], w)
	}
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) < RecordSize {
		return fmt.Errorf("calibration: short record: %d bytes", len(b))
	}
	var w [8]uint16
	for i := range w {
		w[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	*r = Record{
		Channels: [2]Range{
			{Min: w[0], Max: w[1], Mid: w[2]},
			{Min: w[3], Max: w[4], Mid: w[5]},
		},
		ThrottleLow:  w[6],
		ThrottleHigh: w[7],
	}
	return nil
}

// Checksum returns the seed plus the sum of b, modulo 256.
func Checksum(b []byte) byte {
	sum := byte(ChecksumSeed)
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode returns the stored image of r: record bytes then checksum.
func Encode(r Record) [ImageSize]byte {
	var img [ImageSize]byte
	b, _ := r.MarshalBinary()
	copy(img[:], b)
	img[RecordSize] = Checksum(b)
	return img
}

// Decode verifies the checksum of a stored image and decodes it. A mismatch
// returns ErrChecksumMismatch; a record whose ranges are out of order returns
// ErrInvalidRecord.
func Decode(img []byte) (Record, error) {
	if len(img) < ImageSize {
		return Record{}, fmt.Errorf("calibration: short image: %d bytes", len(img))
	}
	if got, want := img[RecordSize], Checksum(img[:RecordSize]); got != want {
		return Record{}, fmt.Errorf("%w: stored 0x%02x, computed 0x%02x", ErrChecksumMismatch, got, want)
	}
	var r Record
	if err := r.UnmarshalBinary(img[:RecordSize]); err != nil {
		return Record{}, err
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}
