package calibration

import (
	"fmt"
	"log/slog"

	"github.com/micro-nova/pulsemix/internal/nvstore"
)

// Store reads and writes the calibration image at a fixed device offset.
type Store struct {
	dev    nvstore.Device
	offset int64
}

// NewStore returns a Store for the image at offset on dev.
func NewStore(dev nvstore.Device, offset int64) *Store {
	return &Store{dev: dev, offset: offset}
}

// Load reads and verifies the stored record.
func (s *Store) Load() (Record, error) {
	img := make([]byte, ImageSize)
	if _, err := s.dev.ReadAt(img, s.offset); err != nil {
		return Record{}, fmt.Errorf("calibration: read image: %w", err)
	}
	return Decode(img)
}

// Save writes r and its checksum.
func (s *Store) Save(r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	img := Encode(r)
	if _, err := s.dev.WriteAt(img[:], s.offset); err != nil {
		return fmt.Errorf("calibration: write image: %w", err)
	}
	slog.Info("calibration: record saved",
		"ch0_min", r.Channels[0].Min, "ch0_mid", r.Channels[0].Mid, "ch0_max", r.Channels[0].Max,
		"ch1_min", r.Channels[1].Min, "ch1_mid", r.Channels[1].Mid, "ch1_max", r.Channels[1].Max,
		"throttle_low", r.ThrottleLow, "throttle_high", r.ThrottleHigh)
	return nil
}
