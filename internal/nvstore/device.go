// Package nvstore provides byte-addressed non-volatile storage devices: an
// image file on disk, an in-memory device for tests, and a watcher for image
// changes.
package nvstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Erased is the value of a never-written cell.
const Erased byte = 0xFF

// Device is a fixed-size byte-addressed store.
type Device interface {
	io.ReaderAt
	io.WriterAt
	// Size returns the device capacity in bytes.
	Size() int64
}

func checkRange(off int64, n int, size int64) error {
	if off < 0 || off+int64(n) > size {
		return fmt.Errorf("nvstore: access [%d,%d) outside device of %d bytes", off, off+int64(n), size)
	}
	return nil
}

// FileDevice keeps the device image in a file. A missing file reads as erased.
// Every write replaces the file atomically.
type FileDevice struct {
	mu   sync.Mutex
	path string
	size int64
}

// NewFileDevice returns a device of size bytes backed by path.
func NewFileDevice(path string, size int64) *FileDevice {
	return &FileDevice{path: path, size: size}
}

// Path returns the image file path.
func (d *FileDevice) Path() string { return d.path }

// Size returns the device capacity.
func (d *FileDevice) Size() int64 { return d.size }

// ReadAt reads len(p) bytes at off.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.image()
	if err != nil {
		return 0, err
	}
	return copy(p, img[off:]), nil
}

// WriteAt writes p at off and commits the whole image.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), d.size); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	img, err := d.image()
	if err != nil {
		return 0, err
	}
	n := copy(img[off:], p)
	if err := writeAtomic(d.path, img); err != nil {
		return 0, fmt.Errorf("nvstore: write %s: %w", d.path, err)
	}
	return n, nil
}

// image returns the full device contents, padding short or missing files
// with erased cells.
func (d *FileDevice) image() ([]byte, error) {
	img := make([]byte, d.size)
	for i := range img {
		img[i] = Erased
	}
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return img, nil
		}
		return nil, fmt.Errorf("nvstore: read %s: %w", d.path, err)
	}
	copy(img, data)
	return img, nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	// Write to temp file, then rename (atomic on Linux)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// MemDevice is an in-memory device for tests.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMemDevice returns an erased device of size bytes.
func NewMemDevice(size int) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = Erased
	}
	return &MemDevice{data: data}
}

// Size returns the device capacity.
func (m *MemDevice) Size() int64 { return int64(len(m.data)) }

// ReadAt reads len(p) bytes at off.
func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), m.Size()); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(p, m.data[off:]), nil
}

// WriteAt writes p at off.
func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(off, len(p), m.Size()); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return copy(m.data[off:], p), nil
}

// Corrupt flips every bit of the byte at off.
func (m *MemDevice) Corrupt(off int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[off] ^= 0xFF
}

var (
	_ Device = (*FileDevice)(nil)
	_ Device = (*MemDevice)(nil)
)
