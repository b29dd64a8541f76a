package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestStatusTicker(t *testing.T) {
	var n atomic.Int32
	svc := New(Config{StatusInterval: 5 * time.Millisecond}, Hooks{Snapshot: func() { n.Add(1) }})
	startService(t, svc)
	waitFor(t, "three snapshots", func() bool { return n.Load() >= 3 })
}

func TestHostTemp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp")
	if err := os.WriteFile(path, []byte("51250\n"), 0644); err != nil {
		t.Fatal(err)
	}
	var got atomic.Value
	svc := New(Config{TempPath: path, TempInterval: 5 * time.Millisecond},
		Hooks{HostTemp: func(c float32) { got.Store(c) }})
	startService(t, svc)
	waitFor(t, "a reading", func() bool { return got.Load() != nil })
	if c := got.Load().(float32); c != 51.25 {
		t.Errorf("temp = %v; want 51.25", c)
	}
}

func TestHostTempMissingSensor(t *testing.T) {
	called := make(chan struct{}, 1)
	svc := New(Config{TempPath: filepath.Join(t.TempDir(), "none"), TempInterval: time.Millisecond},
		Hooks{HostTemp: func(float32) { called <- struct{}{} }})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	svc.Start(ctx)
	select {
	case <-called:
		t.Error("callback fired without a sensor")
	default:
	}
}

func TestImageWatchReloads(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "eeprom.bin")
	if err := os.WriteFile(image, make([]byte, 512), 0644); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	svc := New(Config{ImagePath: image}, Hooks{Reload: func(context.Context) error {
		reloads.Add(1)
		return nil
	}})
	startService(t, svc)

	// Give the watcher time to register, then write a burst.
	time.Sleep(100 * time.Millisecond)
	for i := range 3 {
		if err := os.WriteFile(image, []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, "a reload", func() bool { return reloads.Load() >= 1 })
	time.Sleep(2 * reloadDebounce)
	if n := reloads.Load(); n != 1 {
		t.Errorf("reloads = %d; want 1 for a burst of writes", n)
	}

	// Other files in the directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * reloadDebounce)
	if n := reloads.Load(); n != 1 {
		t.Errorf("reloads = %d after unrelated write; want 1", n)
	}
}

func TestImageWatchReloadErrorIsLogged(t *testing.T) {
	image := filepath.Join(t.TempDir(), "eeprom.bin")
	var calls atomic.Int32
	svc := New(Config{ImagePath: image}, Hooks{Reload: func(context.Context) error {
		calls.Add(1)
		return errors.New("checksum mismatch")
	}})
	startService(t, svc)
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(image, []byte{1}, 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "a reload attempt", func() bool { return calls.Load() >= 1 })
}

func TestBackup_CreatesArchive(t *testing.T) {
	src := t.TempDir()
	settings := filepath.Join(src, "pulsemix.yaml")
	image := filepath.Join(src, "eeprom.bin")
	if err := os.WriteFile(settings, []byte("timing:\n  margin: 50\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(image, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}

	data := t.TempDir()
	svc := New(Config{DataDir: data, BackupFiles: []string{settings, image, filepath.Join(src, "missing")}}, Hooks{})
	svc.now = func() time.Time { return time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC) }

	file, err := svc.RunBackupNow()
	if err != nil {
		t.Fatalf("RunBackupNow: %v", err)
	}
	if want := filepath.Join(data, "backups", "pulsemix-2026-05-04.tar.gz"); file != want {
		t.Errorf("file = %q; want %q", file, want)
	}

	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "eeprom.bin" || names[1] != "pulsemix.yaml" {
		t.Errorf("archive entries = %v; want [eeprom.bin pulsemix.yaml]", names)
	}
}

// TestBackup_DeletesOld verifies that pruneOldBackups removes files older than maxAge.
func TestBackup_DeletesOld(t *testing.T) {
	dir := t.TempDir()

	newFile := filepath.Join(dir, "pulsemix-2099-01-01.tar.gz")
	if err := os.WriteFile(newFile, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}

	oldFile := filepath.Join(dir, "pulsemix-2000-01-01.tar.gz")
	if err := os.WriteFile(oldFile, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	pastTime := time.Now().Add(-100 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, pastTime, pastTime); err != nil {
		t.Fatal(err)
	}

	pruneOldBackups(dir, 90*24*time.Hour)

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Errorf("old backup %q still exists after pruning", oldFile)
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Errorf("new backup %q was incorrectly pruned: %v", newFile, err)
	}
}

func TestListBackups(t *testing.T) {
	data := t.TempDir()
	svc := New(Config{DataDir: data}, Hooks{})

	files, err := svc.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups before any backup: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("ListBackups = %v; want empty", files)
	}

	if err := os.MkdirAll(svc.BackupDir(), 0755); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{
		"pulsemix-2024-06-15.tar.gz",
		"pulsemix-2024-01-01.tar.gz",
		"other-file.txt",
	} {
		if err := os.WriteFile(filepath.Join(svc.BackupDir(), n), []byte{}, 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err = svc.ListBackups()
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "pulsemix-2024-01-01.tar.gz" {
		t.Errorf("ListBackups = %v; want the two archives, oldest first", files)
	}
}
