// Package maintenance runs the daemon's background housekeeping: periodic
// status snapshots, host temperature sampling, reloading the calibration
// image when it changes on disk, and daily backups of the data directory.
package maintenance

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/micro-nova/pulsemix/internal/hardware"
	"github.com/micro-nova/pulsemix/internal/nvstore"
)

const (
	backupPrefix = "pulsemix-"
	backupSuffix = ".tar.gz"
	backupMaxAge = 90 * 24 * time.Hour

	reloadDebounce = 200 * time.Millisecond
	reloadTimeout  = 2 * time.Second
)

// Config selects which tasks run. Zero intervals and empty paths disable the
// corresponding task.
type Config struct {
	DataDir        string   // backups are written to DataDir/backups
	BackupFiles    []string // files included in each backup
	ImagePath      string   // calibration image watched for changes
	TempPath       string   // thermal zone file
	StatusInterval time.Duration
	TempInterval   time.Duration
}

// Hooks connect the service to the engine.
type Hooks struct {
	Snapshot func()
	Reload   func(ctx context.Context) error
	HostTemp func(c float32)
}

// Service manages background maintenance goroutines.
type Service struct {
	cfg   Config
	hooks Hooks
	now   func() time.Time
}

// New creates a new maintenance Service.
func New(cfg Config, hooks Hooks) *Service {
	return &Service{cfg: cfg, hooks: hooks, now: time.Now}
}

// Start launches all background maintenance goroutines.
// Blocks until ctx is cancelled; all goroutines respect the context.
func (s *Service) Start(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	if s.cfg.StatusInterval > 0 && s.hooks.Snapshot != nil {
		run(s.runStatus)
	}
	if s.cfg.TempPath != "" && s.cfg.TempInterval > 0 && s.hooks.HostTemp != nil {
		run(s.runHostTemp)
	}
	if s.cfg.ImagePath != "" && s.hooks.Reload != nil {
		run(s.runImageWatch)
	}
	if s.cfg.DataDir != "" && len(s.cfg.BackupFiles) > 0 {
		run(s.runBackup)
	}

	<-ctx.Done()
	wg.Wait()
}

func (s *Service) runStatus(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hooks.Snapshot()
		}
	}
}

func (s *Service) runHostTemp(ctx context.Context) {
	if _, err := hardware.ReadHostTemp(s.cfg.TempPath); err != nil {
		slog.Debug("maintenance: host temperature unavailable", "path", s.cfg.TempPath, "err", err)
		return
	}
	hardware.RunHostTemp(ctx, s.cfg.TempPath, s.cfg.TempInterval, s.hooks.HostTemp)
}

// runImageWatch reloads the calibration record after the image file settles.
func (s *Service) runImageWatch(ctx context.Context) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		rctx, cancel := context.WithTimeout(ctx, reloadTimeout)
		defer cancel()
		if err := s.hooks.Reload(rctx); err != nil {
			slog.Warn("maintenance: calibration reload failed", "path", s.cfg.ImagePath, "err", err)
			return
		}
		slog.Info("maintenance: calibration image reloaded", "path", s.cfg.ImagePath)
	}
	err := nvstore.Watch(ctx, s.cfg.ImagePath, func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, reload)
	})
	mu.Lock()
	if timer != nil {
		timer.Stop()
	}
	mu.Unlock()
	if err != nil {
		slog.Warn("maintenance: image watch stopped", "err", err)
	}
}

// runBackup performs daily backups at 2am.
func (s *Service) runBackup(ctx context.Context) {
	for {
		now := s.now()
		next2am := time.Date(now.Year(), now.Month(), now.Day(), 2, 0, 0, 0, now.Location())
		if !next2am.After(now) {
			next2am = next2am.Add(24 * time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(next2am.Sub(now)):
			path, err := s.RunBackupNow()
			if err != nil {
				slog.Error("maintenance: backup failed", "err", err)
			} else {
				slog.Info("maintenance: backup created", "file", path)
			}
		}
	}
}

// BackupDir is where backups are written.
func (s *Service) BackupDir() string {
	return filepath.Join(s.cfg.DataDir, "backups")
}

// RunBackupNow archives the configured files and returns the archive path.
// Missing files are skipped.
func (s *Service) RunBackupNow() (string, error) {
	dir := s.BackupDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	dest := filepath.Join(dir, backupPrefix+s.now().Format("2006-01-02")+backupSuffix)
	if err := writeArchive(dest, s.cfg.BackupFiles); err != nil {
		return "", err
	}
	pruneOldBackups(dir, backupMaxAge)
	return dest, nil
}

// ListBackups returns available backup files sorted by name (newest last).
func (s *Service) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(s.BackupDir())
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		if isBackup(e) {
			files = append(files, filepath.Join(s.BackupDir(), e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBackup(e os.DirEntry) bool {
	return !e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), backupSuffix)
}

func writeArchive(dest string, files []string) (err error) {
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, path := range files {
		if err := addFile(tw, path); err != nil {
			if os.IsNotExist(err) {
				slog.Debug("maintenance: backup skipping missing file", "file", path)
				continue
			}
			return fmt.Errorf("archive %s: %w", path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return os.Rename(tmp, dest)
}

func addFile(tw *tar.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, src)
	return err
}

// pruneOldBackups deletes backup files older than maxAge from backupDir.
func pruneOldBackups(backupDir string, maxAge time.Duration) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !isBackup(e) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(backupDir, e.Name())
			if err := os.Remove(path); err != nil {
				slog.Warn("maintenance: failed to prune old backup", "file", path, "err", err)
			} else {
				slog.Info("maintenance: pruned old backup", "file", path)
			}
		}
	}
}
