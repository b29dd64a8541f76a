// Command pulsemix is the two-channel pulse-width mixer daemon.
// Run with --mock to use the simulated board (no GPIO lines required).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/profile"

	"github.com/micro-nova/pulsemix/internal/api"
	"github.com/micro-nova/pulsemix/internal/auth"
	"github.com/micro-nova/pulsemix/internal/calibration"
	"github.com/micro-nova/pulsemix/internal/config"
	"github.com/micro-nova/pulsemix/internal/engine"
	"github.com/micro-nova/pulsemix/internal/events"
	"github.com/micro-nova/pulsemix/internal/hardware"
	"github.com/micro-nova/pulsemix/internal/identity"
	"github.com/micro-nova/pulsemix/internal/maintenance"
	"github.com/micro-nova/pulsemix/internal/models"
	"github.com/micro-nova/pulsemix/internal/telemetry"
	"github.com/micro-nova/pulsemix/internal/zeroconf"
)

const (
	statusInterval = 250 * time.Millisecond
	tempInterval   = 10 * time.Second
)

func main() {
	var (
		mock      = flag.Bool("mock", false, "use the simulated board (no GPIO lines required)")
		addr      = flag.String("addr", "", "HTTP listen address (overrides settings)")
		dataDir   = flag.String("data-dir", "", "data directory (default: ~/.config/pulsemix)")
		cfgPath   = flag.String("config", "", "settings file (default: <data-dir>/"+config.FileName+")")
		debug     = flag.Bool("debug", false, "enable debug logging")
		prof      = flag.String("profile", "", "write a cpu or mem profile to the data directory")
		calibrate = flag.Bool("calibrate", false, "enter calibration without the jumper")
		rtCPU     = flag.Int("rt-cpu", -1, "pin the process to this CPU (overrides settings when >= 0)")
		newKey    = flag.String("new-api-key", "", "generate an API key with this name, print it and exit")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve data directory
	if *dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*dataDir = filepath.Join(home, ".config", "pulsemix")
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		slog.Error("cannot create data directory", "path", *dataDir, "err", err)
		os.Exit(1)
	}
	if *cfgPath == "" {
		*cfgPath = filepath.Join(*dataDir, config.FileName)
	}

	// Auth service
	authSvc, err := auth.NewService(*dataDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()
	if *newKey != "" {
		k, err := authSvc.AddKey(*newKey)
		if err != nil {
			slog.Error("cannot add API key", "err", err)
			os.Exit(1)
		}
		fmt.Println(k.Key)
		return
	}

	switch *prof {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*dataDir), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(*dataDir), profile.NoShutdownHook).Stop()
	default:
		slog.Error("unknown profile kind", "profile", *prof)
		os.Exit(2)
	}

	// Settings
	store := config.NewYAMLStore(*cfgPath)
	settings, err := store.Load()
	if err != nil {
		slog.Error("settings rejected", "path", *cfgPath, "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		settings.HTTP.Addr = *addr
	}
	if *rtCPU >= 0 {
		settings.Board.RealtimeCPU = *rtCPU
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	id := identity.Current(*dataDir)

	// Board
	eepromPath := settings.Board.EEPROM
	if !filepath.IsAbs(eepromPath) {
		eepromPath = filepath.Join(*dataDir, eepromPath)
	}
	var board hardware.Board
	var sim *hardware.Mock
	if *mock {
		slog.Info("using simulated board")
		sim = hardware.NewMock()
		board = sim
	} else {
		slog.Info("using GPIO board", "chip", settings.Board.Chip)
		board, err = newGPIOBoard(settings, eepromPath)
		if err != nil {
			slog.Error("board unavailable", "err", err)
			os.Exit(1)
		}
	}
	if err := board.Init(ctx); err != nil {
		slog.Error("hardware initialization failed", "err", err)
		os.Exit(1)
	}
	defer board.Close()

	hwProfile := hardware.Detect(board)
	slog.Info("hardware profile", "board", hwProfile.String(), "tick_rate", settings.Timing.TickRate)

	if board.IsReal() {
		if err := tuneRealtime(settings.Board.RealtimeCPU); err != nil {
			slog.Warn("realtime tuning failed, continuing", "err", err)
		}
	}

	// Telemetry
	var sinks []telemetry.Sink
	if f := settings.Telemetry.File; f != "" {
		if !filepath.IsAbs(f) {
			f = filepath.Join(*dataDir, f)
		}
		sink, err := telemetry.NewFileSink(f)
		if err != nil {
			slog.Warn("telemetry file unavailable", "err", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if port := settings.Telemetry.Serial; port != "" {
		sink, err := telemetry.NewSerialSink(port, settings.Telemetry.Baud)
		if err != nil {
			slog.Warn("telemetry serial port unavailable", "err", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	var rec *telemetry.Recorder
	recDone := make(chan struct{})
	if len(sinks) > 0 {
		rec = telemetry.NewRecorder(id.Session, settings.Telemetry.Rate, settings.Telemetry.Burst, sinks...)
		go func() {
			rec.Run(ctx)
			close(recDone)
		}()
	} else {
		close(recDone)
	}

	// Engine
	bus := events.NewBus()
	opts := []engine.Option{engine.WithBus(bus), engine.WithRecorder(rec)}
	if *calibrate {
		opts = append(opts, engine.WithMode(engine.ModeCalibrating))
	}
	eng, err := engine.New(board, calibration.NewStore(board.EEPROM(), 0), *settings, opts...)
	if err != nil {
		slog.Error("engine initialization failed", "err", err)
		os.Exit(1)
	}
	mode := eng.SelectMode()

	if sim != nil {
		go sim.Run(ctx, settings.Timing.TickRate)
	}

	engDone := make(chan struct{})
	go func() {
		defer close(engDone)
		err := eng.Run(ctx)
		switch {
		case err != nil:
			slog.Error("engine stopped, outputs inert until restart", "err", err)
		case eng.Done():
			slog.Info("calibration stored; remove the jumper and restart")
		}
	}()

	// Maintenance goroutines (status snapshots, host temperature, image watch, backups)
	mcfg := maintenance.Config{
		DataDir:        *dataDir,
		BackupFiles:    []string{*cfgPath, eepromPath, filepath.Join(*dataDir, auth.KeysFileName)},
		StatusInterval: statusInterval,
	}
	if board.IsReal() {
		mcfg.ImagePath = eepromPath
		mcfg.TempPath = hardware.HostTempPath
		mcfg.TempInterval = tempInterval
	}
	maint := maintenance.New(mcfg, maintenance.Hooks{
		Snapshot: func() { eng.Snapshot() },
		Reload:   eng.Reload,
		HostTemp: eng.SetHostTemp,
	})
	go maint.Start(ctx)

	// Zeroconf mDNS registration
	if settings.HTTP.Advertise {
		port := 80
		if _, p, err := net.SplitHostPort(settings.HTTP.Addr); err == nil {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		zc := zeroconf.New(id.Hostname, port, "version="+id.Version, "mode="+mode.String(), "board="+hwProfile.Kind.String())
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	// HTTP server
	router := api.NewRouter(api.Deps{
		Engine:   eng,
		Bus:      bus,
		Settings: store,
		Backups:  maint,
		Auth:     authSvc,
		Info: models.Info{
			Hostname: id.Hostname,
			Version:  id.Version,
			Session:  id.Session,
			Board:    hwProfile.String(),
			Started:  time.Now(),
		},
	})
	srv := &http.Server{
		Addr:         settings.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("pulsemix listening", "addr", settings.HTTP.Addr, "mock", *mock, "mode", mode, "data", *dataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()

	<-engDone
	<-recDone

	// Flush pending settings writes
	if err := store.Flush(); err != nil {
		slog.Warn("failed to flush settings", "err", err)
	}

	// Graceful HTTP shutdown
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}
