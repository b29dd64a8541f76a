// Command pulsemix-log prints a telemetry stream recorded by pulsemix, from a
// file or live from the serial port. With --discover it lists daemons instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/micro-nova/pulsemix/internal/telemetry"
	"github.com/micro-nova/pulsemix/internal/zeroconf"
)

func main() {
	var (
		file    = flag.String("file", "", "telemetry file to read")
		port    = flag.String("serial", "", "serial port to read instead of a file")
		baud    = flag.Int("baud", 115200, "serial baud rate")
		kind    = flag.String("kind", "", "only events of this kind (frame, calibration, fault, mode)")
		session = flag.String("session", "", "only events from this session")
		since   = flag.String("since", "", "only events at or after this RFC 3339 time")
		until   = flag.String("until", "", "only events before this RFC 3339 time")
		debug   = flag.Bool("debug", false, "enable debug logging")
		browse  = flag.Duration("discover", 0, "list pulsemix daemons on the LAN for this long and exit")
	)
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if *browse > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), *browse)
		defer cancel()
		peers, err := zeroconf.Browse(ctx)
		if err != nil {
			slog.Error("discovery failed", "err", err)
			os.Exit(1)
		}
		for _, p := range peers {
			fmt.Printf("%s\t%s:%d\t%v\tmode=%s\n", p.Instance, p.Host, p.Port, p.Addrs, p.TXT["mode"])
		}
		return
	}

	filter, err := buildFilter(*kind, *session, *since, *until)
	if err != nil {
		slog.Error("bad filter", "err", err)
		os.Exit(2)
	}

	var src io.ReadCloser
	switch {
	case *port != "":
		src, err = telemetry.OpenSerial(*port, *baud)
	case *file != "":
		src, err = os.Open(*file)
	default:
		slog.Error("one of --file or --serial is required")
		os.Exit(2)
	}
	if err != nil {
		slog.Error("cannot open telemetry source", "err", err)
		os.Exit(1)
	}

	r := telemetry.NewFilteredReader(src, filter)
	defer r.Close()
	n := 0
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			slog.Error("telemetry stream ended", "events", n, "err", err)
			os.Exit(1)
		}
		fmt.Println(format(ev))
		n++
	}
	slog.Debug("done", "events", n)
}

func buildFilter(kind, session, since, until string) (telemetry.Filter, error) {
	f := telemetry.Filter{Session: session}
	if kind != "" {
		k, err := parseKind(kind)
		if err != nil {
			return f, err
		}
		f.Kind = &k
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, fmt.Errorf("--since: %w", err)
		}
		f.TimeStart = &t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return f, fmt.Errorf("--until: %w", err)
		}
		f.TimeEnd = &t
	}
	return f, nil
}

func parseKind(s string) (telemetry.Kind, error) {
	for _, k := range []telemetry.Kind{telemetry.KindFrame, telemetry.KindCalibration, telemetry.KindFault, telemetry.KindMode} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// format renders one event as a single line.
func format(ev telemetry.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-11s", ev.Seq, ev.Time.UTC().Format("15:04:05.000"), ev.Kind)
	switch ev.Kind {
	case telemetry.KindFrame:
		fmt.Fprintf(&b, " in=%d,%d out=%d,%d cycles=%d",
			ev.Inputs[0], ev.Inputs[1], ev.Outputs[0], ev.Outputs[1], ev.Cycles)
	case telemetry.KindCalibration:
		fmt.Fprintf(&b, " state=%s", ev.State)
		if len(ev.Ranges) == 6 {
			fmt.Fprintf(&b, " ch0=%d..%d/%d ch1=%d..%d/%d",
				ev.Ranges[0], ev.Ranges[1], ev.Ranges[2], ev.Ranges[3], ev.Ranges[4], ev.Ranges[5])
		}
	case telemetry.KindMode:
		fmt.Fprintf(&b, " mode=%s", ev.Mode)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, " err=%q", ev.Error)
	}
	return b.String()
}
