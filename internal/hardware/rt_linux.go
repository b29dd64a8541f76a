//go:build linux

package hardware

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// TuneRealtime pins the process to cpu and locks its memory so page faults do
// not land inside an edge handler. A negative cpu leaves affinity alone.
func TuneRealtime(cpu int) error {
	if cpu >= 0 {
		var set unix.CPUSet
		set.Zero()
		set.Set(cpu)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return fmt.Errorf("rt: set affinity to cpu %d: %w", cpu, err)
		}
	}
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("rt: mlockall: %w", err)
	}
	slog.Info("rt: process tuned", "cpu", cpu)
	return nil
}
