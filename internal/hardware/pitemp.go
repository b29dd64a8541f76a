package hardware

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// HostTempPath is the Raspberry Pi SoC thermal zone. The SoC throttles its
// clock when hot, which shows up as output jitter on GPIO boards.
const HostTempPath = "/sys/class/thermal/thermal_zone0/temp"

// ReadHostTemp reads a sysfs thermal zone file and returns degrees Celsius.
func ReadHostTemp(path string) (float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("pitemp: read %s: %w", path, err)
	}
	millideg, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pitemp: parse: %w", err)
	}
	return float32(millideg) / 1000.0, nil
}

// RunHostTemp reads path every interval and passes each reading to fn until
// ctx is cancelled.
func RunHostTemp(ctx context.Context, path string, interval time.Duration, fn func(float32)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tempC, err := ReadHostTemp(path)
			if err != nil {
				// Not fatal: the thermal zone does not exist off the Pi
				continue
			}
			fn(tempC)
		}
	}
}
