package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/vehicle-security/internal/security"
)

// ReadTemperature reads a DS18B20 probe over the 1-Wire sysfs interface and
// returns degrees Celsius.
func (c *Controller) ReadTemperature() (float64, error) {
	if c.cfg.ThermalGlob == "" {
		return 0, security.ErrHardwareUnavailable
	}
	matches, err := filepath.Glob(c.cfg.ThermalGlob)
	if err != nil {
		return 0, fmt.Errorf("bad thermal glob %q: %w", c.cfg.ThermalGlob, err)
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("%w: no thermal probe at %s", security.ErrHardwareUnavailable, c.cfg.ThermalGlob)
	}

	var lastErr error
	for attempt := 0; attempt < tempRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(c.tempRetryDelay)
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			return 0, fmt.Errorf("%w: thermal probe: %v", security.ErrSensorRead, err)
		}
		celsius, err := parseW1Slave(string(data))
		if err == nil {
			return celsius, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%w: thermal probe: %v", security.ErrSensorRead, lastErr)
}

// parseW1Slave parses the two line w1_slave format. The first line ends in
// YES when the CRC matched, the second carries t=<millidegrees>.
func parseW1Slave(raw string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("short read: %q", raw)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("crc mismatch")
	}
	idx := strings.Index(lines[1], "t=")
	if idx < 0 {
		return 0, fmt.Errorf("missing temperature field")
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][idx+2:]))
	if err != nil {
		return 0, fmt.Errorf("bad temperature %q: %w", lines[1][idx+2:], err)
	}
	return float64(milli) / 1000.0, nil
}
