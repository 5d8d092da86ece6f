package hardware

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

const (
	exportWait     = 500 * time.Millisecond
	exportPoll     = 10 * time.Millisecond
	tempRetries    = 3
	tempRetryDelay = 200 * time.Millisecond
)

// Controller drives the sensors and the status LED through the sysfs GPIO
// interface. It implements security.SensorPort and security.Thermometer.
type Controller struct {
	cfg    config.HardwareConfig
	logger *zap.Logger

	mu       sync.Mutex
	ledOn    bool
	ledKnown bool

	flashStop chan struct{}
	flashDone chan struct{}

	tempRetryDelay time.Duration
}

// Open exports every configured pin and sets its direction. Negative pin
// numbers are treated as not wired.
func Open(cfg config.HardwareConfig, logger *zap.Logger) (*Controller, error) {
	if logger == nil {
		logger = zap.L()
	}
	if err := unix.Access(cfg.GPIORoot, unix.W_OK); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", security.ErrHardwareUnavailable, cfg.GPIORoot, err)
	}

	c := &Controller{
		cfg:            cfg,
		logger:         logger.Named("gpio"),
		tempRetryDelay: tempRetryDelay,
	}

	for _, pin := range []int{cfg.PanicPin, cfg.ShockPin, cfg.NoisePin, cfg.MotionPin} {
		if pin < 0 {
			continue
		}
		if err := c.setup(pin, "in"); err != nil {
			return nil, err
		}
	}
	if cfg.LEDPin >= 0 {
		if err := c.setup(cfg.LEDPin, "out"); err != nil {
			return nil, err
		}
	}

	c.logger.Info("GPIO initialized",
		zap.String("root", cfg.GPIORoot),
		zap.Int("panic_pin", cfg.PanicPin),
		zap.Int("shock_pin", cfg.ShockPin),
		zap.Int("noise_pin", cfg.NoisePin),
		zap.Int("motion_pin", cfg.MotionPin),
		zap.Int("led_pin", cfg.LEDPin))
	return c, nil
}

func (c *Controller) pinDir(pin int) string {
	return filepath.Join(c.cfg.GPIORoot, "gpio"+strconv.Itoa(pin))
}

func (c *Controller) setup(pin int, direction string) error {
	dir := c.pinDir(pin)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		exportPath := filepath.Join(c.cfg.GPIORoot, "export")
		if err := os.WriteFile(exportPath, []byte(strconv.Itoa(pin)), 0o644); err != nil {
			return fmt.Errorf("%w: export gpio%d: %v", security.ErrHardwareUnavailable, pin, err)
		}
		// udev applies permissions asynchronously after export
		deadline := time.Now().Add(exportWait)
		for {
			if _, err := os.Stat(filepath.Join(dir, "direction")); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: gpio%d did not appear after export", security.ErrHardwareUnavailable, pin)
			}
			time.Sleep(exportPoll)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte(direction), 0o644); err != nil {
		return fmt.Errorf("%w: set gpio%d direction: %v", security.ErrHardwareUnavailable, pin, err)
	}
	return nil
}

func (c *Controller) readPin(pin int) (bool, error) {
	if pin < 0 {
		return false, nil
	}
	data, err := os.ReadFile(filepath.Join(c.pinDir(pin), "value"))
	if err != nil {
		return false, fmt.Errorf("%w: gpio%d: %v", security.ErrSensorRead, pin, err)
	}
	var high bool
	switch strings.TrimSpace(string(data)) {
	case "1":
		high = true
	case "0":
	default:
		return false, fmt.Errorf("%w: gpio%d: unexpected value %q", security.ErrSensorRead, pin, data)
	}
	if c.cfg.ActiveLow {
		return !high, nil
	}
	return high, nil
}

func (c *Controller) ReadMotion() (bool, error)      { return c.readPin(c.cfg.MotionPin) }
func (c *Controller) ReadNoise() (bool, error)       { return c.readPin(c.cfg.NoisePin) }
func (c *Controller) ReadPanicButton() (bool, error) { return c.readPin(c.cfg.PanicPin) }
func (c *Controller) ReadShockSensor() (bool, error) { return c.readPin(c.cfg.ShockPin) }

func (c *Controller) writeLEDLocked(on bool) error {
	if c.cfg.LEDPin < 0 {
		return nil
	}
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := os.WriteFile(filepath.Join(c.pinDir(c.cfg.LEDPin), "value"), v, 0o644); err != nil {
		c.ledKnown = false
		return fmt.Errorf("failed to write status LED: %w", err)
	}
	c.ledOn, c.ledKnown = on, true
	return nil
}

// SetStatusLED writes the LED only when the requested state differs from
// the last written one.
func (c *Controller) SetStatusLED(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ledKnown && c.ledOn == on {
		return nil
	}
	return c.writeLEDLocked(on)
}

// FlashStatusLED blinks the LED and leaves it off.
func (c *Controller) FlashStatusLED(times int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < times; i++ {
		if err := c.writeLEDLocked(true); err != nil {
			return err
		}
		time.Sleep(c.cfg.FlashInterval)
		if err := c.writeLEDLocked(false); err != nil {
			return err
		}
		time.Sleep(c.cfg.FlashInterval)
	}
	return nil
}

// StartContinuousFlash toggles the LED until StopContinuousFlash. Calling
// it while already flashing is a no-op.
func (c *Controller) StartContinuousFlash() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flashStop != nil {
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	c.flashStop, c.flashDone = stop, done
	go c.flashLoop(stop, done)
	return nil
}

func (c *Controller) flashLoop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.ContinuousFlashInterval)
	defer ticker.Stop()

	on := false
	for {
		c.mu.Lock()
		on = !on
		err := c.writeLEDLocked(on)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("Continuous flash write failed", zap.Error(err))
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// StopContinuousFlash stops the flash loop and turns the LED off.
func (c *Controller) StopContinuousFlash() error {
	c.mu.Lock()
	stop, done := c.flashStop, c.flashDone
	c.flashStop, c.flashDone = nil, nil
	c.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLEDLocked(false)
}

// Close stops flashing and leaves the LED off. Pins stay exported.
func (c *Controller) Close() error {
	if err := c.StopContinuousFlash(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLEDLocked(false)
}
