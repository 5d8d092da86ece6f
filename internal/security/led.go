package security

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// maxLEDQueue bounds the pending operations while a hardware call is stuck.
const maxLEDQueue = 8

// ledController serializes status LED side effects on its own goroutine
// so no hardware call happens under the machine lock. After every queued
// operation the LED is recomputed from the current flags, which keeps the
// final LED state in line with the final flags regardless of ordering.
type ledController struct {
	port   SensorPort
	flags  func() SecurityConfig
	logger *zap.Logger

	mu      sync.Mutex
	queue   []int // flash counts, 0 is a plain refresh
	dropped int
	closing bool

	wake chan struct{}
	done chan struct{}

	// owned by the worker goroutine
	flashing bool
}

func newLEDController(port SensorPort, flags func() SecurityConfig, logger *zap.Logger) *ledController {
	c := &ledController{
		port:   port,
		flags:  flags,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

// flash queues a flash pattern followed by a refresh.
func (c *ledController) flash(times int) {
	c.enqueue(times)
}

// refresh queues a recompute of the LED from the current flags.
func (c *ledController) refresh() {
	c.enqueue(0)
}

func (c *ledController) enqueue(op int) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	switch {
	case op == 0 && len(c.queue) > 0 && c.queue[len(c.queue)-1] == 0:
		// back to back refreshes collapse into one
	case len(c.queue) >= maxLEDQueue:
		// a full queue drops flash patterns; the trailing refresh still
		// brings the LED in line with the flags
		c.queue[len(c.queue)-1] = 0
		c.dropped++
	default:
		c.queue = append(c.queue, op)
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// close drains pending operations and stops the worker. It gives up when
// ctx is done, leaving a stuck hardware call behind.
func (c *ledController) close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closing {
		c.closing = true
		if c.dropped > 0 {
			c.logger.Warn("Status LED operations dropped", zap.Int("count", c.dropped))
		}
	}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ledController) run() {
	defer close(c.done)
	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				closing := c.closing
				c.mu.Unlock()
				if closing {
					return
				}
				break
			}
			op := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if op > 0 {
				if c.flashing {
					c.call("stop continuous flash", c.port.StopContinuousFlash())
					c.flashing = false
				}
				c.call("flash status LED", c.port.FlashStatusLED(op))
			}
			c.apply(c.flags())
		}
	}
}

func (c *ledController) apply(flags SecurityConfig) {
	if flags.SystemBreached {
		if !c.flashing {
			c.call("start continuous flash", c.port.StartContinuousFlash())
			c.flashing = true
		}
		return
	}
	if c.flashing {
		c.call("stop continuous flash", c.port.StopContinuousFlash())
		c.flashing = false
	}
	c.call("set status LED", c.port.SetStatusLED(flags.SystemArmed))
}

func (c *ledController) call(op string, err error) {
	if err != nil {
		c.logger.Warn("Status LED operation failed", zap.String("op", op), zap.Error(err))
	}
}
