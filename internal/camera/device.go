package camera

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/vehicle-security/internal/config"
)

// device owns a single VideoCapture shared by every handle opened on the
// same camera. It is reference counted and released with the last handle.
type device struct {
	cfg    config.CameraConfig
	logger *zap.Logger

	mu      sync.Mutex
	capture *gocv.VideoCapture
	refs    int

	stats struct {
		totalFrames   atomic.Int64
		droppedFrames atomic.Int64
		lastFrameTime atomic.Value // time.Time
	}
}

func openDevice(cfg config.CameraConfig, logger *zap.Logger) (*device, error) {
	capture, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %s (%s): %w", cfg.ID, cfg.Device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("camera %s (%s) is not opened", cfg.ID, cfg.Device)
	}

	capture.Set(gocv.VideoCaptureBufferSize, 1)
	if cfg.Width > 0 && cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	logger.Info("Camera opened",
		zap.String("camera", cfg.ID),
		zap.String("device", cfg.Device),
		zap.Float64("width", capture.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", capture.Get(gocv.VideoCaptureFrameHeight)),
		zap.Float64("fps", capture.Get(gocv.VideoCaptureFPS)))

	d := &device{cfg: cfg, logger: logger, capture: capture}
	d.stats.lastFrameTime.Store(time.Time{})
	return d, nil
}

// read grabs the next frame into dst. It reports false when the device
// returned no frame.
func (d *device) read(dst *gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return false
	}
	if ok := d.capture.Read(dst); !ok || dst.Empty() {
		d.stats.droppedFrames.Add(1)
		return false
	}

	total := d.stats.totalFrames.Add(1)
	d.stats.lastFrameTime.Store(time.Now())
	if total%150 == 0 {
		d.logger.Debug("Camera stats",
			zap.String("camera", d.cfg.ID),
			zap.Int64("frames", total),
			zap.Int64("dropped", d.stats.droppedFrames.Load()))
	}
	return true
}

func (d *device) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capture == nil {
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	d.logger.Info("Camera released", zap.String("camera", d.cfg.ID))
	return err
}
