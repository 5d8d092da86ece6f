package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

var ErrUnknownCamera = errors.New("unknown camera")

// Archiver receives finished recordings.
type Archiver interface {
	Enqueue(path string)
}

// Cameras opens OpenCV backed cameras and recordings. It implements
// security.VideoPort.
type Cameras struct {
	cameras   map[string]config.CameraConfig
	motion    config.MotionConfig
	recording config.RecordingConfig
	archiver  Archiver
	logger    *zap.Logger

	mu      sync.Mutex
	devices map[string]*device
}

func New(cfg *config.Config, archiver Archiver, logger *zap.Logger) *Cameras {
	if logger == nil {
		logger = zap.L()
	}
	cams := make(map[string]config.CameraConfig, len(cfg.Cameras))
	for _, c := range cfg.Cameras {
		cams[c.ID] = c
	}
	return &Cameras{
		cameras:   cams,
		motion:    cfg.Motion,
		recording: cfg.Recording,
		archiver:  archiver,
		logger:    logger.Named("camera"),
		devices:   make(map[string]*device),
	}
}

// OpenCamera returns a handle with its own motion reference. Handles on
// the same camera share one capture device.
func (c *Cameras) OpenCamera(cameraID string) (security.Camera, error) {
	camCfg, ok := c.cameras[cameraID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCamera, cameraID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	dev, ok := c.devices[cameraID]
	if !ok {
		var err error
		dev, err = openDevice(camCfg, c.logger)
		if err != nil {
			return nil, err
		}
		c.devices[cameraID] = dev
	}
	dev.refs++

	return &handle{
		owner:    c,
		id:       cameraID,
		dev:      dev,
		detector: NewDetector(c.motion),
		quality:  c.motion.JPEGQuality,
	}, nil
}

func (c *Cameras) releaseDevice(id string, dev *device) error {
	c.mu.Lock()
	dev.refs--
	last := dev.refs <= 0
	if last && c.devices[id] == dev {
		delete(c.devices, id)
	}
	c.mu.Unlock()

	if last {
		return dev.release()
	}
	return nil
}

// NewRecording creates a recording in the configured output directory.
// The video writer is created lazily from the first frame's dimensions.
func (c *Cameras) NewRecording(name string) (security.RecordingSink, error) {
	return newRecorder(name, c.recording, c.archiver, c.logger)
}

// Close releases every open device.
func (c *Cameras) Close() error {
	c.mu.Lock()
	devs := c.devices
	c.devices = make(map[string]*device)
	c.mu.Unlock()

	var errs []error
	for _, dev := range devs {
		if err := dev.release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type handle struct {
	owner    *Cameras
	id       string
	dev      *device
	detector *Detector
	quality  int

	closeOnce sync.Once
}

func (h *handle) CaptureFrame(ctx context.Context) (security.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return security.Frame{}, false, err
	}

	img := gocv.NewMat()
	defer img.Close()
	if !h.dev.read(&img) {
		return security.Frame{}, false, fmt.Errorf("camera %s: no frame", h.id)
	}
	motion := h.detector.Detect(img)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, h.quality})
	if err != nil {
		return security.Frame{}, motion, fmt.Errorf("camera %s: jpeg encode: %w", h.id, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())

	return security.Frame{
		CameraID:   h.id,
		Data:       data,
		Width:      img.Cols(),
		Height:     img.Rows(),
		CapturedAt: time.Now(),
	}, motion, nil
}

func (h *handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.detector.Close()
		err = h.owner.releaseDevice(h.id, h.dev)
	})
	return err
}
