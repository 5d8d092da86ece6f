// internal/camera/recorder.go
package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/metrics"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// recorder writes JPEG frames into a video file and hands the finished
// file to the archiver.
type recorder struct {
	path     string
	cfg      config.RecordingConfig
	archiver Archiver
	logger   *zap.Logger

	mu     sync.Mutex
	writer *gocv.VideoWriter
	frames int
	closed bool
}

func newRecorder(name string, cfg config.RecordingConfig, archiver Archiver, logger *zap.Logger) (*recorder, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	return &recorder{
		path:     filepath.Join(cfg.OutputDir, name+cfg.Extension),
		cfg:      cfg,
		archiver: archiver,
		logger:   logger,
	}, nil
}

func (r *recorder) WriteFrame(f security.Frame) error {
	img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("decode frame: empty image")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recording %s is closed", r.path)
	}
	if r.writer == nil {
		w, err := gocv.VideoWriterFile(r.path, r.cfg.Codec, float64(r.cfg.FPS), img.Cols(), img.Rows(), true)
		if err != nil {
			return fmt.Errorf("failed to create video writer: %w", err)
		}
		r.writer = w
		r.logger.Info("Recording started",
			zap.String("path", r.path),
			zap.Int("width", img.Cols()),
			zap.Int("height", img.Rows()))
	}
	if err := r.writer.Write(img); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	r.frames++
	metrics.FramesRecorded.Inc()
	return nil
}

// Close finalizes the file. Recordings without frames leave nothing behind.
func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.writer == nil {
		return nil
	}
	if err := r.writer.Close(); err != nil {
		return fmt.Errorf("failed to close recording %s: %w", r.path, err)
	}

	r.logger.Info("Recording saved", zap.String("path", r.path), zap.Int("frames", r.frames))
	if r.archiver != nil {
		r.archiver.Enqueue(r.path)
	}
	return nil
}
