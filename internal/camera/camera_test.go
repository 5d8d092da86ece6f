package camera

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/metrics"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) Enqueue(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
}

func blankFrame(t *testing.T) gocv.Mat {
	t.Helper()
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 480, 640, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { img.Close() })
	return img
}

func frameWithBox(t *testing.T, r image.Rectangle) gocv.Mat {
	t.Helper()
	img := blankFrame(t)
	gocv.Rectangle(&img, r, color.RGBA{R: 255, G: 255, B: 255}, -1)
	return img
}

func TestDetector_FirstFrameIsReference(t *testing.T) {
	d := NewDetector(config.NewDefaultConfig().Motion)
	defer d.Close()

	assert.False(t, d.Detect(frameWithBox(t, image.Rect(100, 100, 300, 300))))
	assert.Equal(t, int64(0), d.Stats().FramesProcessed)
}

func TestDetector_StillSceneHasNoMotion(t *testing.T) {
	d := NewDetector(config.NewDefaultConfig().Motion)
	defer d.Close()

	require.False(t, d.Detect(blankFrame(t)))
	assert.False(t, d.Detect(blankFrame(t)))
	assert.False(t, d.Detect(blankFrame(t)))

	stats := d.Stats()
	assert.Equal(t, int64(2), stats.FramesProcessed)
	assert.Equal(t, int64(0), stats.MotionEvents)
}

func TestDetector_LargeChangeIsMotion(t *testing.T) {
	d := NewDetector(config.NewDefaultConfig().Motion)
	defer d.Close()

	require.False(t, d.Detect(blankFrame(t)))
	assert.True(t, d.Detect(frameWithBox(t, image.Rect(200, 150, 400, 350))))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats.MotionEvents)
	assert.Greater(t, stats.MaxMotionArea, 500.0)
	assert.False(t, stats.LastMotionTime.IsZero())
}

func TestDetector_SmallChangeIsIgnored(t *testing.T) {
	cfg := config.NewDefaultConfig().Motion
	cfg.MinArea = 50000
	d := NewDetector(cfg)
	defer d.Close()

	require.False(t, d.Detect(blankFrame(t)))
	assert.False(t, d.Detect(frameWithBox(t, image.Rect(300, 200, 310, 210))))
}

func TestDetector_ReferenceIsNeverUpdated(t *testing.T) {
	d := NewDetector(config.NewDefaultConfig().Motion)
	defer d.Close()

	moved := image.Rect(200, 150, 400, 350)
	require.False(t, d.Detect(blankFrame(t)))
	assert.True(t, d.Detect(frameWithBox(t, moved)))
	assert.True(t, d.Detect(frameWithBox(t, moved)))
}

func TestOpenCamera_Unknown(t *testing.T) {
	cams := New(config.NewDefaultConfig(), nil, zap.NewNop())
	defer cams.Close()

	_, err := cams.OpenCamera("rear")
	assert.ErrorIs(t, err, ErrUnknownCamera)
}

func framesRecorded(t *testing.T) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, metrics.FramesRecorded.Write(&pb))
	return pb.GetCounter().GetValue()
}

func recordingConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Recording.OutputDir = filepath.Join(t.TempDir(), "recordings")
	return cfg
}

func TestRecording_EmptyLeavesNoFile(t *testing.T) {
	cfg := recordingConfig(t)
	archiver := &fakeArchiver{}
	cams := New(cfg, archiver, zap.NewNop())

	rec, err := cams.NewRecording("breach_empty")
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	_, err = os.Stat(filepath.Join(cfg.Recording.OutputDir, "breach_empty.avi"))
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, archiver.paths)
}

func TestRecording_WritesAndArchives(t *testing.T) {
	cfg := recordingConfig(t)
	archiver := &fakeArchiver{}
	cams := New(cfg, archiver, zap.NewNop())

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frameWithBox(t, image.Rect(10, 10, 50, 50)))
	require.NoError(t, err)
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	framesBefore := framesRecorded(t)
	rec, err := cams.NewRecording("breach_test")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, rec.WriteFrame(security.Frame{CameraID: "0", Data: data, CapturedAt: time.Now()}))
	}
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())
	assert.Equal(t, framesBefore+5, framesRecorded(t))

	path := filepath.Join(cfg.Recording.OutputDir, "breach_test.avi")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, []string{path}, archiver.paths)

	assert.Error(t, rec.WriteFrame(security.Frame{Data: data}))
}

func TestRecording_RejectsGarbage(t *testing.T) {
	cams := New(recordingConfig(t), nil, zap.NewNop())

	rec, err := cams.NewRecording("breach_garbage")
	require.NoError(t, err)
	defer rec.Close()

	assert.Error(t, rec.WriteFrame(security.Frame{Data: []byte("not a jpeg")}))
}
