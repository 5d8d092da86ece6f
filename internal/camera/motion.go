package camera

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/mikeyg42/vehicle-security/internal/config"
)

// Detector compares frames against the first frame it saw. The reference
// is never updated, so anything that moved since the handle was opened
// keeps registering as motion.
type Detector struct {
	cfg config.MotionConfig

	mu        sync.Mutex
	reference gocv.Mat
	hasRef    bool
	kernel    gocv.Mat
	stats     MotionStats
}

type MotionStats struct {
	FramesProcessed int64
	MotionEvents    int64
	LastMotionTime  time.Time
	MaxMotionArea   float64
	ProcessingTime  time.Duration
}

func NewDetector(cfg config.MotionConfig) *Detector {
	return &Detector{
		cfg:    cfg,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 3, Y: 3}),
	}
}

// Detect reports whether frame differs from the reference by at least one
// contour of MinArea. The first call stores the reference and reports no
// motion.
func (d *Detector) Detect(frame gocv.Mat) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() { d.stats.ProcessingTime = time.Since(start) }()

	gray := d.prepare(frame)
	if !d.hasRef {
		d.reference = gray
		d.hasRef = true
		return false
	}
	defer gray.Close()

	delta := gocv.NewMat()
	defer delta.Close()
	gocv.AbsDiff(d.reference, gray, &delta)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(delta, &thresh, d.cfg.Threshold, 255, gocv.ThresholdBinary)

	for i := 0; i < d.cfg.DilateIterations; i++ {
		gocv.Dilate(thresh, &thresh, d.kernel)
	}

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	motion := false
	var largest float64
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > largest {
			largest = area
		}
		if area >= d.cfg.MinArea {
			motion = true
		}
	}

	d.stats.FramesProcessed++
	if motion {
		d.stats.MotionEvents++
		d.stats.LastMotionTime = time.Now()
		if largest > d.stats.MaxMotionArea {
			d.stats.MaxMotionArea = largest
		}
	}
	return motion
}

// prepare scales the frame to ResizeWidth, converts it to gray and blurs it.
func (d *Detector) prepare(frame gocv.Mat) gocv.Mat {
	resized := gocv.NewMat()
	defer resized.Close()
	if d.cfg.ResizeWidth > 0 && frame.Cols() > 0 {
		height := frame.Rows() * d.cfg.ResizeWidth / frame.Cols()
		gocv.Resize(frame, &resized, image.Pt(d.cfg.ResizeWidth, height), 0, 0, gocv.InterpolationLinear)
	} else {
		frame.CopyTo(&resized)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if resized.Channels() > 1 {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	} else {
		resized.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: d.cfg.BlurSize, Y: d.cfg.BlurSize}, 0, 0, gocv.BorderDefault)
	return blurred
}

func (d *Detector) Stats() MotionStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasRef {
		d.reference.Close()
		d.hasRef = false
	}
	return d.kernel.Close()
}
