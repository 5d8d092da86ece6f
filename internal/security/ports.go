package security

import (
	"context"
	"time"
)

// SensorPort abstracts the GPIO sensors and the status LED. LED methods
// must be idempotent: setting the LED to its current state is a no-op.
type SensorPort interface {
	ReadMotion() (bool, error)
	ReadNoise() (bool, error)
	ReadPanicButton() (bool, error)
	ReadShockSensor() (bool, error)

	SetStatusLED(on bool) error
	FlashStatusLED(times int) error
	StartContinuousFlash() error
	StopContinuousFlash() error
}

// Thermometer is implemented by hardware that carries a temperature probe.
type Thermometer interface {
	ReadTemperature() (float64, error)
}

// Frame is a single JPEG encoded camera frame.
type Frame struct {
	CameraID   string
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// VideoPort opens cameras and recording sinks.
type VideoPort interface {
	// OpenCamera returns a new handle with its own motion reference frame.
	OpenCamera(cameraID string) (Camera, error)
	NewRecording(name string) (RecordingSink, error)
}

// Camera is a per-session camera handle. The first frame captured becomes
// the reference for motion detection for the lifetime of the handle.
type Camera interface {
	CaptureFrame(ctx context.Context) (Frame, bool, error)
	Close() error
}

// RecordingSink persists frames of a breach recording.
type RecordingSink interface {
	WriteFrame(f Frame) error
	Close() error
}

// StreamSink forwards live frames to viewers.
type StreamSink interface {
	SendFrame(ctx context.Context, cameraID string, f Frame) error
}

// LogSink records user facing events. Record must not block.
type LogSink interface {
	Record(event string)
}

// ConfigStore persists SecurityConfig between runs.
type ConfigStore interface {
	Load(ctx context.Context) (SecurityConfig, error)
	Save(ctx context.Context, cfg SecurityConfig) error
}

// Alert describes a breach or panic notification.
type Alert struct {
	Source string
	At     time.Time
	Status Status
}

// Alerter delivers alerts to the owner's contacts.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}
