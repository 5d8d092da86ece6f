package security

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSensors struct {
	motionPulses atomic.Int32
	noiseErr     atomic.Bool

	reads atomic.Int32

	mu         sync.Mutex
	ledOn      bool
	flashing   bool
	setCalls   int
	flashCalls []int
	startFlash int
	stopFlash  int
}

func (f *fakeSensors) pulseMotion() { f.motionPulses.Add(1) }

func (f *fakeSensors) ReadMotion() (bool, error) {
	f.reads.Add(1)
	for {
		n := f.motionPulses.Load()
		if n <= 0 {
			return false, nil
		}
		if f.motionPulses.CompareAndSwap(n, n-1) {
			return true, nil
		}
	}
}

func (f *fakeSensors) ReadNoise() (bool, error) {
	f.reads.Add(1)
	if f.noiseErr.Load() {
		return false, errors.New("gpio read: input/output error")
	}
	return false, nil
}

func (f *fakeSensors) ReadPanicButton() (bool, error) {
	f.reads.Add(1)
	return false, nil
}

func (f *fakeSensors) ReadShockSensor() (bool, error) {
	f.reads.Add(1)
	return false, nil
}

func (f *fakeSensors) SetStatusLED(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	f.ledOn = on
	return nil
}

func (f *fakeSensors) FlashStatusLED(times int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flashCalls = append(f.flashCalls, times)
	return nil
}

func (f *fakeSensors) StartContinuousFlash() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startFlash++
	f.flashing = true
	return nil
}

func (f *fakeSensors) StopContinuousFlash() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopFlash++
	f.flashing = false
	return nil
}

func (f *fakeSensors) ledCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls + len(f.flashCalls) + f.startFlash + f.stopFlash
}

func (f *fakeSensors) led() (on, flashing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ledOn, f.flashing
}

type fakeVideo struct {
	motionPulses atomic.Int32

	opened     atomic.Int32
	closed     atomic.Int32
	recordings atomic.Int32
	sinkClosed atomic.Int32
	written    atomic.Int32

	mu    sync.Mutex
	names []string
}

func (v *fakeVideo) OpenCamera(cameraID string) (Camera, error) {
	v.opened.Add(1)
	return &fakeCamera{id: cameraID, video: v}, nil
}

func (v *fakeVideo) NewRecording(name string) (RecordingSink, error) {
	v.recordings.Add(1)
	v.mu.Lock()
	v.names = append(v.names, name)
	v.mu.Unlock()
	return &fakeSink{video: v}, nil
}

type fakeCamera struct {
	id    string
	video *fakeVideo
}

func (c *fakeCamera) CaptureFrame(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, false, err
	}
	motion := false
	if n := c.video.motionPulses.Load(); n > 0 {
		motion = c.video.motionPulses.CompareAndSwap(n, n-1)
	}
	return Frame{CameraID: c.id, Data: []byte{0xff, 0xd8}, CapturedAt: time.Now()}, motion, nil
}

func (c *fakeCamera) Close() error {
	c.video.closed.Add(1)
	return nil
}

type fakeSink struct {
	video *fakeVideo
}

func (s *fakeSink) WriteFrame(Frame) error {
	s.video.written.Add(1)
	return nil
}

func (s *fakeSink) Close() error {
	s.video.sinkClosed.Add(1)
	return nil
}

type fakeStream struct {
	mu     sync.Mutex
	frames map[string]int
}

func (s *fakeStream) SendFrame(_ context.Context, cameraID string, _ Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames == nil {
		s.frames = make(map[string]int)
	}
	s.frames[cameraID]++
	return nil
}

func (s *fakeStream) count(cameraID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[cameraID]
}

type fakeLog struct {
	mu     sync.Mutex
	events []string
}

func (l *fakeLog) Record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *fakeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *fakeAlerter) Alert(_ context.Context, al Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *fakeAlerter) sources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.alerts {
		out = append(out, al.Source)
	}
	return out
}

// stuckSensors blocks every LED flash until release is closed.
type stuckSensors struct {
	fakeSensors
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStuckSensors() *stuckSensors {
	return &stuckSensors{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *stuckSensors) FlashStatusLED(int) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func queuedLEDOps(c *ledController) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
