package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/metrics"
)

const (
	DefaultPollInterval   = 200 * time.Millisecond
	DefaultStreamInterval = 200 * time.Millisecond
	DefaultRecordInterval = 100 * time.Millisecond
	DefaultArmFlashes     = 3
	DefaultDisarmFlashes  = 2

	alertTimeout = 30 * time.Second
)

// Options wires the machine to its collaborators. Every collaborator is
// optional; a nil Sensors or NoHardware disables all sensor and LED calls.
type Options struct {
	Sensors     SensorPort
	Thermometer Thermometer
	Video       VideoPort
	Stream      StreamSink
	Log         LogSink
	Alerter     Alerter

	NoHardware bool

	// MonitorCamera is polled for motion while armed and recorded while
	// breached. Empty disables camera monitoring.
	MonitorCamera string

	PollInterval   time.Duration
	RecordInterval time.Duration
	StreamInterval time.Duration
	ArmFlashes     int
	DisarmFlashes  int

	Logger *zap.Logger
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.RecordInterval <= 0 {
		o.RecordInterval = DefaultRecordInterval
	}
	if o.StreamInterval <= 0 {
		o.StreamInterval = DefaultStreamInterval
	}
	if o.ArmFlashes <= 0 {
		o.ArmFlashes = DefaultArmFlashes
	}
	if o.DisarmFlashes <= 0 {
		o.DisarmFlashes = DefaultDisarmFlashes
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NoHardware {
		o.Sensors = nil
		o.Thermometer = nil
	}
}

// Machine is the arm/disarm/breach state machine. All flag mutation and
// every session spawn decision happens under mu. Hardware, video and sink
// calls never happen while mu is held.
type Machine struct {
	opts   Options
	logger *zap.Logger
	led    *ledController // nil without hardware

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cfg      SecurityConfig
	sessions map[sessionKey]*session // active sessions
	last     map[sessionKey]*session // most recent session per key, possibly exiting
	started  bool
	closed   bool

	wg     sync.WaitGroup // session goroutines
	alerts sync.WaitGroup
}

// NewMachine creates a machine from restored flags. Sessions implied by the
// flags are not spawned until Start.
func NewMachine(opts Options, initial SecurityConfig) *Machine {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	cfg := initial.Normalize()
	// live view never survives a restart
	cfg.CamerasLive = false

	m := &Machine{
		opts:     opts,
		logger:   opts.Logger.Named("security"),
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		sessions: make(map[sessionKey]*session),
		last:     make(map[sessionKey]*session),
	}
	if opts.Sensors != nil {
		m.led = newLEDController(opts.Sensors, m.Snapshot, m.logger.Named("led"))
	}
	return m
}

// Start resumes the sessions implied by the restored flags: monitoring when
// armed and recording when breached.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	if m.cfg.SystemArmed {
		m.spawnLocked(Monitoring, "", m.monitorLoop)
	}
	if m.cfg.SystemBreached {
		m.spawnLocked(Recording, "", m.recordLoop)
	}
	cfg := m.cfg
	m.mu.Unlock()

	m.logger.Info("Security machine started",
		zap.String("state", cfg.State().String()),
		zap.Bool("no_hardware", m.opts.Sensors == nil))
	m.refreshLED()
	return nil
}

// Arm moves Disarmed to Armed and starts monitoring.
func (m *Machine) Arm() error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.cfg.SystemArmed {
		m.mu.Unlock()
		return m.rejected("arm", ErrAlreadyArmed)
	}
	m.cfg.SystemArmed = true
	m.spawnLocked(Monitoring, "", m.monitorLoop)
	m.mu.Unlock()

	m.accepted("arm")
	m.flashLED(m.opts.ArmFlashes)
	m.record("System armed")
	return nil
}

// Disarm clears armed and breached, stops monitoring, recording and every
// live stream.
func (m *Machine) Disarm() error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.cfg.SystemArmed {
		m.mu.Unlock()
		return m.rejected("disarm", ErrNotArmed)
	}
	m.cfg = SecurityConfig{}
	for key, s := range m.sessions {
		s.cancel()
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	m.accepted("disarm")
	m.flashLED(m.opts.DisarmFlashes)
	m.record("System disarmed")
	return nil
}

// FalseAlarm clears a breach without disarming and stops the recording.
func (m *Machine) FalseAlarm() error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.cfg.SystemBreached {
		m.mu.Unlock()
		return m.rejected("false_alarm", ErrNotBreached)
	}
	m.cfg.SystemBreached = false
	m.stopLocked(sessionKey{kind: Recording})
	m.mu.Unlock()

	m.accepted("false_alarm")
	m.refreshLED()
	m.record("Security breach false alarm")
	return nil
}

// StartStream starts forwarding frames from cameraID to the stream sink.
func (m *Machine) StartStream(cameraID string) error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.sessions[sessionKey{kind: Streaming, cameraID: cameraID}]; ok {
		m.mu.Unlock()
		return fmt.Errorf("camera %q: %w", cameraID, m.rejected("start_stream", ErrAlreadyStreaming))
	}
	m.spawnLocked(Streaming, cameraID, m.streamLoop)
	m.cfg.CamerasLive = true
	m.mu.Unlock()

	m.accepted("start_stream")
	m.record("Live stream started on camera " + cameraID)
	return nil
}

// StopStream stops the live stream of cameraID.
func (m *Machine) StopStream(cameraID string) error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.stopLocked(sessionKey{kind: Streaming, cameraID: cameraID}) {
		m.mu.Unlock()
		return fmt.Errorf("camera %q: %w", cameraID, m.rejected("stop_stream", ErrNotStreaming))
	}
	m.cfg.CamerasLive = m.streamingLocked()
	m.mu.Unlock()

	m.accepted("stop_stream")
	m.record("Live stream stopped on camera " + cameraID)
	return nil
}

// ReportBreach signals a breach detected outside the monitoring loop. It
// fails with ErrNotArmed on a disarmed system and ErrAlreadyBreached when a
// breach is already in progress; neither changes any state.
func (m *Machine) ReportBreach(source string) error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if !m.cfg.SystemArmed {
		m.mu.Unlock()
		return m.rejected("breach", ErrNotArmed)
	}
	if !m.breachLocked() {
		m.mu.Unlock()
		return m.rejected("breach", ErrAlreadyBreached)
	}
	m.mu.Unlock()

	m.onBreach(source)
	return nil
}

// Panic alerts the contacts and, when armed, breaches the system.
func (m *Machine) Panic() error {
	m.mu.Lock()
	if err := m.checkOpenLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	breached := m.cfg.SystemArmed && m.breachLocked()
	m.mu.Unlock()

	metrics.Transitions.WithLabelValues("panic", "ok").Inc()
	m.record("Panic triggered")
	if breached {
		m.onBreach("panic")
		return nil
	}
	m.alert("panic")
	return nil
}

// Temperature reads the thermal sensor.
func (m *Machine) Temperature() (float64, error) {
	if m.opts.Thermometer == nil {
		return 0, ErrHardwareUnavailable
	}
	return m.opts.Thermometer.ReadTemperature()
}

// breach is called by the monitoring session. Stale sessions, a disarmed
// system and an existing breach are all ignored.
func (m *Machine) breach(sessionID, source string) bool {
	m.mu.Lock()
	mon, ok := m.sessions[sessionKey{kind: Monitoring}]
	if m.closed || !ok || mon.id != sessionID || !m.cfg.SystemArmed {
		m.mu.Unlock()
		return false
	}
	breached := m.breachLocked()
	m.mu.Unlock()

	if breached {
		m.onBreach(source)
	}
	return breached
}

func (m *Machine) breachLocked() bool {
	if m.cfg.SystemBreached {
		return false
	}
	m.cfg.SystemBreached = true
	if _, ok := m.sessions[sessionKey{kind: Recording}]; !ok {
		m.spawnLocked(Recording, "", m.recordLoop)
	}
	return true
}

func (m *Machine) onBreach(source string) {
	metrics.Transitions.WithLabelValues("breach", "ok").Inc()
	metrics.Breaches.WithLabelValues(source).Inc()
	m.logger.Warn("Security breach detected", zap.String("source", source))
	m.refreshLED()
	m.record("System breached: " + source)
	m.alert(source)
}

// Snapshot returns the current flags.
func (m *Machine) Snapshot() SecurityConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Status returns the flags together with the derived state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		State:          m.cfg.State(),
		SystemArmed:    m.cfg.SystemArmed,
		CamerasLive:    m.cfg.CamerasLive,
		SystemBreached: m.cfg.SystemBreached,
		NoHardware:     m.opts.Sensors == nil,
	}
	for key := range m.sessions {
		if key.kind == Streaming {
			st.Streaming = append(st.Streaming, key.cameraID)
		}
	}
	sort.Strings(st.Streaming)
	return st
}

// Close cancels every session, waits for them to exit and returns the
// flags to persist. Live view is always persisted as off.
func (m *Machine) Close(ctx context.Context) (SecurityConfig, error) {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for key, s := range m.sessions {
			s.cancel()
			delete(m.sessions, key)
		}
		m.cfg.CamerasLive = false
	}
	cfg := m.cfg
	m.mu.Unlock()
	m.cancel()

	var errs []error
	if err := m.waitIdle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("timed out waiting for sessions: %w", err))
	}
	if m.led != nil {
		if err := m.led.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("timed out waiting for status LED: %w", err))
		}
	}
	m.logger.Info("Security machine closed", zap.String("state", cfg.State().String()))
	return cfg, errors.Join(errs...)
}

// waitIdle blocks until every session and alert goroutine has exited or
// ctx is done.
func (m *Machine) waitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.alerts.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) checkOpenLocked() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Machine) streamingLocked() bool {
	for key := range m.sessions {
		if key.kind == Streaming {
			return true
		}
	}
	return false
}

func (m *Machine) accepted(op string) {
	metrics.Transitions.WithLabelValues(op, "ok").Inc()
	m.logger.Info("Transition applied", zap.String("op", op))
}

func (m *Machine) rejected(op string, err *TransitionError) error {
	metrics.Transitions.WithLabelValues(op, "rejected").Inc()
	m.logger.Debug("Transition rejected", zap.String("op", op), zap.String("code", err.Code))
	return err
}

func (m *Machine) flashLED(times int) {
	if m.led != nil {
		m.led.flash(times)
	}
}

func (m *Machine) refreshLED() {
	if m.led != nil {
		m.led.refresh()
	}
}

func (m *Machine) record(event string) {
	if m.opts.Log == nil {
		m.logger.Info("Event", zap.String("event", event))
		return
	}
	m.opts.Log.Record(event)
}

func (m *Machine) alert(source string) {
	if m.opts.Alerter == nil {
		return
	}
	a := Alert{Source: source, At: m.opts.Now(), Status: m.Status()}

	// alerts.Add only happens under mu on an open machine.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("Alert dropped, machine closed", zap.String("source", source))
		return
	}
	m.alerts.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := m.opts.Alerter.Alert(ctx, a); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("Failed to deliver alert", zap.String("source", source), zap.Error(err))
		}
	}()
}
