package security

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/metrics"
)

// SessionKind identifies a background loop.
type SessionKind int

const (
	Monitoring SessionKind = iota
	Recording
	Streaming
)

func (k SessionKind) String() string {
	switch k {
	case Monitoring:
		return "monitoring"
	case Recording:
		return "recording"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("session(%d)", int(k))
	}
}

func (k SessionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// SessionInfo describes an active session.
type SessionInfo struct {
	ID        string      `json:"id"`
	Kind      SessionKind `json:"kind"`
	CameraID  string      `json:"camera_id,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

type sessionKey struct {
	kind     SessionKind
	cameraID string
}

type session struct {
	id      string
	key     sessionKey
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// spawnLocked starts a session goroutine for kind. The goroutine waits for
// the previous session with the same key to exit before running, so at
// most one loop per key ever runs. m.mu must be held.
func (m *Machine) spawnLocked(kind SessionKind, cameraID string, run func(context.Context, *session)) *session {
	key := sessionKey{kind: kind, cameraID: cameraID}
	if cur, ok := m.sessions[key]; ok {
		cur.cancel()
	}
	prev := m.last[key]

	ctx, cancel := context.WithCancel(m.ctx)
	s := &session{
		id:      uuid.NewString(),
		key:     key,
		started: m.opts.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.sessions[key] = s
	m.last[key] = s

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(s.done)
		defer cancel()
		if prev != nil {
			<-prev.done
		}
		if ctx.Err() != nil {
			return
		}

		gauge := metrics.SessionsActive.WithLabelValues(kind.String())
		gauge.Inc()
		defer gauge.Dec()

		logger := m.logger.With(zap.String("session", s.id), zap.Stringer("kind", kind))
		if cameraID != "" {
			logger = logger.With(zap.String("camera", cameraID))
		}
		logger.Debug("Session started")
		run(ctx, s)
		logger.Debug("Session stopped")
	}()
	return s
}

// stopLocked cancels the active session for key and reports whether one
// was running. m.mu must be held.
func (m *Machine) stopLocked(key sessionKey) bool {
	s, ok := m.sessions[key]
	if !ok {
		return false
	}
	s.cancel()
	delete(m.sessions, key)
	return true
}

// Sessions lists the active sessions ordered by kind then camera.
func (m *Machine) Sessions() []SessionInfo {
	m.mu.Lock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{
			ID:        s.id,
			Kind:      s.key.kind,
			CameraID:  s.key.cameraID,
			StartedAt: s.started,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].CameraID < out[j].CameraID
	})
	return out
}

// RecordingName returns the timestamped file name of a breach recording.
func RecordingName(t time.Time) string {
	return "breach_" + t.Format("2006-01-02_15-04-05")
}

// monitorLoop polls the sensors and the monitoring camera until cancelled.
// A failed read counts as no anomaly for that cycle.
func (m *Machine) monitorLoop(ctx context.Context, s *session) {
	var cam Camera
	defer func() {
		if cam != nil {
			cam.Close()
		}
	}()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	camFailed := false
	for {
		if cam == nil && m.opts.Video != nil && m.opts.MonitorCamera != "" {
			c, err := m.opts.Video.OpenCamera(m.opts.MonitorCamera)
			if err != nil {
				if !camFailed {
					m.logger.Warn("Failed to open monitoring camera",
						zap.String("camera", m.opts.MonitorCamera), zap.Error(err))
					camFailed = true
				}
			} else {
				cam = c
			}
		}

		if source := m.poll(ctx, cam); source != "" {
			m.breach(s.id, source)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll returns the source of the first anomaly, or "".
func (m *Machine) poll(ctx context.Context, cam Camera) string {
	if sensors := m.opts.Sensors; sensors != nil {
		reads := []struct {
			name string
			read func() (bool, error)
		}{
			{"motion", sensors.ReadMotion},
			{"noise", sensors.ReadNoise},
			{"panic_button", sensors.ReadPanicButton},
			{"shock", sensors.ReadShockSensor},
		}
		for _, r := range reads {
			hit, err := r.read()
			if err != nil {
				metrics.SensorReadErrors.WithLabelValues(r.name).Inc()
				m.logger.Warn("Sensor read failed", zap.String("sensor", r.name), zap.Error(err))
				continue
			}
			if hit {
				return r.name
			}
		}
	}

	if cam != nil {
		_, motion, err := cam.CaptureFrame(ctx)
		if err != nil {
			if ctx.Err() == nil {
				metrics.SensorReadErrors.WithLabelValues("camera").Inc()
				m.logger.Warn("Camera read failed", zap.Error(err))
			}
			return ""
		}
		if motion {
			return "camera_motion"
		}
	}
	return ""
}

// recordLoop writes frames from the monitoring camera into a timestamped
// recording until cancelled.
func (m *Machine) recordLoop(ctx context.Context, s *session) {
	if m.opts.Video == nil {
		<-ctx.Done()
		return
	}

	name := RecordingName(s.started)
	var (
		sink RecordingSink
		cam  Camera
	)
	defer func() {
		if cam != nil {
			cam.Close()
		}
		if sink != nil {
			if err := sink.Close(); err != nil {
				m.logger.Error("Failed to close recording", zap.String("name", name), zap.Error(err))
			} else {
				m.record("Recording saved: " + name)
			}
		}
	}()

	ticker := time.NewTicker(m.opts.RecordInterval)
	defer ticker.Stop()

	for {
		if sink == nil {
			r, err := m.opts.Video.NewRecording(name)
			if err != nil {
				m.logger.Error("Failed to create recording", zap.String("name", name), zap.Error(err))
			} else {
				sink = r
				m.logger.Info("Recording started", zap.String("name", name))
			}
		}
		if cam == nil && sink != nil && m.opts.MonitorCamera != "" {
			c, err := m.opts.Video.OpenCamera(m.opts.MonitorCamera)
			if err != nil {
				m.logger.Warn("Failed to open recording camera", zap.Error(err))
			} else {
				cam = c
			}
		}

		if cam != nil && sink != nil {
			frame, _, err := cam.CaptureFrame(ctx)
			switch {
			case err != nil:
				if ctx.Err() == nil {
					metrics.SensorReadErrors.WithLabelValues("camera").Inc()
					m.logger.Warn("Recording frame capture failed", zap.Error(err))
				}
			default:
				if err := sink.WriteFrame(frame); err != nil {
					m.logger.Warn("Failed to write recording frame", zap.Error(err))
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// streamLoop forwards frames from one camera to the stream sink until
// cancelled.
func (m *Machine) streamLoop(ctx context.Context, s *session) {
	if m.opts.Video == nil || m.opts.Stream == nil {
		<-ctx.Done()
		return
	}

	cameraID := s.key.cameraID
	var cam Camera
	defer func() {
		if cam != nil {
			cam.Close()
		}
	}()

	ticker := time.NewTicker(m.opts.StreamInterval)
	defer ticker.Stop()

	for {
		if cam == nil {
			c, err := m.opts.Video.OpenCamera(cameraID)
			if err != nil {
				m.logger.Warn("Failed to open stream camera", zap.String("camera", cameraID), zap.Error(err))
			} else {
				cam = c
			}
		}
		if cam != nil {
			frame, _, err := cam.CaptureFrame(ctx)
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("Stream frame capture failed", zap.String("camera", cameraID), zap.Error(err))
				}
			} else if err := m.opts.Stream.SendFrame(ctx, cameraID, frame); err != nil {
				if ctx.Err() == nil {
					m.logger.Debug("Failed to send stream frame", zap.String("camera", cameraID), zap.Error(err))
				}
			} else {
				metrics.StreamFramesSent.WithLabelValues(cameraID).Inc()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
