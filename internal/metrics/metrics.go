package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the vehicle security controller

var (
	// State machine metrics
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_transitions_total",
		Help: "State machine transitions by operation and result",
	}, []string{"op", "result"}) // result: ok|rejected

	Breaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_breaches_total",
		Help: "Breaches by detecting source",
	}, []string{"source"})

	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "security_sessions_active",
		Help: "Running background sessions by kind",
	}, []string{"kind"}) // kind: monitoring|recording|streaming

	// Hardware metrics
	SensorReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_sensor_read_errors_total",
		Help: "Failed sensor or camera reads during a poll",
	}, []string{"sensor"})

	// Video metrics
	FramesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "security_frames_recorded_total",
		Help: "Frames written to breach recordings",
	})

	StreamFramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_stream_frames_sent_total",
		Help: "Live view frames delivered to the stream sink",
	}, []string{"camera"})

	StreamViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "security_stream_viewers",
		Help: "Connected live view websocket clients",
	})

	// Event log metrics
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_events_dropped_total",
		Help: "Event log records dropped by reason",
	}, []string{"reason"}) // reason: queue_full|write_failed

	ArchiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_archive_uploads_total",
		Help: "Recording archive uploads by result",
	}, []string{"result"})

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests by method, path, and status",
	}, []string{"method", "path", "status"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "security_commands_total",
		Help: "Dispatched commands by kind and response code",
	}, []string{"kind", "code"})
)
