package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/metrics"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

const (
	pingInterval      = 30 * time.Second
	pongTimeout       = 60 * time.Second
	writeTimeout      = 10 * time.Second
	readLimit         = 512
	defaultBufferSize = 4
)

// viewer is one websocket client watching a camera. An empty cameraID
// receives frames of every camera.
type viewer struct {
	hub      *Hub
	conn     *ws.Conn
	send     chan []byte
	cameraID string
	deviceID string
}

// Hub fans live frames out to websocket viewers. It implements
// security.StreamSink.
type Hub struct {
	mu      sync.RWMutex
	viewers map[*viewer]struct{}
	closed  bool

	upgrader   ws.Upgrader
	bufferSize int
	logger     *zap.Logger
}

type Options struct {
	// AllowedOrigins limits browser origins. Empty allows any origin.
	AllowedOrigins []string
	// BufferSize is the number of frames queued per viewer before frames
	// are dropped.
	BufferSize int
}

var _ security.StreamSink = (*Hub)(nil)

func NewHub(opts Options, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.L()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}

	h := &Hub{
		viewers:    make(map[*viewer]struct{}),
		bufferSize: opts.BufferSize,
		logger:     logger.Named("stream"),
	}
	h.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowed) == 0 {
				return true
			}
			if _, wildcard := allowed["*"]; wildcard {
				return true
			}
			_, ok := allowed[strings.TrimSuffix(origin, "/")]
			return ok
		},
	}
	return h
}

// SendFrame queues f for every viewer of cameraID. Viewers whose buffer is
// full miss the frame.
func (h *Hub) SendFrame(_ context.Context, cameraID string, f security.Frame) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}

	for v := range h.viewers {
		if v.cameraID != "" && v.cameraID != cameraID {
			continue
		}
		select {
		case v.send <- f.Data:
		default:
			h.logger.Debug("Viewer send buffer full, dropping frame",
				zap.String("camera", cameraID),
				zap.String("device", v.deviceID))
		}
	}
	metrics.StreamFramesSent.WithLabelValues(cameraID).Inc()
	return nil
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// ServeWS upgrades the request and streams JPEG frames as binary messages.
// The camera query parameter selects a single camera.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	v := &viewer{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.bufferSize),
		cameraID: r.URL.Query().Get("camera"),
		deviceID: r.Header.Get("X-Device-ID"),
	}
	if !h.register(v) {
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseGoingAway, "shutting down")) //nolint:errcheck
		conn.Close()
		return
	}

	h.logger.Info("Viewer connected",
		zap.String("camera", v.cameraID),
		zap.String("device", v.deviceID),
		zap.String("remote_addr", r.RemoteAddr))

	go v.writePump()
	v.readPump()
}

func (h *Hub) register(v *viewer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.viewers[v] = struct{}{}
	metrics.StreamViewers.Inc()
	return true
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; !ok {
		return
	}
	delete(h.viewers, v)
	close(v.send)
	metrics.StreamViewers.Dec()
	h.logger.Info("Viewer disconnected", zap.String("device", v.deviceID))
}

// Close disconnects every viewer. Safe to call multiple times.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for v := range h.viewers {
		delete(h.viewers, v)
		close(v.send)
		metrics.StreamViewers.Dec()
	}
	return nil
}

func (v *viewer) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				v.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "")) //nolint:errcheck
				return
			}
			if err := v.conn.WriteMessage(ws.BinaryMessage, frame); err != nil {
				return
			}

		case <-pingTicker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := v.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames. Viewers do not send data.
func (v *viewer) readPump() {
	defer func() {
		v.hub.unregister(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(readLimit)
	v.conn.SetReadDeadline(time.Now().Add(pongTimeout)) //nolint:errcheck
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseGoingAway, ws.CloseAbnormalClosure, ws.CloseNormalClosure) {
				v.hub.logger.Warn("Viewer closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}
