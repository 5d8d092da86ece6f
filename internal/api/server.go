// Package api provides the HTTP and JSON-RPC command transports
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/command"
	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/eventlog"
	"github.com/mikeyg42/vehicle-security/internal/metrics"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// SessionLister reports the running background sessions.
type SessionLister interface {
	Sessions() []security.SessionInfo
}

// EventHistory serves the action log.
type EventHistory interface {
	Recent(ctx context.Context, systemID string, limit int) ([]eventlog.Event, error)
}

// Deps are the collaborators of the server. Everything but Dispatcher is
// optional.
type Deps struct {
	Dispatcher    *command.Dispatcher
	Sessions      SessionLister
	Stream        http.Handler
	Events        EventHistory
	Config        *config.Config
	Alerter       security.Alerter
	Status        func() security.Status
	SystemID      string
	DefaultCamera string
}

// Server is an HTTP API server
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	deps       Deps
	auth       *Authorizer
	limiter    *RateLimiter
	logger     *zap.Logger
	rpc        *rpcConns

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(cfg config.HTTPConfig, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		mux:     http.NewServeMux(),
		deps:    deps,
		auth:    NewAuthorizer(cfg.AllowedDevices),
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:  logger.Named("api"),
		rpc:     newRPCConns(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:           cfg.ListenAddr,
		Handler:        corsMiddleware(cfg.AllowedOrigins, s.instrument(s.mux)),
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/commands/{command}", s.limiter.Middleware(s.handleCommand))
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /ws/rpc", s.handleRPC)
	if s.deps.Stream != nil {
		s.mux.HandleFunc("GET /ws/stream", s.handleStream)
	}
	if s.deps.Config != nil {
		NewConfigHandler(s.deps.Config, s.deps.Alerter, s.deps.Status, s.auth, s.logger).RegisterRoutes(s.mux)
	}
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type commandBody struct {
	CameraID string `json:"camera_id"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sess := s.auth.Session(r)
	if !sess.Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}

	cameraID := r.URL.Query().Get("camera_id")
	if r.ContentLength != 0 {
		var body commandBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeResponse(w, command.Failure(command.ErrCodeInvalidCommand, "malformed body: "+err.Error()))
			return
		}
		if body.CameraID != "" {
			cameraID = body.CameraID
		}
	}

	cmd, err := command.Parse(r.PathValue("command"), cameraID, s.deps.DefaultCamera)
	if err != nil {
		writeResponse(w, command.FromError(err))
		return
	}
	s.logger.Debug("Command received",
		zap.String("command", string(cmd.Kind)),
		zap.String("camera", cmd.CameraID),
		zap.String("device", sess.DeviceID))
	writeResponse(w, s.deps.Dispatcher.Dispatch(r.Context(), sess, cmd))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := s.deps.Dispatcher.Dispatch(r.Context(), s.auth.Session(r), command.Command{Kind: command.QueryStatus})
	writeResponse(w, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Session(r).Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}
	sessions := []security.SessionInfo{}
	if s.deps.Sessions != nil {
		sessions = s.deps.Sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Session(r).Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}
	if s.deps.Events == nil {
		writeResponse(w, command.Failure(command.ErrCodeUnavailable, "event history is not configured"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeResponse(w, command.Failure(command.ErrCodeInvalidCommand, "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}
	events, err := s.deps.Events.Recent(r.Context(), s.deps.SystemID, limit)
	if err != nil {
		s.logger.Error("Failed to load event history", zap.Error(err))
		writeResponse(w, command.Failure(command.ErrCodeInternal, "failed to load event history"))
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Session(r).Authorized {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	s.deps.Stream.ServeHTTP(w, r)
}

// httpStatus maps a response onto an HTTP status. The body always carries
// the 201/404 code.
func httpStatus(resp command.Response) int {
	if resp.OK {
		return http.StatusOK
	}
	switch resp.Error {
	case command.ErrCodeUnauthorized:
		return http.StatusForbidden
	case command.ErrCodeUnknownCommand:
		return http.StatusNotFound
	case command.ErrCodeInvalidCommand:
		return http.StatusBadRequest
	case command.ErrCodeUnavailable, command.ErrCodeClosed:
		return http.StatusServiceUnavailable
	case command.ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusConflict
	}
}

func writeResponse(w http.ResponseWriter, resp command.Response) {
	writeJSON(w, httpStatus(resp), resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// hijacker.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		_, pattern := s.mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
	})
}

// corsMiddleware adds CORS headers for whitelisted origins
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowedOrigins[o] = true
	}
	anyOrigin := allowedOrigins["*"]

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (anyOrigin || allowedOrigins[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+deviceHeader)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the server until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	go s.limiter.Run(s.ctx)

	s.logger.Info("Starting API server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.cancel()
	s.rpc.closeAll()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
