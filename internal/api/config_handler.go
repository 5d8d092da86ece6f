package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/vehicle-security/internal/command"
	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

const redacted = "********"

// ConfigHandler serves the effective configuration as YAML with secrets
// removed and lets the owner send a test alert.
type ConfigHandler struct {
	config  *config.Config
	alerter security.Alerter
	status  func() security.Status
	auth    *Authorizer
	logger  *zap.Logger
}

func NewConfigHandler(cfg *config.Config, alerter security.Alerter, status func() security.Status, auth *Authorizer, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{config: cfg, alerter: alerter, status: status, auth: auth, logger: logger}
}

// RegisterRoutes registers HTTP routes for configuration API
func (h *ConfigHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/config", h.GetConfig)
	mux.HandleFunc("GET /api/cameras", h.ListCameras)
	mux.HandleFunc("POST /api/test-notification", h.TestNotification)
}

// GetConfig handles GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Session(r).Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}
	out, err := yaml.Marshal(redact(*h.config))
	if err != nil {
		h.logger.Error("Failed to encode config", zap.Error(err))
		writeResponse(w, command.Failure(command.ErrCodeInternal, "failed to encode config"))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out) //nolint:errcheck
}

// ListCameras handles GET /api/cameras
func (h *ConfigHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Session(r).Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}
	cameras := h.config.Cameras
	if cameras == nil {
		cameras = []config.CameraConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": cameras})
}

// TestNotification handles POST /api/test-notification
func (h *ConfigHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Session(r).Authorized {
		writeResponse(w, command.Failure(command.ErrCodeUnauthorized, command.ErrUnauthorized.Error()))
		return
	}
	if h.alerter == nil {
		writeResponse(w, command.Failure(command.ErrCodeUnavailable, "notifications are not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	alert := security.Alert{Source: "test", At: time.Now()}
	if h.status != nil {
		alert.Status = h.status()
	}
	if err := h.alerter.Alert(ctx, alert); err != nil {
		h.logger.Warn("Test notification failed", zap.Error(err))
		writeResponse(w, command.Failure(command.ErrCodeUnavailable, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Test notification sent"})
}

// redact returns a copy of cfg without credentials.
func redact(cfg config.Config) config.Config {
	if cfg.Store.Postgres.Password != "" {
		cfg.Store.Postgres.Password = redacted
	}
	if cfg.Archive.MinIO.SecretAccessKey != "" {
		cfg.Archive.MinIO.SecretAccessKey = redacted
	}
	if cfg.EventLog.MQTT.Password != "" {
		cfg.EventLog.MQTT.Password = redacted
	}
	if cfg.Notification.SMTP.Password != "" {
		cfg.Notification.SMTP.Password = redacted
	}
	cfg.Store.Redis.URL = redactURL(cfg.Store.Redis.URL)
	cfg.HTTP.AllowedDevices = nil
	return cfg
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
