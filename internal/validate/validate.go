package validate

import (
	"fmt"
	"net"
	"net/mail"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/vehicle-security/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateGeneralConfig(v, cfg)
	validateMachineConfig(v, cfg)
	validateNetworkConfig(v, &cfg.HTTP)
	validateCameraConfig(v, cfg)
	validateMotionConfig(v, &cfg.Motion)
	if !cfg.NoHardware {
		validateHardwareConfig(v, &cfg.Hardware)
	}
	validateRecordingConfig(v, &cfg.Recording)
	validateStoreConfig(v, &cfg.Store)
	validateArchiveConfig(v, &cfg.Archive)
	validateEventLogConfig(v, cfg)
	validateNotificationConfig(v, &cfg.Notification)
	validateLogConfig(v, &cfg.Log)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateGeneralConfig(v *Validator, cfg *config.Config) {
	if !isAlphanumericWithDashes(cfg.SystemID) {
		v.AddError("system_id must be non-empty and contain only letters, digits, dashes or underscores")
	}
}

func validateMachineConfig(v *Validator, cfg *config.Config) {
	s := cfg.Security
	checkInterval(v, "security.poll_interval", s.PollInterval)
	checkInterval(v, "security.record_interval", s.RecordInterval)
	checkInterval(v, "security.stream_interval", s.StreamInterval)
	if s.ArmFlashes < 0 || s.ArmFlashes > 20 {
		v.AddError("security.arm_flashes must be 0..20")
	}
	if s.DisarmFlashes < 0 || s.DisarmFlashes > 20 {
		v.AddError("security.disarm_flashes must be 0..20")
	}
	if s.MonitorCamera != "" {
		if _, ok := cfg.Camera(s.MonitorCamera); !ok {
			v.AddError("security.monitor_camera %q is not a configured camera", s.MonitorCamera)
		}
	}
}

func checkInterval(v *Validator, name string, d time.Duration) {
	if d < 10*time.Millisecond {
		v.AddError("%s too short: %s (min 10ms)", name, d)
	} else if d > time.Minute {
		v.AddError("%s too long: %s (max 1m)", name, d)
	}
}

func validateNetworkConfig(v *Validator, cfg *config.HTTPConfig) {
	if cfg.ListenAddr == "" {
		v.AddError("HTTP listen address cannot be empty")
		return
	}
	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		v.AddError("HTTP listen address must be host:port: %v", err)
		return
	}
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			v.AddError("invalid hostname in HTTP listen address: %s", host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		v.AddError("invalid port in HTTP listen address: %s", portStr)
	}
	if cfg.RateLimit < 0 {
		v.AddError("http.rate_limit cannot be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateWindow <= 0 {
		v.AddError("http.rate_window must be positive when rate limiting is enabled")
	}
	if cfg.StreamBuffer < 1 {
		v.AddError("http.stream_buffer must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		v.AddError("http.shutdown_timeout must be positive")
	}
}

func validateCameraConfig(v *Validator, cfg *config.Config) {
	seen := make(map[string]bool)
	for i, cam := range cfg.Cameras {
		if cam.ID == "" {
			v.AddError("cameras[%d].id cannot be empty", i)
		} else if seen[cam.ID] {
			v.AddError("duplicate camera id: %s", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Device == "" {
			v.AddError("cameras[%d].device cannot be empty", i)
		}
		if cam.Width <= 0 || cam.Height <= 0 {
			v.AddError("invalid camera dimensions for %s: width=%d height=%d", cam.ID, cam.Width, cam.Height)
		}
		if cam.Width > 4096 || cam.Height > 4096 {
			v.AddError("camera dimensions too large for %s: %dx%d (max 4096x4096)", cam.ID, cam.Width, cam.Height)
		}
		if cam.FPS <= 0 || cam.FPS > 120 {
			v.AddError("invalid fps for %s: %d (1–120)", cam.ID, cam.FPS)
		}
	}
}

func validateMotionConfig(v *Validator, cfg *config.MotionConfig) {
	if cfg.MinArea <= 0 {
		v.AddError("minimum area must be positive")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 255 {
		v.AddError("threshold must be 0..255")
	}
	if cfg.BlurSize%2 == 0 || cfg.BlurSize < 3 {
		v.AddError("blur size must be odd and >=3")
	}
	if cfg.DilateIterations < 0 {
		v.AddError("dilate iterations cannot be negative")
	}
	if cfg.ResizeWidth < 0 {
		v.AddError("resize width cannot be negative")
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		v.AddError("jpeg quality must be 1..100")
	}
}

func validateHardwareConfig(v *Validator, cfg *config.HardwareConfig) {
	if cfg.GPIORoot == "" || !isValidDirectoryPath(cfg.GPIORoot) {
		v.AddError("invalid gpio root: %s", cfg.GPIORoot)
	}
	pins := map[string]int{
		"panic_pin":  cfg.PanicPin,
		"shock_pin":  cfg.ShockPin,
		"noise_pin":  cfg.NoisePin,
		"motion_pin": cfg.MotionPin,
		"led_pin":    cfg.LEDPin,
	}
	used := make(map[int]string)
	for _, name := range []string{"panic_pin", "shock_pin", "noise_pin", "motion_pin", "led_pin"} {
		pin := pins[name]
		if pin < 0 {
			v.AddError("hardware.%s cannot be negative", name)
			continue
		}
		if other, ok := used[pin]; ok {
			v.AddError("hardware.%s reuses pin %d of hardware.%s", name, pin, other)
		}
		used[pin] = name
	}
	if cfg.FlashInterval <= 0 || cfg.ContinuousFlashInterval <= 0 {
		v.AddError("LED flash intervals must be positive")
	}
}

func validateRecordingConfig(v *Validator, cfg *config.RecordingConfig) {
	if !isValidDirectoryPath(cfg.OutputDir) {
		v.AddError("invalid recording output dir: %s", cfg.OutputDir)
	}
	if len(cfg.Codec) != 4 {
		v.AddError("recording codec must be a four character code: %q", cfg.Codec)
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		v.AddError("recording extension must start with a dot: %q", cfg.Extension)
	}
	if cfg.FPS <= 0 || cfg.FPS > 120 {
		v.AddError("invalid recording fps: %d (1–120)", cfg.FPS)
	}
}

func validateStoreConfig(v *Validator, cfg *config.StoreConfig) {
	switch cfg.Type {
	case "yaml":
		if !isValidFilePath(cfg.Path) {
			v.AddError("store.path is required for the yaml store")
		}
	case "postgres":
		validatePostgresConfig(v, &cfg.Postgres)
	case "redis":
		if !strings.HasPrefix(cfg.Redis.URL, "redis://") && !strings.HasPrefix(cfg.Redis.URL, "rediss://") {
			v.AddError("invalid store.redis.url: %s", cfg.Redis.URL)
		}
	default:
		v.AddError("invalid store type: %s (must be 'yaml', 'postgres', or 'redis')", cfg.Type)
	}
	if cfg.Timeout <= 0 {
		v.AddError("store.timeout must be positive")
	}
}

func validatePostgresConfig(v *Validator, cfg *config.PostgresConfig) {
	if cfg.Host == "" {
		v.AddError("postgres host is required")
	}
	if cfg.Database == "" {
		v.AddError("postgres database is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.AddError("invalid postgres port: %d", cfg.Port)
	}
}

func validateArchiveConfig(v *Validator, cfg *config.ArchiveConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.MinIO.Endpoint == "" {
		v.AddError("archive.minio.endpoint is required when archiving is enabled")
	}
	if cfg.MinIO.Bucket == "" {
		v.AddError("archive.minio.bucket is required when archiving is enabled")
	}
	if cfg.QueueSize < 1 {
		v.AddError("archive.queue_size must be positive")
	}
}

func validateEventLogConfig(v *Validator, cfg *config.Config) {
	el := cfg.EventLog
	if el.QueueSize < 1 {
		v.AddError("event_log.queue_size must be positive")
	}
	if el.Postgres && cfg.Store.Type != "postgres" {
		// shares the store connection settings
		validatePostgresConfig(v, &cfg.Store.Postgres)
	}
	if el.MQTT.Enabled {
		if !strings.Contains(el.MQTT.Broker, "://") {
			v.AddError("invalid MQTT broker URL: %s", el.MQTT.Broker)
		}
		if el.MQTT.Topic == "" || strings.ContainsAny(el.MQTT.Topic, "+#") {
			v.AddError("MQTT topic must be a concrete topic: %q", el.MQTT.Topic)
		}
		if el.MQTT.QoS > 2 {
			v.AddError("MQTT qos must be 0..2")
		}
	}
}

func validateNotificationConfig(v *Validator, cfg *config.NotificationConfig) {
	if len(cfg.Contacts) > config.MaxContacts {
		v.AddError("too many contacts: %d (max %d)", len(cfg.Contacts), config.MaxContacts)
	}
	for _, c := range cfg.Contacts {
		if !isValidEmail(c.Email) {
			v.AddError("invalid contact email: %s", c.Email)
		}
	}
	if !cfg.Enabled {
		return
	}
	if cfg.SMTP.Host == "" {
		v.AddError("smtp host is required when notifications are enabled")
	}
	if cfg.SMTP.Port < 1 || cfg.SMTP.Port > 65535 {
		v.AddError("invalid smtp port: %d", cfg.SMTP.Port)
	}
	if !isValidEmail(cfg.SMTP.From) {
		v.AddError("invalid from email: %s", cfg.SMTP.From)
	}
	if len(cfg.Contacts) == 0 {
		v.AddError("at least one contact is required when notifications are enabled")
	}
}

func validateLogConfig(v *Validator, cfg *config.LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.AddError("invalid log level: %s", cfg.Level)
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		v.AddError("invalid log format: %s (must be 'json' or 'console')", cfg.Format)
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	re := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	labels := strings.Split(hostname, ".")
	for _, l := range labels {
		if !re.MatchString(l) {
			return false
		}
	}
	return true
}

func isValidFilePath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00")
}

func isValidDirectoryPath(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "" && !strings.Contains(path, "\x00") && !strings.HasPrefix(clean, "..")
}

func isAlphanumericWithDashes(s string) bool {
	if s == "" {
		return false
	}
	return regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`).MatchString(s)
}
