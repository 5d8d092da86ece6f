package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 200*time.Millisecond, cfg.Security.PollInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.Security.StreamInterval)
	assert.Equal(t, float64(500), cfg.Motion.MinArea)
	assert.Equal(t, 21, cfg.Motion.BlurSize)
	assert.Equal(t, 32, cfg.Hardware.PanicPin)
	assert.Equal(t, 27, cfg.Hardware.ShockPin)
	assert.Equal(t, 12, cfg.Hardware.NoisePin)
	assert.Equal(t, 17, cfg.Hardware.LEDPin)
	assert.Equal(t, "yaml", cfg.Store.Type)

	cam, ok := cfg.Camera("0")
	require.True(t, ok)
	assert.Equal(t, 640, cam.Width)
	_, ok = cfg.Camera("9")
	assert.False(t, ok)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
system_id: van-7
no_hardware: true
security:
  poll_interval: 50ms
  monitor_camera: front
http:
  listen_addr: 127.0.0.1:9000
  allowed_devices: ["aa:bb", "cc:dd"]
cameras:
  - id: front
    device: /dev/video2
    width: 320
    height: 240
    fps: 5
store:
  type: redis
  redis:
    url: redis://cache:6379/1
event_log:
  mqtt:
    enabled: true
    qos: 2
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "van-7", cfg.SystemID)
	assert.True(t, cfg.NoHardware)
	assert.Equal(t, 50*time.Millisecond, cfg.Security.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Security.RecordInterval, "unset fields keep defaults")
	assert.Equal(t, "front", cfg.Security.MonitorCamera)
	assert.Equal(t, []string{"aa:bb", "cc:dd"}, cfg.HTTP.AllowedDevices)
	require.Len(t, cfg.Cameras, 1)
	assert.Equal(t, "/dev/video2", cfg.Cameras[0].Device)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.Redis.URL)
	assert.Equal(t, "security", cfg.Store.Redis.KeyPrefix)
	assert.True(t, cfg.EventLog.MQTT.Enabled)
	assert.Equal(t, byte(2), cfg.EventLog.MQTT.QoS)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SYSTEM_ID", "truck-3")
	t.Setenv("NO_HARDWARE", "true")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("SMTP_PORT", "not-a-number")
	t.Setenv("ALLOWED_DEVICES", " aa:bb , ,cc:dd")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "truck-3", cfg.SystemID)
	assert.True(t, cfg.NoHardware)
	assert.Equal(t, 6543, cfg.Store.Postgres.Port)
	assert.Equal(t, 587, cfg.Notification.SMTP.Port)
	assert.Equal(t, []string{"aa:bb", "cc:dd"}, cfg.HTTP.AllowedDevices)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security: [not, a, map"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	pg := PostgresConfig{
		Host:     "db",
		Port:     5432,
		Database: "security",
		Username: "svc",
		Password: "p@ss word",
		SSLMode:  "disable",
	}
	assert.Equal(t, "postgres://svc:p%40ss%20word@db:5432/security?sslmode=disable", pg.DSN())
}
