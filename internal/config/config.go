package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all application configuration
type Config struct {
	SystemID   string `yaml:"system_id"`
	NoHardware bool   `yaml:"no_hardware"`

	Security     MachineConfig      `yaml:"security"`
	HTTP         HTTPConfig         `yaml:"http"`
	Cameras      []CameraConfig     `yaml:"cameras"`
	Motion       MotionConfig       `yaml:"motion"`
	Hardware     HardwareConfig     `yaml:"hardware"`
	Recording    RecordingConfig    `yaml:"recording"`
	Store        StoreConfig        `yaml:"store"`
	Archive      ArchiveConfig      `yaml:"archive"`
	EventLog     EventLogConfig     `yaml:"event_log"`
	Notification NotificationConfig `yaml:"notification"`
	Log          LogConfig          `yaml:"log"`
}

// MachineConfig tunes the security state machine
type MachineConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RecordInterval time.Duration `yaml:"record_interval"`
	StreamInterval time.Duration `yaml:"stream_interval"`
	ArmFlashes     int           `yaml:"arm_flashes"`
	DisarmFlashes  int           `yaml:"disarm_flashes"`
	MonitorCamera  string        `yaml:"monitor_camera"`
}

type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit"` // requests per window per client
	RateWindow      time.Duration `yaml:"rate_window"`
	AllowedDevices  []string      `yaml:"allowed_devices"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	StreamBuffer    int           `yaml:"stream_buffer"`
}

type CameraConfig struct {
	ID     string `yaml:"id" json:"id"`
	Device string `yaml:"device" json:"device"` // index ("0") or device path
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	FPS    int    `yaml:"fps" json:"fps"`
}

// MotionConfig controls frame difference motion detection
type MotionConfig struct {
	MinArea          float64 `yaml:"min_area"`
	BlurSize         int     `yaml:"blur_size"`
	Threshold        float32 `yaml:"threshold"`
	DilateIterations int     `yaml:"dilate_iterations"`
	ResizeWidth      int     `yaml:"resize_width"`
	JPEGQuality      int     `yaml:"jpeg_quality"`
}

// HardwareConfig maps sensors and the status LED onto sysfs GPIO pins
type HardwareConfig struct {
	GPIORoot                string        `yaml:"gpio_root"`
	PanicPin                int           `yaml:"panic_pin"`
	ShockPin                int           `yaml:"shock_pin"`
	NoisePin                int           `yaml:"noise_pin"`
	MotionPin               int           `yaml:"motion_pin"`
	LEDPin                  int           `yaml:"led_pin"`
	ActiveLow               bool          `yaml:"active_low"`
	ThermalGlob             string        `yaml:"thermal_glob"`
	FlashInterval           time.Duration `yaml:"flash_interval"`
	ContinuousFlashInterval time.Duration `yaml:"continuous_flash_interval"`
}

type RecordingConfig struct {
	OutputDir string `yaml:"output_dir"`
	Codec     string `yaml:"codec"` // fourcc
	Extension string `yaml:"extension"`
	FPS       int    `yaml:"fps"`
}

type StoreConfig struct {
	Type     string         `yaml:"type"` // yaml | postgres | redis
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Timeout  time.Duration  `yaml:"timeout"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

type ArchiveConfig struct {
	Enabled           bool        `yaml:"enabled"`
	MinIO             MinIOConfig `yaml:"minio"`
	DeleteAfterUpload bool        `yaml:"delete_after_upload"`
	MaxRetries        uint64      `yaml:"max_retries"`
	QueueSize         int         `yaml:"queue_size"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
}

// EventLogConfig selects where user facing security events are written
type EventLogConfig struct {
	Postgres   bool          `yaml:"postgres"` // uses store.postgres connection settings
	MQTT       MQTTConfig    `yaml:"mqtt"`
	QueueSize  int           `yaml:"queue_size"`
	MaxRetries uint64        `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type NotificationConfig struct {
	Enabled  bool       `yaml:"enabled"`
	SMTP     SMTPConfig `yaml:"smtp"`
	Contacts []Contact  `yaml:"contacts"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type Contact struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// MaxContacts caps the alert contact list
const MaxContacts = 15

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		SystemID: "vehicle-1",
		Security: MachineConfig{
			PollInterval:   200 * time.Millisecond,
			RecordInterval: 100 * time.Millisecond,
			StreamInterval: 200 * time.Millisecond,
			ArmFlashes:     3,
			DisarmFlashes:  2,
			MonitorCamera:  "0",
		},
		HTTP: HTTPConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       60,
			RateWindow:      time.Minute,
			AllowedOrigins:  []string{"*"},
			StreamBuffer:    8,
		},
		Cameras: []CameraConfig{
			{ID: "0", Device: "0", Width: 640, Height: 480, FPS: 10},
		},
		Motion: MotionConfig{
			MinArea:          500,
			BlurSize:         21,
			Threshold:        25,
			DilateIterations: 2,
			ResizeWidth:      500,
			JPEGQuality:      80,
		},
		Hardware: HardwareConfig{
			GPIORoot:                "/sys/class/gpio",
			PanicPin:                32,
			ShockPin:                27,
			NoisePin:                12,
			MotionPin:               23,
			LEDPin:                  17,
			ThermalGlob:             "/sys/bus/w1/devices/28*/w1_slave",
			FlashInterval:           300 * time.Millisecond,
			ContinuousFlashInterval: 500 * time.Millisecond,
		},
		Recording: RecordingConfig{
			OutputDir: "recordings",
			Codec:     "MJPG",
			Extension: ".avi",
			FPS:       10,
		},
		Store: StoreConfig{
			Type: "yaml",
			Path: "securityconfig.yaml",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "security",
				Username:        "security",
				SSLMode:         "disable",
				MaxConnections:  10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
			},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379/0",
				KeyPrefix: "security",
			},
			Timeout: 5 * time.Second,
		},
		Archive: ArchiveConfig{
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "breach-recordings",
				Region:   "us-east-1",
			},
			MaxRetries: 3,
			QueueSize:  16,
		},
		EventLog: EventLogConfig{
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "vehicle-security",
				Topic:    "vehicle/security/events",
				QoS:      1,
			},
			QueueSize:  256,
			MaxRetries: 3,
			Timeout:    5 * time.Second,
		},
		Notification: NotificationConfig{
			SMTP: SMTPConfig{
				Host: "localhost",
				Port: 587,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Camera returns the camera with the given id
func (c *Config) Camera(id string) (CameraConfig, bool) {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}
