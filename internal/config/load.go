package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := NewDefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.SystemID = getEnv("SYSTEM_ID", cfg.SystemID)
	cfg.NoHardware = getEnvBool("NO_HARDWARE", cfg.NoHardware)
	cfg.HTTP.ListenAddr = getEnv("HTTP_ADDR", cfg.HTTP.ListenAddr)
	if devices := getEnv("ALLOWED_DEVICES", ""); devices != "" {
		cfg.HTTP.AllowedDevices = splitList(devices)
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	// Store
	cfg.Store.Type = getEnv("STORE_TYPE", cfg.Store.Type)
	cfg.Store.Path = getEnv("STORE_PATH", cfg.Store.Path)
	cfg.Store.Postgres.Host = getEnv("POSTGRES_HOST", cfg.Store.Postgres.Host)
	cfg.Store.Postgres.Port = getEnvInt("POSTGRES_PORT", cfg.Store.Postgres.Port)
	cfg.Store.Postgres.Database = getEnv("POSTGRES_DB", cfg.Store.Postgres.Database)
	cfg.Store.Postgres.Username = getEnv("POSTGRES_USER", cfg.Store.Postgres.Username)
	cfg.Store.Postgres.Password = getEnv("POSTGRES_PASSWORD", cfg.Store.Postgres.Password)
	cfg.Store.Redis.URL = getEnv("REDIS_URL", cfg.Store.Redis.URL)

	// Archive
	cfg.Archive.Enabled = getEnvBool("ARCHIVE_ENABLED", cfg.Archive.Enabled)
	cfg.Archive.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", cfg.Archive.MinIO.Endpoint)
	cfg.Archive.MinIO.AccessKeyID = getEnv("MINIO_ACCESS_KEY", cfg.Archive.MinIO.AccessKeyID)
	cfg.Archive.MinIO.SecretAccessKey = getEnv("MINIO_SECRET_KEY", cfg.Archive.MinIO.SecretAccessKey)
	cfg.Archive.MinIO.Bucket = getEnv("MINIO_BUCKET", cfg.Archive.MinIO.Bucket)

	// Event log
	cfg.EventLog.MQTT.Enabled = getEnvBool("MQTT_ENABLED", cfg.EventLog.MQTT.Enabled)
	cfg.EventLog.MQTT.Broker = getEnv("MQTT_BROKER", cfg.EventLog.MQTT.Broker)
	cfg.EventLog.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.EventLog.MQTT.ClientID)
	cfg.EventLog.MQTT.Username = getEnv("MQTT_USERNAME", cfg.EventLog.MQTT.Username)
	cfg.EventLog.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.EventLog.MQTT.Password)
	cfg.EventLog.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.EventLog.MQTT.Topic)

	// Notification
	cfg.Notification.Enabled = getEnvBool("NOTIFY_ENABLED", cfg.Notification.Enabled)
	cfg.Notification.SMTP.Host = getEnv("SMTP_HOST", cfg.Notification.SMTP.Host)
	cfg.Notification.SMTP.Port = getEnvInt("SMTP_PORT", cfg.Notification.SMTP.Port)
	cfg.Notification.SMTP.Username = getEnv("SMTP_USERNAME", cfg.Notification.SMTP.Username)
	cfg.Notification.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.Notification.SMTP.Password)
	cfg.Notification.SMTP.From = getEnv("SMTP_FROM", cfg.Notification.SMTP.From)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		zap.L().Warn("Failed to parse env var as bool, using default", zap.String("key", key), zap.Error(err))
		return defaultValue
	}
	return boolValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse env var as int, using default", zap.String("key", key), zap.Error(err))
		return defaultValue
	}
	return intValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
