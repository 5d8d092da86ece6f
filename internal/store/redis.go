package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/security"
)

// RedisStore keeps the flags in a hash at <prefix>:config:<system id>.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(ctx context.Context, cfg config.RedisConfig, systemID string) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, systemID), nil
}

func NewRedisStoreWithClient(client *redis.Client, prefix, systemID string) *RedisStore {
	key := "config:" + systemID
	if prefix != "" {
		key = prefix + ":" + key
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Load(ctx context.Context) (security.SecurityConfig, error) {
	var cfg security.SecurityConfig
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return cfg, persistErr("hgetall "+s.key, err)
	}
	if len(fields) == 0 {
		return cfg, nil
	}

	for name, dst := range map[string]*bool{
		"system_armed":    &cfg.SystemArmed,
		"cameras_live":    &cfg.CamerasLive,
		"system_breached": &cfg.SystemBreached,
	} {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return security.SecurityConfig{}, persistErr("parse "+name, err)
		}
		*dst = v
	}
	return cfg, nil
}

func (s *RedisStore) Save(ctx context.Context, cfg security.SecurityConfig) error {
	cfg = cfg.Normalize()
	err := s.client.HSet(ctx, s.key,
		"system_armed", strconv.FormatBool(cfg.SystemArmed),
		"cameras_live", strconv.FormatBool(cfg.CamerasLive),
		"system_breached", strconv.FormatBool(cfg.SystemBreached),
	).Err()
	if err != nil {
		return persistErr("hset "+s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
