package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mikeyg42/vehicle-security/internal/security"
)

// FileStore keeps the flags in a YAML file such as securityconfig.yaml.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the file. A missing file is a first boot and yields all false.
func (s *FileStore) Load(ctx context.Context) (security.SecurityConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg security.SecurityConfig
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, persistErr("read "+s.path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return security.SecurityConfig{}, persistErr("decode "+s.path, err)
	}
	return cfg, nil
}

// Save writes the file through a temporary file and rename.
func (s *FileStore) Save(ctx context.Context, cfg security.SecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return persistErr("encode", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistErr("mkdir "+dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".securityconfig-*")
	if err != nil {
		return persistErr("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return persistErr("write "+tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("close "+tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return persistErr("rename", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
