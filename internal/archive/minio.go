// internal/archive/minio.go
package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
)

// ObjectStore uploads local files.
type ObjectStore interface {
	PutFile(ctx context.Context, key, path, contentType string) error
}

// MinIOStore implements ObjectStore using MinIO
type MinIOStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIOStore connects and creates the bucket when it does not exist.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		logger: zap.L().Named("minio-store"),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		store.logger.Info("Created MinIO bucket", zap.String("bucket", cfg.Bucket))
	}
	return store, nil
}

func (s *MinIOStore) PutFile(ctx context.Context, key, path, contentType string) error {
	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err, StatusCode: minioStatusCode(err)}
	}
	s.logger.Debug("Object uploaded",
		zap.String("key", key),
		zap.Int64("size", info.Size),
		zap.String("etag", info.ETag))
	return nil
}

func minioStatusCode(err error) int {
	return minio.ToErrorResponse(err).StatusCode
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".avi":
		return "video/x-msvideo"
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the upload may succeed on a later attempt.
func (e *StorageError) Retryable() bool {
	switch e.StatusCode {
	case 400, 401, 403, 404:
		return false
	}
	return true
}
