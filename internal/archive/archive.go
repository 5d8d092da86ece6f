package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/metrics"
)

// Archiver uploads finished breach recordings in the background.
type Archiver struct {
	store       ObjectStore
	prefix      string
	deleteLocal bool
	maxRetries  uint64
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.RWMutex
	ch     chan string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(store ObjectStore, cfg config.ArchiveConfig, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.L()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &Archiver{
		store:       store,
		prefix:      cfg.MinIO.Prefix,
		deleteLocal: cfg.DeleteAfterUpload,
		maxRetries:  cfg.MaxRetries,
		logger:      logger.Named("archive"),
		now:         time.Now,
		ch:          make(chan string, size),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go a.run()
	return a
}

// Enqueue schedules a recording for upload. It never blocks.
func (a *Archiver) Enqueue(localPath string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.ArchiveUploads.WithLabelValues("dropped").Inc()
		return
	}
	select {
	case a.ch <- localPath:
	default:
		metrics.ArchiveUploads.WithLabelValues("dropped").Inc()
		a.logger.Warn("Archive queue full, keeping recording local", zap.String("path", localPath))
	}
}

// Close uploads what is queued. Uploads still running when ctx expires
// are cancelled.
func (a *Archiver) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		<-a.done
		return fmt.Errorf("archive flush: %w", ctx.Err())
	}
}

func (a *Archiver) run() {
	defer close(a.done)
	for p := range a.ch {
		if err := a.upload(a.ctx, p); err != nil {
			metrics.ArchiveUploads.WithLabelValues("failed").Inc()
			a.logger.Error("Failed to archive recording", zap.String("path", p), zap.Error(err))
			continue
		}
		metrics.ArchiveUploads.WithLabelValues("ok").Inc()
	}
}

// Key returns the object key of a recording: <prefix>/<yyyy>/<mm>/<dd>/<file>.
func (a *Archiver) Key(localPath string) string {
	return path.Join(a.prefix, a.now().UTC().Format("2006/01/02"), filepath.Base(localPath))
}

func (a *Archiver) upload(ctx context.Context, localPath string) error {
	key := a.Key(localPath)
	contentType := detectContentType(localPath)

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.MaxElapsedTime = 5 * time.Minute

	op := func() error {
		if _, err := os.Stat(localPath); err != nil {
			return backoff.Permanent(&StorageError{Op: "stat", Key: key, Err: err})
		}
		err := a.store.PutFile(ctx, key, localPath, contentType)
		var serr *StorageError
		if errors.As(err, &serr) && !serr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(ebo, a.maxRetries), ctx)); err != nil {
		return err
	}

	a.logger.Info("Recording archived", zap.String("path", localPath), zap.String("key", key))
	if a.deleteLocal {
		if err := os.Remove(localPath); err != nil {
			a.logger.Warn("Failed to remove archived recording", zap.String("path", localPath), zap.Error(err))
		}
	}
	return nil
}
