package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/metrics"
)

// Event types, matching the action log of the mobile app.
const (
	TypeUser     = "user_controlled"
	TypeSecurity = "security_controlled"
)

// Event is one entry of the security action log.
type Event struct {
	ID       string    `json:"id" db:"id"`
	SystemID string    `json:"system_id" db:"system_id"`
	Info     string    `json:"info" db:"info"`
	Type     string    `json:"type" db:"log_type"`
	At       time.Time `json:"at" db:"created_at"`
}

// Classify separates events raised by the system from those caused by a
// user command.
func Classify(info string) string {
	switch {
	case strings.HasPrefix(info, "System breached"),
		strings.HasPrefix(info, "Recording saved"):
		return TypeSecurity
	default:
		return TypeUser
	}
}

// Writer persists events.
type Writer interface {
	Write(ctx context.Context, ev Event) error
	Close() error
}

// Options tune the queue.
type Options struct {
	SystemID   string
	Size       int
	MaxRetries uint64
	Timeout    time.Duration
	Now        func() time.Time
}

// Queue is a fire and forget LogSink. Record never blocks; events that do
// not fit in the buffer are dropped and counted.
type Queue struct {
	writers []Writer
	opts    Options
	logger  *zap.Logger

	mu     sync.RWMutex
	ch     chan Event
	closed bool

	done chan struct{}
}

func NewQueue(writers []Writer, opts Options, logger *zap.Logger) *Queue {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		writers: writers,
		opts:    opts,
		logger:  logger.Named("eventlog"),
		ch:      make(chan Event, opts.Size),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Record enqueues an event.
func (q *Queue) Record(info string) {
	ev := Event{
		ID:       uuid.NewString(),
		SystemID: q.opts.SystemID,
		Info:     info,
		Type:     Classify(info),
		At:       q.opts.Now().UTC(),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.EventsDropped.WithLabelValues("closed").Inc()
		return
	}
	select {
	case q.ch <- ev:
	default:
		metrics.EventsDropped.WithLabelValues("queue_full").Inc()
		q.logger.Warn("Event log queue full, dropping event", zap.String("info", info))
	}
}

// Close flushes queued events and closes the writers.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		return fmt.Errorf("event log flush: %w", ctx.Err())
	}
	var errs []error
	for _, w := range q.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) run() {
	defer close(q.done)
	for ev := range q.ch {
		// each writer retries on its own
		for _, w := range q.writers {
			if err := q.write(w, ev); err != nil {
				metrics.EventsDropped.WithLabelValues("write_failed").Inc()
				q.logger.Error("Failed to write event", zap.String("info", ev.Info), zap.Error(err))
			}
		}
	}
}

func (q *Queue) write(w Writer, ev Event) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 100 * time.Millisecond
	ebo.MaxElapsedTime = 30 * time.Second

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), q.opts.Timeout)
		defer cancel()
		err := w.Write(ctx, ev)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithMaxRetries(ebo, q.opts.MaxRetries))
}

// ErrPermanent marks a write that must not be retried.
var ErrPermanent = errors.New("permanent event log failure")

// LogWriter writes events to the process logger. It is the fallback when
// no external sink is configured.
type LogWriter struct {
	Logger *zap.Logger
}

func (w LogWriter) Write(_ context.Context, ev Event) error {
	w.Logger.Info("Security event",
		zap.String("id", ev.ID),
		zap.String("info", ev.Info),
		zap.String("type", ev.Type),
		zap.Time("at", ev.At))
	return nil
}

func (w LogWriter) Close() error { return nil }
