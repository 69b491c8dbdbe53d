// Package queue carries derivative jobs from the upload path to the worker.
// Delivery is at-least-once: a job whose handler fails is delivered again
// until it runs out of attempts.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"filesmanager/internal/config"
	"filesmanager/internal/logging"
	"filesmanager/internal/models"
	"filesmanager/internal/redis"
)

// ErrQueueFull is returned by Enqueue when a bounded queue has no room left.
var ErrQueueFull = errors.New("queue is full")

// Handler processes one job. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, job models.UploadJob) error

type Queue interface {
	Enqueue(ctx context.Context, job models.UploadJob) error
	// Consume delivers jobs to handler one at a time until ctx is done.
	// Several goroutines may consume the same queue.
	Consume(ctx context.Context, handler Handler) error
	// Len reports the number of jobs waiting for a consumer.
	Len(ctx context.Context) (int64, error)
}

// Recoverer is implemented by queues that can redeliver jobs held by
// consumers that died before acknowledging them.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: the job is not redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

const defaultRetryDelay = 200 * time.Millisecond

// New builds the queue selected by cfg.Worker.Queue. client may be nil
// unless the redis backend is selected.
func New(cfg *config.Config, client *redis.Client, logger logging.Logger) (Queue, error) {
	w := cfg.Worker
	switch strings.ToLower(w.Queue) {
	case "", "memory":
		return NewMemoryQueue(w.QueueSize, w.MaxAttempts, logger), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis queue requires a redis client")
		}
		return NewRedisQueue(client, w.QueueKey, w.MaxAttempts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", w.Queue)
	}
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
