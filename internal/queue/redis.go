package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filesmanager/internal/logging"
	"filesmanager/internal/models"
	"filesmanager/internal/redis"

	goredis "github.com/redis/go-redis/v9"
)

// envelope is the wire form of a queued job. Attempt is absent on first
// delivery, so plain {"userId","fileId"} payloads are accepted too.
type envelope struct {
	models.UploadJob
	Attempt int `json:"attempt,omitempty"`
}

// RedisQueue is a reliable list queue. A consumer atomically moves a job
// from <key> into <key>:processing and removes it from there once handled,
// so jobs held by a crashed consumer can be put back with Recover. Jobs
// that exhaust their attempts end up in <key>:dead.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
	deadKey       string
	maxAttempts   int
	pollTimeout   time.Duration
	retryDelay    time.Duration
	logger        logging.Logger
}

func NewRedisQueue(client *redis.Client, key string, maxAttempts int, logger logging.Logger) *RedisQueue {
	if key == "" {
		key = "fileQueue"
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
		deadKey:       key + ":dead",
		maxAttempts:   maxAttempts,
		pollTimeout:   2 * time.Second,
		retryDelay:    defaultRetryDelay,
		logger:        logger,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job models.UploadJob) error {
	payload, err := json.Marshal(envelope{UploadJob: job})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := q.client.BLMove(ctx, q.key, q.processingKey, q.pollTimeout)
		if err != nil {
			if errors.Is(err, redis.ErrCacheMiss) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error(ctx, "queue receive failed", "queue", q.key, "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		q.handle(ctx, raw, handler)
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key)
}

// Recover puts every job left in the processing list back on the queue.
// It must run before any consumer of the queue is started.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey, q.key)
		if errors.Is(err, redis.ErrCacheMiss) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover jobs: %w", err)
		}
		n++
	}
}

func (q *RedisQueue) handle(ctx context.Context, raw string, handler Handler) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.logger.Error(ctx, "dropping undecodable job", "queue", q.key, "payload", raw, "error", err)
		q.settle(ctx, raw, q.deadKey, raw)
		return
	}

	err := handler(ctx, env.UploadJob)
	if err == nil {
		if err := q.client.LRem(ctx, q.processingKey, 1, raw); err != nil {
			q.logger.Error(ctx, "ack job failed", "file_id", env.FileID, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// left in the processing list for Recover
		q.logger.Warn(ctx, "job interrupted at shutdown", "file_id", env.FileID, "error", err)
		return
	}

	attempt := env.Attempt + 1
	if attempt >= q.maxAttempts || IsPermanent(err) {
		q.logger.Error(ctx, "job moved to dead letter list",
			"file_id", env.FileID, "user_id", env.UserID, "attempts", attempt, "error", err)
		q.settle(ctx, raw, q.deadKey, raw)
		return
	}
	q.logger.Warn(ctx, "job failed, retrying", "file_id", env.FileID, "attempt", attempt, "error", err)
	sleepCtx(ctx, q.retryDelay*time.Duration(attempt))
	env.Attempt = attempt
	next, _ := json.Marshal(env)
	q.settle(ctx, raw, q.key, string(next))
}

// settle atomically drops raw from the processing list and pushes payload to dst.
func (q *RedisQueue) settle(ctx context.Context, raw, dst, payload string) {
	_, err := q.client.Raw().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LPush(ctx, dst, payload)
		pipe.LRem(ctx, q.processingKey, 1, raw)
		return nil
	})
	if err != nil {
		q.logger.Error(ctx, "settle job failed", "queue", q.key, "target", dst, "error", err)
	}
}
