package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"filesmanager/internal/logging"
	"filesmanager/internal/models"
)

type userQueue struct {
	jobs     []models.UploadJob
	enqueued bool
}

// MemoryQueue is an in-process bounded queue. Jobs are handed out round
// robin across users so one user uploading many images cannot starve the
// others. Failed jobs are retried by the same consumer.
type MemoryQueue struct {
	mu        sync.Mutex
	queues    map[int64]*userQueue // pending jobs of each user
	ready     *list.List           // users with pending jobs, next to serve in front
	positions map[int64]*list.Element
	size      int
	capacity  int
	pending   chan struct{} // one token per queued job

	maxAttempts int
	retryDelay  time.Duration
	logger      logging.Logger
}

func NewMemoryQueue(capacity, maxAttempts int, logger logging.Logger) *MemoryQueue {
	if capacity <= 0 {
		capacity = 256
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &MemoryQueue{
		queues:      make(map[int64]*userQueue),
		ready:       list.New(),
		positions:   make(map[int64]*list.Element),
		capacity:    capacity,
		pending:     make(chan struct{}, capacity),
		maxAttempts: maxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      logger,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.UploadJob) error {
	q.mu.Lock()
	if q.size >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	uq := q.queues[job.UserID]
	if uq == nil {
		uq = &userQueue{}
		q.queues[job.UserID] = uq
	}
	uq.jobs = append(uq.jobs, job)
	if !uq.enqueued {
		uq.enqueued = true
		q.positions[job.UserID] = q.ready.PushBack(job.UserID)
	}
	q.size++
	q.mu.Unlock()

	// never blocks: tokens never outnumber queued jobs
	q.pending <- struct{}{}
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.pending:
		}
		job, ok := q.pop()
		if !ok {
			continue
		}
		q.deliver(ctx, job, handler)
	}
}

func (q *MemoryQueue) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.size), nil
}

// pop takes the next job of the user in front and moves that user to the back.
func (q *MemoryQueue) pop() (models.UploadJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	elem := q.ready.Front()
	if elem == nil {
		return models.UploadJob{}, false
	}
	userID := elem.Value.(int64)
	uq := q.queues[userID]
	job := uq.jobs[0]
	uq.jobs = uq.jobs[1:]
	if len(uq.jobs) == 0 {
		uq.enqueued = false
		q.ready.Remove(elem)
		delete(q.positions, userID)
		delete(q.queues, userID)
	} else {
		q.ready.MoveToBack(elem)
	}
	q.size--
	return job, true
}

func (q *MemoryQueue) deliver(ctx context.Context, job models.UploadJob, handler Handler) {
	for attempt := 1; ; attempt++ {
		err := handler(ctx, job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			q.logger.Warn(ctx, "job abandoned at shutdown", "file_id", job.FileID, "error", err)
			return
		}
		if attempt >= q.maxAttempts || IsPermanent(err) {
			q.logger.Error(ctx, "job dropped",
				"file_id", job.FileID, "user_id", job.UserID, "attempts", attempt, "error", err)
			return
		}
		q.logger.Warn(ctx, "job failed, retrying", "file_id", job.FileID, "attempt", attempt, "error", err)
		sleepCtx(ctx, q.retryDelay*time.Duration(attempt))
	}
}
