// Package worker renders the image derivatives of uploaded files.
package worker

import (
	"context"
	"errors"
	"fmt"

	"filesmanager/internal/logging"
	"filesmanager/internal/models"
	"filesmanager/internal/objectstore"
	"filesmanager/internal/queue"
	"filesmanager/internal/repositories/files"
	"filesmanager/internal/thumbnail"

	"golang.org/x/sync/errgroup"
)

var (
	ErrMissingFileID = errors.New("Missing fileId")
	ErrMissingUserID = errors.New("Missing userId")
	ErrFileNotFound  = errors.New("File not found")
)

// FileFinder looks up a record owned by a given user.
type FileFinder interface {
	GetOwned(ctx context.Context, id, userID int64) (*models.File, error)
}

type Worker struct {
	files       FileFinder
	store       objectstore.Store
	resizer     thumbnail.Resizer
	queue       queue.Queue
	concurrency int
	logger      logging.Logger
}

func New(finder FileFinder, store objectstore.Store, resizer thumbnail.Resizer, q queue.Queue, concurrency int, logger logging.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		files:       finder,
		store:       store,
		resizer:     resizer,
		queue:       q,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run consumes the queue with the configured number of consumers until ctx
// is cancelled. Jobs stranded by a previous run are recovered first.
func (w *Worker) Run(ctx context.Context) error {
	if r, ok := w.queue.(queue.Recoverer); ok {
		n, err := r.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			w.logger.Info(ctx, "recovered unacknowledged jobs", "count", n)
		}
	}

	w.logger.Info(ctx, "worker started", "consumers", w.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		log := w.logger.With("consumer", i)
		g.Go(func() error {
			return w.queue.Consume(gctx, func(ctx context.Context, job models.UploadJob) error {
				log.Debug(ctx, "job received", "file_id", job.FileID, "user_id", job.UserID)
				if err := w.Process(ctx, job); err != nil {
					return err
				}
				log.Info(ctx, "derivatives written", "file_id", job.FileID)
				return nil
			})
		})
	}
	err := g.Wait()
	w.logger.Info(ctx, "worker stopped")
	return err
}

// Process writes every width of models.VariantWidths next to the original.
// The writes run concurrently and the job fails if any of them fails, in
// which case a redelivery rewrites all of them.
func (w *Worker) Process(ctx context.Context, job models.UploadJob) error {
	if job.FileID <= 0 {
		return queue.Permanent(ErrMissingFileID)
	}
	if job.UserID <= 0 {
		return queue.Permanent(ErrMissingUserID)
	}
	file, err := w.files.GetOwned(ctx, job.FileID, job.UserID)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return queue.Permanent(ErrFileNotFound)
		}
		return fmt.Errorf("load file %d: %w", job.FileID, err)
	}
	if file.LocalPath == "" {
		return queue.Permanent(ErrFileNotFound)
	}

	src, err := w.store.Get(ctx, file.LocalPath)
	if err != nil {
		return fmt.Errorf("read original of file %d: %w", file.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, width := range models.VariantWidths {
		width := width
		g.Go(func() error {
			out, err := w.resizer.Resize(gctx, src, width)
			if err != nil {
				return fmt.Errorf("resize file %d to %d: %w", file.ID, width, err)
			}
			if err := w.store.Put(gctx, objectstore.VariantPath(file.LocalPath, width), out); err != nil {
				return fmt.Errorf("write variant %d of file %d: %w", width, file.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
