package worker

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"filesmanager/internal/config"
	"filesmanager/internal/models"
	"filesmanager/internal/objectstore"
	"filesmanager/internal/queue"
	"filesmanager/internal/repositories/files"
	"filesmanager/internal/repositories/users"
	"filesmanager/internal/storage"
	"filesmanager/internal/thumbnail"
)

type fixture struct {
	files  *files.Repository
	store  *objectstore.LocalStore
	userID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	store, err := objectstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	return &fixture{
		files:  files.NewRepository(db, storage.DriverSQLite),
		store:  store,
		userID: createUser(t, db),
	}
}

func createUser(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	u, err := users.NewRepository(db, storage.DriverSQLite).Create(context.Background(), "bob@dylan.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.NRGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func (f *fixture) insertImage(t *testing.T, data []byte) *models.File {
	t.Helper()
	ctx := context.Background()
	path := f.store.NewPath()
	if err := f.store.Put(ctx, path, data); err != nil {
		t.Fatalf("put original: %v", err)
	}
	rec := &models.File{UserID: f.userID, Name: "image.png", Type: models.TypeImage, LocalPath: path}
	if err := f.files.Insert(ctx, rec); err != nil {
		t.Fatalf("insert image: %v", err)
	}
	return rec
}

func TestProcessWritesAllVariants(t *testing.T) {
	f := newFixture(t)
	rec := f.insertImage(t, pngBytes(t, 1000, 500))
	w := New(f.files, f.store, thumbnail.NewResizer(), nil, 1, nil)

	if err := w.Process(context.Background(), models.UploadJob{UserID: f.userID, FileID: rec.ID}); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	for _, width := range models.VariantWidths {
		data, err := f.store.Get(context.Background(), objectstore.VariantPath(rec.LocalPath, width))
		if err != nil {
			t.Fatalf("variant %d missing: %v", width, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode variant %d: %v", width, err)
		}
		if cfg.Width != width {
			t.Fatalf("variant %d has width %d", width, cfg.Width)
		}
	}
}

func TestProcessValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.insertImage(t, pngBytes(t, 10, 10))
	w := New(f.files, f.store, thumbnail.NewResizer(), nil, 1, nil)
	ctx := context.Background()

	cases := []struct {
		job  models.UploadJob
		want error
	}{
		{models.UploadJob{UserID: f.userID}, ErrMissingFileID},
		{models.UploadJob{FileID: rec.ID}, ErrMissingUserID},
		{models.UploadJob{UserID: f.userID, FileID: rec.ID + 100}, ErrFileNotFound},
		{models.UploadJob{UserID: f.userID + 1, FileID: rec.ID}, ErrFileNotFound},
	}
	for _, tc := range cases {
		err := w.Process(ctx, tc.job)
		if !errors.Is(err, tc.want) {
			t.Fatalf("job %+v: expected %v, got %v", tc.job, tc.want, err)
		}
		if !queue.IsPermanent(err) {
			t.Fatalf("job %+v: validation errors must not be retried", tc.job)
		}
		if err.Error() != tc.want.Error() {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}
}

// failingStore rejects writes of one variant width.
type failingStore struct {
	objectstore.Store
	suffix string
}

func (s *failingStore) Put(ctx context.Context, path string, data []byte) error {
	if strings.HasSuffix(path, s.suffix) {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, path, data)
}

func TestProcessFailsWhenAnyVariantFails(t *testing.T) {
	f := newFixture(t)
	rec := f.insertImage(t, pngBytes(t, 600, 300))
	w := New(f.files, &failingStore{Store: f.store, suffix: "_250"}, thumbnail.NewResizer(), nil, 1, nil)

	err := w.Process(context.Background(), models.UploadJob{UserID: f.userID, FileID: rec.ID})
	if err == nil {
		t.Fatalf("expected job failure")
	}
	if queue.IsPermanent(err) {
		t.Fatalf("write failures must be retried")
	}
}

func TestProcessMissingOriginalIsRetried(t *testing.T) {
	f := newFixture(t)
	rec := &models.File{UserID: f.userID, Name: "ghost.png", Type: models.TypeImage, LocalPath: f.store.NewPath()}
	if err := f.files.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	w := New(f.files, f.store, thumbnail.NewResizer(), nil, 1, nil)
	err := w.Process(context.Background(), models.UploadJob{UserID: f.userID, FileID: rec.ID})
	if !errors.Is(err, objectstore.ErrNotFound) || queue.IsPermanent(err) {
		t.Fatalf("expected retryable not found, got %v", err)
	}
}

// countingResizer records how often each width was rendered.
type countingResizer struct {
	thumbnail.Resizer
	mu    sync.Mutex
	calls map[int]int
}

func (r *countingResizer) Resize(ctx context.Context, src []byte, width int) ([]byte, error) {
	r.mu.Lock()
	r.calls[width]++
	r.mu.Unlock()
	return r.Resizer.Resize(ctx, src, width)
}

func TestRunConsumesQueue(t *testing.T) {
	f := newFixture(t)
	q := queue.NewMemoryQueue(8, 3, nil)
	resizer := &countingResizer{Resizer: thumbnail.NewResizer(), calls: map[int]int{}}
	w := New(f.files, f.store, resizer, q, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var recs []*models.File
	for i := 0; i < 3; i++ {
		rec := f.insertImage(t, pngBytes(t, 640, 480))
		recs = append(recs, rec)
		if err := q.Enqueue(ctx, models.UploadJob{UserID: f.userID, FileID: rec.ID}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, rec := range recs {
		for _, width := range models.VariantWidths {
			for {
				ok, err := f.store.Exists(context.Background(), objectstore.VariantPath(rec.LocalPath, width))
				if err != nil {
					t.Fatalf("exists: %v", err)
				}
				if ok {
					break
				}
				if time.Now().After(deadline) {
					t.Fatalf("variant %d of file %d never appeared", width, rec.ID)
				}
				time.Sleep(10 * time.Millisecond)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}

	resizer.mu.Lock()
	defer resizer.mu.Unlock()
	for _, width := range models.VariantWidths {
		if resizer.calls[width] != 3 {
			t.Fatalf("width %d rendered %d times", width, resizer.calls[width])
		}
	}
}
