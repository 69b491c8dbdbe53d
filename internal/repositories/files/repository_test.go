package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"filesmanager/internal/config"
	"filesmanager/internal/models"
	"filesmanager/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
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
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO users (email, password_hash, created_at) VALUES (?, '', ?)`, email, time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

func newRepo(t *testing.T) (*Repository, int64, int64) {
	t.Helper()
	db := openTestDB(t)
	return NewRepository(db, storage.DriverSQLite), insertUser(t, db, "a@x.io"), insertUser(t, db, "b@x.io")
}

func TestInsertAndGet(t *testing.T) {
	repo, alice, _ := newRepo(t)
	ctx := context.Background()

	f := &models.File{UserID: alice, Name: "notes.txt", Type: models.TypeFile, LocalPath: "/tmp/x/1"}
	if err := repo.Insert(ctx, f); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if f.ID <= 0 {
		t.Fatalf("expected id to be assigned")
	}
	got, err := repo.Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "notes.txt" || got.Type != models.TypeFile || got.LocalPath != "/tmp/x/1" || got.IsPublic {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.ParentID != models.RootParentID {
		t.Fatalf("expected root parent, got %d", got.ParentID)
	}
}

func TestInsertFolderHasNoPath(t *testing.T) {
	repo, alice, _ := newRepo(t)
	f := &models.File{UserID: alice, Name: "docs", Type: models.TypeFolder}
	if err := repo.Insert(context.Background(), f); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.Get(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LocalPath != "" {
		t.Fatalf("folder must not have a local path, got %q", got.LocalPath)
	}
}

func TestInsertParentRules(t *testing.T) {
	repo, alice, _ := newRepo(t)
	ctx := context.Background()

	orphan := &models.File{UserID: alice, Name: "a", Type: models.TypeFolder, ParentID: 999}
	if err := repo.Insert(ctx, orphan); !errors.Is(err, ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}

	plain := &models.File{UserID: alice, Name: "plain.txt", Type: models.TypeFile, LocalPath: "/p"}
	if err := repo.Insert(ctx, plain); err != nil {
		t.Fatalf("insert: %v", err)
	}
	child := &models.File{UserID: alice, Name: "child", Type: models.TypeFile, LocalPath: "/c", ParentID: plain.ID}
	if err := repo.Insert(ctx, child); !errors.Is(err, ErrParentNotFolder) {
		t.Fatalf("expected ErrParentNotFolder, got %v", err)
	}

	folder := &models.File{UserID: alice, Name: "dir", Type: models.TypeFolder}
	if err := repo.Insert(ctx, folder); err != nil {
		t.Fatalf("insert folder: %v", err)
	}
	child.ParentID = folder.ID
	if err := repo.Insert(ctx, child); err != nil {
		t.Fatalf("insert into folder: %v", err)
	}
}

func TestGetOwned(t *testing.T) {
	repo, alice, bob := newRepo(t)
	ctx := context.Background()
	f := &models.File{UserID: alice, Name: "x", Type: models.TypeFolder}
	if err := repo.Insert(ctx, f); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := repo.GetOwned(ctx, f.ID, alice); err != nil {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := repo.GetOwned(ctx, f.ID, bob); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
	if _, err := repo.Get(ctx, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	repo, alice, bob := newRepo(t)
	ctx := context.Background()

	folder := &models.File{UserID: alice, Name: "dir", Type: models.TypeFolder}
	if err := repo.Insert(ctx, folder); err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i := 0; i < 25; i++ {
		f := &models.File{UserID: alice, Name: fmt.Sprintf("f%02d", i), Type: models.TypeFile,
			LocalPath: fmt.Sprintf("/p/%d", i), ParentID: folder.ID}
		if err := repo.Insert(ctx, f); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	other := &models.File{UserID: bob, Name: "bob", Type: models.TypeFolder}
	if err := repo.Insert(ctx, other); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := repo.List(ctx, alice, folder.ID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != PageSize {
		t.Fatalf("expected %d records, got %d", PageSize, len(first))
	}
	if first[0].Name != "f00" || first[19].Name != "f19" {
		t.Fatalf("records not in insertion order: %s..%s", first[0].Name, first[19].Name)
	}
	second, err := repo.List(ctx, alice, folder.ID, 1)
	if err != nil || len(second) != 5 {
		t.Fatalf("second page len=%d err=%v", len(second), err)
	}
	beyond, err := repo.List(ctx, alice, folder.ID, 5)
	if err != nil {
		t.Fatalf("list beyond: %v", err)
	}
	if beyond == nil || len(beyond) != 0 {
		t.Fatalf("expected empty non-nil page, got %#v", beyond)
	}

	root, err := repo.List(ctx, alice, models.RootParentID, 0)
	if err != nil {
		t.Fatalf("list root: %v", err)
	}
	if len(root) != 1 || root[0].ID != folder.ID {
		t.Fatalf("root listing must only contain top-level records of the owner, got %d", len(root))
	}
}

func TestSetPublic(t *testing.T) {
	repo, alice, bob := newRepo(t)
	ctx := context.Background()
	f := &models.File{UserID: alice, Name: "x.txt", Type: models.TypeFile, LocalPath: "/x"}
	if err := repo.Insert(ctx, f); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := repo.SetPublic(ctx, f.ID, alice, true)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !updated.IsPublic {
		t.Fatalf("expected public record")
	}
	again, err := repo.SetPublic(ctx, f.ID, alice, true)
	if err != nil || !again.IsPublic {
		t.Fatalf("idempotent publish failed: %+v err=%v", again, err)
	}
	if _, err := repo.SetPublic(ctx, f.ID, bob, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
	stored, _ := repo.Get(ctx, f.ID)
	if !stored.IsPublic {
		t.Fatalf("non-owner update must not apply")
	}
	n, err := repo.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count=%d err=%v", n, err)
	}
}
