// Package files persists file and folder metadata: ownership, hierarchy
// and visibility. Object bytes live elsewhere (see objectstore).
package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"filesmanager/internal/models"
	"filesmanager/internal/storage"
)

// PageSize is the fixed number of records returned by List.
const PageSize = 20

var (
	ErrNotFound        = errors.New("file not found")
	ErrParentNotFound  = errors.New("parent not found")
	ErrParentNotFolder = errors.New("parent is not a folder")
)

const selectColumns = `SELECT id, user_id, name, type, is_public, parent_id, local_path FROM files`

type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

// Insert stores f and assigns its ID. A non-root parent must exist and be a
// folder. Records are never deleted, so the parent cannot vanish afterwards.
func (r *Repository) Insert(ctx context.Context, f *models.File) error {
	if f.ParentID != models.RootParentID {
		parent, err := r.Get(ctx, f.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrParentNotFound
			}
			return err
		}
		if parent.Type != models.TypeFolder {
			return ErrParentNotFolder
		}
	}

	var localPath sql.NullString
	if f.LocalPath != "" {
		localPath = sql.NullString{String: f.LocalPath, Valid: true}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	id, err := storage.InsertID(ctx, r.db, r.driver,
		`INSERT INTO files (user_id, name, type, is_public, parent_id, local_path, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, f.Name, string(f.Type), f.IsPublic, f.ParentID, localPath, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	f.ID = id
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*models.File, error) {
	row := r.db.QueryRowContext(ctx, storage.Rebind(r.driver, selectColumns+` WHERE id = ?`), id)
	return scanFile(row)
}

// GetOwned returns the record only when it belongs to userID.
func (r *Repository) GetOwned(ctx context.Context, id, userID int64) (*models.File, error) {
	row := r.db.QueryRowContext(ctx,
		storage.Rebind(r.driver, selectColumns+` WHERE id = ? AND user_id = ?`), id, userID)
	return scanFile(row)
}

// List returns one page of userID's records under parentID in insertion order.
func (r *Repository) List(ctx context.Context, userID, parentID int64, page int) ([]*models.File, error) {
	if page < 0 {
		page = 0
	}
	rows, err := r.db.QueryContext(ctx,
		storage.Rebind(r.driver, selectColumns+` WHERE user_id = ? AND parent_id = ? ORDER BY id LIMIT ? OFFSET ?`),
		userID, parentID, PageSize, page*PageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	result := make([]*models.File, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return result, nil
}

// SetPublic flips the visibility of an owned record and returns the row as
// stored after the update.
func (r *Repository) SetPublic(ctx context.Context, id, userID int64, isPublic bool) (*models.File, error) {
	_, err := r.db.ExecContext(ctx,
		storage.Rebind(r.driver, `UPDATE files SET is_public = ? WHERE id = ? AND user_id = ?`),
		isPublic, id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update visibility: %w", err)
	}
	// RowsAffected is not used: mysql reports 0 for an unchanged value.
	// The re-read yields ErrNotFound for missing or foreign records.
	return r.GetOwned(ctx, id, userID)
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.File, error) {
	var (
		f         models.File
		typ       string
		localPath sql.NullString
	)
	if err := s.Scan(&f.ID, &f.UserID, &f.Name, &typ, &f.IsPublic, &f.ParentID, &localPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.Type = models.FileType(typ)
	f.LocalPath = localPath.String
	return &f, nil
}
