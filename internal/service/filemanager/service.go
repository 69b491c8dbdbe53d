// Package filemanager validates and orchestrates file uploads, listing,
// visibility changes and content reads on top of the metadata repository,
// the object store and the derivative queue.
package filemanager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"

	"filesmanager/internal/logging"
	"filesmanager/internal/models"
	"filesmanager/internal/objectstore"
	"filesmanager/internal/repositories/files"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotFound covers records that are absent, not visible to the caller,
// or whose content cannot be read.
var ErrNotFound = errors.New("Not found")

// RequestError is a client error reported as-is.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(msg string) error {
	return &RequestError{Message: msg}
}

// FileRepository is the slice of the metadata repository the service uses.
type FileRepository interface {
	Insert(ctx context.Context, f *models.File) error
	Get(ctx context.Context, id int64) (*models.File, error)
	GetOwned(ctx context.Context, id, userID int64) (*models.File, error)
	List(ctx context.Context, userID, parentID int64, page int) ([]*models.File, error)
	SetPublic(ctx context.Context, id, userID int64, isPublic bool) (*models.File, error)
	Count(ctx context.Context) (int64, error)
}

type UserCounter interface {
	Count(ctx context.Context) (int64, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job models.UploadJob) error
}

type Service struct {
	files  FileRepository
	users  UserCounter
	store  objectstore.Store
	jobs   Enqueuer
	logger logging.Logger
}

func NewService(fileRepo FileRepository, userRepo UserCounter, store objectstore.Store, jobs Enqueuer, logger logging.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		files:  fileRepo,
		users:  userRepo,
		store:  store,
		jobs:   jobs,
		logger: logger,
	}
}

// CreateRequest is an upload as sent by the client. ParentID holds the
// textual parent reference: empty or "0" for the root.
type CreateRequest struct {
	Name     string
	Type     string
	ParentID string
	IsPublic bool
	Data     string
}

// Create stores a new folder, file or image for userID. Images are queued
// for derivative rendering once everything else is committed.
func (s *Service) Create(ctx context.Context, userID int64, req CreateRequest) (*models.File, error) {
	if req.Name == "" {
		return nil, badRequest("Missing name")
	}
	typ, ok := models.ParseFileType(req.Type)
	if !ok {
		return nil, badRequest("Missing type")
	}
	if typ != models.TypeFolder && req.Data == "" {
		return nil, badRequest("Missing data")
	}

	parentID, err := s.resolveParent(ctx, req.ParentID)
	if err != nil {
		return nil, err
	}

	rec := &models.File{
		UserID:   userID,
		Name:     req.Name,
		Type:     typ,
		IsPublic: req.IsPublic,
		ParentID: parentID,
	}
	if typ != models.TypeFolder {
		data, err := decodeData(req.Data)
		if err != nil {
			return nil, badRequest("Invalid data")
		}
		rec.LocalPath = s.store.NewPath()
		if err := s.store.Put(ctx, rec.LocalPath, data); err != nil {
			return nil, fmt.Errorf("store object: %w", err)
		}
	}

	if err := s.files.Insert(ctx, rec); err != nil {
		if rec.LocalPath != "" {
			if derr := s.store.Delete(ctx, rec.LocalPath); derr != nil {
				s.logger.Warn(ctx, "orphan object left behind", "error", derr)
			}
		}
		switch {
		case errors.Is(err, files.ErrParentNotFound):
			return nil, badRequest("Parent not found")
		case errors.Is(err, files.ErrParentNotFolder):
			return nil, badRequest("Parent is not a folder")
		}
		return nil, err
	}

	if typ == models.TypeImage {
		job := models.UploadJob{UserID: userID, FileID: rec.ID}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Error(ctx, "enqueue derivative job failed", "file_id", rec.ID, "user_id", userID, "error", err)
		}
	}
	s.logger.Info(ctx, "file created", "file_id", rec.ID, "user_id", userID, "type", typ)
	return rec, nil
}

func (s *Service) resolveParent(ctx context.Context, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.RootParentID, nil
	}
	parentID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parentID < 0 {
		return 0, badRequest("Parent not found")
	}
	if parentID == models.RootParentID {
		return parentID, nil
	}
	parent, err := s.files.Get(ctx, parentID)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return 0, badRequest("Parent not found")
		}
		return 0, err
	}
	if parent.Type != models.TypeFolder {
		return 0, badRequest("Parent is not a folder")
	}
	return parentID, nil
}

func decodeData(data string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(data, "="))
}

// Get returns a record owned by requesterID.
func (s *Service) Get(ctx context.Context, requesterID, fileID int64) (*models.File, error) {
	rec, err := s.files.GetOwned(ctx, fileID, requesterID)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// List returns one page of requesterID's records under parentID.
func (s *Service) List(ctx context.Context, requesterID, parentID int64, page int) ([]*models.File, error) {
	return s.files.List(ctx, requesterID, parentID, page)
}

// SetVisibility publishes or unpublishes an owned record and returns it as
// stored afterwards.
func (s *Service) SetVisibility(ctx context.Context, requesterID, fileID int64, isPublic bool) (*models.File, error) {
	rec, err := s.files.SetPublic(ctx, fileID, requesterID, isPublic)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

// Content is the payload of a file or one of its derivatives.
type Content struct {
	Data        []byte
	ContentType string
}

// ReadContent returns the bytes of a file visible to requesterID, which is
// zero for anonymous callers. size selects a derivative width when not empty.
func (s *Service) ReadContent(ctx context.Context, requesterID, fileID int64, size string) (*Content, error) {
	rec, err := s.files.Get(ctx, fileID)
	if err != nil {
		return nil, notFound(err)
	}
	if !rec.VisibleTo(requesterID) {
		return nil, ErrNotFound
	}
	if rec.Type == models.TypeFolder {
		return nil, badRequest("A folder doesn't have content")
	}

	path := rec.LocalPath
	if size != "" {
		width, err := strconv.Atoi(size)
		if err != nil || !models.IsVariantWidth(width) {
			return nil, badRequest("Invalid size parameter")
		}
		path = objectstore.VariantPath(rec.LocalPath, width)
	}

	data, err := s.store.Get(ctx, path)
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			s.logger.Warn(ctx, "read object failed", "file_id", rec.ID, "error", err)
		}
		return nil, ErrNotFound
	}
	return &Content{Data: data, ContentType: contentType(rec.Name, data)}, nil
}

func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	if mt := mimetype.Detect(data); mt != nil {
		return mt.String()
	}
	return "application/octet-stream"
}

// Stats reports the number of users and of file records.
type Stats struct {
	Users int64 `json:"users"`
	Files int64 `json:"files"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	nUsers, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	nFiles, err := s.files.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Users: nUsers, Files: nFiles}, nil
}

func notFound(err error) error {
	if errors.Is(err, files.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
