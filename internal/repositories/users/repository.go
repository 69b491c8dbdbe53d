// Package users is the credential store consulted by authentication.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"filesmanager/internal/models"
	"filesmanager/internal/storage"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrAlreadyExist = errors.New("user already exists")
)

type Repository struct {
	db     *sql.DB
	driver string
}

func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

// Create inserts a user whose password has already been hashed.
func (r *Repository) Create(ctx context.Context, email, passwordHash string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || passwordHash == "" {
		return nil, errors.New("email and password hash are required")
	}
	if _, err := r.FindByEmail(ctx, email); err == nil {
		return nil, ErrAlreadyExist
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := storage.InsertID(ctx, r.db, r.driver,
		`INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)`,
		email, passwordHash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &models.User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: now}, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		storage.Rebind(r.driver, `SELECT id, email, password_hash FROM users WHERE email = ?`), email)
	return scanUser(row)
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx,
		storage.Rebind(r.driver, `SELECT id, email, password_hash FROM users WHERE id = ?`), id)
	return scanUser(row)
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}
