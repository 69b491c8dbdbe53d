package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"filesmanager/internal/redis"
	"filesmanager/internal/storage"
)

// ErrSessionNotFound is returned by stores for unknown tokens.
var ErrSessionNotFound = errors.New("session not found")

// Session binds an opaque token to a user until ExpiresAt.
type Session struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionStore persists sessions. Expiry is enforced by Service on read;
// stores may additionally evict expired entries on their own.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	Load(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
}

type sqlSessionStore struct {
	db     *sql.DB
	driver string
}

// NewSQLSessionStore keeps sessions in the user_tokens table.
func NewSQLSessionStore(db *sql.DB, driver string) SessionStore {
	return &sqlSessionStore{db: db, driver: driver}
}

func (s *sqlSessionStore) Save(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx,
		storage.Rebind(s.driver, `INSERT INTO user_tokens (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		session.Token, session.UserID, time.Now().UTC(), session.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *sqlSessionStore) Load(ctx context.Context, token string) (*Session, error) {
	session := &Session{Token: token}
	err := s.db.QueryRowContext(ctx,
		storage.Rebind(s.driver, `SELECT user_id, expires_at FROM user_tokens WHERE token = ?`), token,
	).Scan(&session.UserID, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return session, nil
}

func (s *sqlSessionStore) Delete(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx,
		storage.Rebind(s.driver, `DELETE FROM user_tokens WHERE token = ?`), token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

const redisTokenPrefix = "auth_"

type redisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore keeps sessions under auth_<token> with a native TTL.
func NewRedisSessionStore(client *redis.Client) SessionStore {
	return &redisSessionStore{client: client}
}

func (s *redisSessionStore) Save(ctx context.Context, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisTokenPrefix+session.Token, payload, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *redisSessionStore) Load(ctx context.Context, token string) (*Session, error) {
	raw, err := s.client.Get(ctx, redisTokenPrefix+token)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	session.Token = token
	return &session, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisTokenPrefix+token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
