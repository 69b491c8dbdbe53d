package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"filesmanager/internal/models"
	"filesmanager/internal/repositories/users"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized covers every credential or token failure. Callers cannot
// tell an unknown email from a wrong password.
var ErrUnauthorized = errors.New("Unauthorized")

// DefaultTokenTTL is the lifetime of a session.
const DefaultTokenTTL = 24 * time.Hour

// passwordCost is lowered by tests.
var passwordCost = bcrypt.DefaultCost

// UserFinder is the read side of the credential store.
type UserFinder interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// Service issues, resolves, and revokes session tokens.
type Service struct {
	users     UserFinder
	sessions  SessionStore
	tokenTTL  time.Duration
	dummyHash []byte
	now       func() time.Time
}

// NewService constructs an auth service with the supplied token lifetime.
func NewService(users UserFinder, sessions SessionStore, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("files-manager-dummy"), passwordCost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &Service{
		users:     users,
		sessions:  sessions,
		tokenTTL:  ttl,
		dummyHash: dummy,
		now:       time.Now,
	}, nil
}

// Authenticate checks a "Basic base64(email:password)" header and opens a
// session for the matching user.
func (s *Service) Authenticate(ctx context.Context, authorization string) (string, error) {
	email, password, ok := ParseBasicAuth(authorization)
	if !ok {
		return "", ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			// keep the timing of unknown emails close to wrong passwords
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}
	if !CheckPassword(user.PasswordHash, password) {
		return "", ErrUnauthorized
	}
	return s.IssueToken(ctx, user.ID)
}

// IssueToken mints a new random token for the user and persists it.
func (s *Service) IssueToken(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	session := Session{Token: token, UserID: userID, ExpiresAt: s.now().Add(s.tokenTTL)}
	if err := s.sessions.Save(ctx, session); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve returns the user bound to token. A session is expired from the
// instant now reaches its expiry time.
func (s *Service) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthorized
	}
	session, err := s.sessions.Load(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return 0, ErrUnauthorized
		}
		return 0, err
	}
	if !s.now().Before(session.ExpiresAt) {
		return 0, ErrUnauthorized
	}
	return session.UserID, nil
}

// Revoke deletes a live session.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if _, err := s.Resolve(ctx, token); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, token)
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// ParseBasicAuth decodes an Authorization header of the Basic scheme.
// The password may itself contain ':'.
func ParseBasicAuth(header string) (email, password string, ok bool) {
	const prefix = "basic "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	email, password, found := strings.Cut(string(decoded), ":")
	if !found || email == "" || password == "" {
		return "", "", false
	}
	return email, password, true
}

// HashPassword returns the bcrypt hash stored for new users.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
