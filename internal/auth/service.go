package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atlascms/atlas/internal/identity"
	"github.com/atlascms/atlas/internal/sessions"
	"github.com/atlascms/atlas/internal/shared"
)

// SessionStore is the slice of session persistence the login/logout flow
// needs.
type SessionStore interface {
	CreateSession(ctx context.Context, s *sessions.Session) error
	FindByToken(ctx context.Context, token string) (*sessions.Session, error)
	DeactivateByToken(ctx context.Context, token string) (int64, error)
	DeactivateAllForUser(ctx context.Context, userID int64) (int64, error)
}

// Service wraps authentication business rules.
type Service struct {
	users       Repository
	sessions    SessionStore
	logger      *slog.Logger
	invalidator identity.Invalidator
	ttl         time.Duration
	clock       func() time.Time
}

// NewService constructs a Service. ttl is the session lifetime.
func NewService(users Repository, store SessionStore, logger *slog.Logger, invalidator identity.Invalidator, ttl time.Duration, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{users: users, sessions: store, logger: logger, invalidator: invalidator, ttl: ttl, clock: clock}
}

// Login validates credentials and creates a session. Missing user,
// inactive user and bad password all collapse into ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (*sessions.Session, *User, error) {
	user, err := s.users.FindUserWithRoleByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, nil, err
		}
		return nil, nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, shared.ErrInvalidCredentials
	}

	now := s.clock()
	sess := &sessions.Session{
		UserID:     user.ID,
		Token:      newSessionToken(),
		IsActive:   true,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		LastActive: now,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	if s.logger != nil {
		s.logger.Info("login", slog.Int64("user_id", user.ID))
	}
	return sess, user, nil
}

// Logout deactivates the presented token's session, or every session of
// the resolved user when allDevices is set. Logging out an already-ended
// or unknown session is a no-op, not an error.
func (s *Service) Logout(ctx context.Context, token string, allDevices bool) error {
	if token == "" {
		return nil
	}
	sess, err := s.sessions.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return err
	}

	if allDevices {
		if _, err := s.sessions.DeactivateAllForUser(ctx, sess.UserID); err != nil {
			return err
		}
	} else {
		if _, err := s.sessions.DeactivateByToken(ctx, token); err != nil {
			return err
		}
	}

	s.invalidator.InvalidateUser(ctx, sess.UserID)
	return nil
}

// HashPassword produces a bcrypt hash for account provisioning.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// newSessionToken returns an opaque, unguessable token.
func newSessionToken() string {
	return uuid.NewString() + uuid.NewString()
}
