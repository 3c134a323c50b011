package session

import (
	"context"
	"crypto/rand"
	"crypto/sha3"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Anvoria/backoffice/internal/domain/stepup"
)

var (
	// ErrInvalidSession is returned when the token is unknown or malformed
	ErrInvalidSession = errors.New("invalid session")
	// ErrExpiredSession is returned when the session is past its expiry
	ErrExpiredSession = errors.New("session expired")
	// ErrRevokedSession is returned when the session has been revoked
	ErrRevokedSession = errors.New("session revoked")
)

// Service interface for session operations
type Service interface {
	Create(adminID uuid.UUID, userAgent, ip string, ttl time.Duration) (token string, sess *Session, err error)
	Validate(token string) (*Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForAdmin(ctx context.Context, adminID uuid.UUID) error
	ListForAdmin(adminID uuid.UUID) ([]Session, error)
	ExpiresAt(id uuid.UUID) (time.Time, error)
}

type service struct {
	repo   Repository
	grants stepup.Store
}

// NewService creates a session service. The grant store may be nil; when set,
// revoking a session also clears that session's step-up grants.
func NewService(repo Repository, grants stepup.Store) Service {
	return &service{repo: repo, grants: grants}
}

// GenerateToken generates a high-entropy opaque bearer token
func GenerateToken() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken derives the storage key for a bearer token using SHA3-256
func HashToken(token string) string {
	h := sha3.Sum256([]byte(token))
	return base64.RawStdEncoding.EncodeToString(h[:])
}

// Create creates a new session and returns the raw bearer token
func (s *service) Create(adminID uuid.UUID, userAgent, ip string, ttl time.Duration) (string, *Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	sess := &Session{
		AdminID:    adminID,
		TokenHash:  HashToken(token),
		ExpiresAt:  time.Now().UTC().Add(ttl),
		UserAgent:  userAgent,
		IPAddress:  ip,
		LastUsedAt: time.Now().UTC(),
	}
	sess.ID = uuid.New()

	if err := s.repo.Create(sess); err != nil {
		return "", nil, err
	}

	return token, sess, nil
}

// Validate resolves a raw bearer token to its session. Failures are reported
// with a distinct sentinel per condition: unknown token, expired, revoked.
func (s *service) Validate(token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	sess, err := s.repo.FindByTokenHash(HashToken(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}

	if sess.Revoked {
		return nil, ErrRevokedSession
	}

	if time.Now().UTC().After(sess.ExpiresAt) {
		return nil, ErrExpiredSession
	}

	// Best effort; a failed touch must not invalidate the session
	if err := s.repo.UpdateLastUsed(sess.ID, time.Now().UTC()); err != nil {
		slog.Warn("failed to update session last_used_at", "session_id", sess.ID, "error", err)
	}

	return sess, nil
}

// Revoke revokes a single session and clears its step-up grants. Revoking an
// already-revoked or unknown session is not an error.
func (s *service) Revoke(ctx context.Context, id uuid.UUID) error {
	sess, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	if err := s.repo.Revoke(id); err != nil {
		return err
	}

	s.revokeGrants(ctx, sess.AdminID, id)
	return nil
}

// RevokeAllForAdmin revokes every live session owned by the admin
func (s *service) RevokeAllForAdmin(ctx context.Context, adminID uuid.UUID) error {
	if err := s.repo.RevokeAllForAdmin(adminID); err != nil {
		return err
	}

	if s.grants != nil {
		if err := s.grants.RevokeAll(ctx, adminID); err != nil {
			slog.Warn("failed to revoke step-up grants for admin", "admin_id", adminID, "error", err)
		}
	}
	return nil
}

// ListForAdmin returns the admin's live sessions. The repository already
// excludes revoked rows; expired ones are dropped here.
func (s *service) ListForAdmin(adminID uuid.UUID) ([]Session, error) {
	sessions, err := s.repo.FindByAdminID(adminID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	live := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.RemainingTTL(now) > 0 {
			live = append(live, sess)
		}
	}
	return live, nil
}

// ExpiresAt returns the expiry of a session
func (s *service) ExpiresAt(id uuid.UUID) (time.Time, error) {
	sess, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, ErrInvalidSession
		}
		return time.Time{}, err
	}
	if sess.Revoked {
		return time.Time{}, ErrRevokedSession
	}
	return sess.ExpiresAt, nil
}

// revokeGrants is fail-open: the revoked session row already makes the
// grants unreachable, clearing them is hygiene.
func (s *service) revokeGrants(ctx context.Context, adminID, sessionID uuid.UUID) {
	if s.grants == nil {
		return
	}
	if err := s.grants.RevokeSession(ctx, adminID, sessionID); err != nil {
		slog.Warn("failed to revoke step-up grants for session",
			"admin_id", adminID, "session_id", sessionID, "error", err)
	}
}
