package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Anvoria/backoffice/internal/domain/admin"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/signals"
)

var (
	// ErrInvalidRememberToken covers malformed, unknown, expired and
	// mismatched remember tokens alike.
	ErrInvalidRememberToken = errors.New("invalid remember token")
)

// LoginResult carries everything the transport layer needs to establish a
// session: the raw bearer token (returned once, never stored), the session
// row, the admin, and the optional abuse and remember-me cookie material.
type LoginResult struct {
	Token          string
	Session        *session.Session
	Admin          *admin.Admin
	Abuse          *AbuseCookie
	RememberCookie string
}

type signalEmitter interface {
	Emit(event signals.Event)
}

// Service orchestrates login, logout and remember-me redemption
type Service interface {
	Login(ctx context.Context, username, password string, rc RequestContext, remember bool, deviceID string) (*LoginResult, error)
	Logout(ctx context.Context, actor ActorContext, rememberCookie string)
	RedeemRememberToken(ctx context.Context, cookieValue string, rc RequestContext, deviceID string) (*LoginResult, error)
}

type service struct {
	admins     admin.Service
	sessions   session.Service
	remember   RememberRepository
	abuse      *AbuseCookieIssuer
	signals    signalEmitter
	sessionTTL time.Duration
}

func NewService(
	admins admin.Service,
	sessions session.Service,
	remember RememberRepository,
	abuse *AbuseCookieIssuer,
	emitter signalEmitter,
	sessionTTL time.Duration,
) Service {
	return &service{
		admins:     admins,
		sessions:   sessions,
		remember:   remember,
		abuse:      abuse,
		signals:    emitter,
		sessionTTL: sessionTTL,
	}
}

// Login authenticates credentials and establishes a session. Failures are
// reported to the signal dispatcher but stay indistinguishable to the caller.
func (s *service) Login(ctx context.Context, username, password string, rc RequestContext, remember bool, deviceID string) (*LoginResult, error) {
	account, err := s.admins.Authenticate(username, password)
	if err != nil {
		s.emit(signals.Event{
			Kind:      signals.KindLoginFailed,
			RequestID: rc.RequestID,
			Fields:    map[string]any{"username": username},
		})
		return nil, err
	}
	return s.establishSession(ctx, account, rc, remember, deviceID)
}

// Logout revokes the current session and drops the remember token if one was
// presented. Both operations fail open: a logout never errors back to the
// admin.
func (s *service) Logout(ctx context.Context, actor ActorContext, rememberCookie string) {
	if err := s.sessions.Revoke(ctx, actor.SessionID); err != nil {
		slog.Warn("Failed to revoke session on logout",
			slog.String("session_id", actor.SessionID.String()),
			slog.String("error", err.Error()))
	} else {
		s.emit(signals.Event{
			Kind:      signals.KindSessionRevoked,
			AdminID:   actor.AdminID.String(),
			SessionID: actor.SessionID.String(),
		})
	}
	if rememberCookie == "" {
		return
	}
	selector, _, err := splitRememberCookie(rememberCookie)
	if err != nil {
		return
	}
	if err := s.remember.Delete(selector); err != nil {
		slog.Warn("Failed to delete remember token on logout",
			slog.String("error", err.Error()))
	}
}

// RedeemRememberToken exchanges a valid remember cookie for a fresh session.
// The presented token is consumed and a rotated replacement is issued.
func (s *service) RedeemRememberToken(ctx context.Context, cookieValue string, rc RequestContext, deviceID string) (*LoginResult, error) {
	selector, validator, err := splitRememberCookie(cookieValue)
	if err != nil {
		return nil, ErrInvalidRememberToken
	}

	stored, err := s.remember.FindBySelector(selector)
	if err != nil {
		return nil, ErrInvalidRememberToken
	}

	// Single use: the row is gone whether or not redemption succeeds, so a
	// stolen cookie cannot be retried.
	if err := s.remember.Delete(selector); err != nil {
		slog.Warn("Failed to consume remember token",
			slog.String("selector", selector),
			slog.String("error", err.Error()))
	}

	if time.Now().After(stored.ExpiresAt) || !validatorMatches(validator, stored.ValidatorHash) {
		return nil, ErrInvalidRememberToken
	}

	account, err := s.admins.Get(stored.AdminID)
	if err != nil || !account.IsActive {
		return nil, ErrInvalidRememberToken
	}

	return s.establishSession(ctx, account, rc, true, deviceID)
}

func (s *service) establishSession(ctx context.Context, account *admin.Admin, rc RequestContext, remember bool, deviceID string) (*LoginResult, error) {
	token, sess, err := s.sessions.Create(account.ID, rc.UserAgent, rc.IP, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	result := &LoginResult{
		Token:   token,
		Session: sess,
		Admin:   account,
	}

	// Abuse cookie issuance never blocks a login.
	abuse, err := s.abuse.Issue(token, rc, deviceID)
	if err != nil {
		slog.Warn("Failed to issue abuse cookie",
			slog.String("admin_id", account.ID.String()),
			slog.String("error", err.Error()))
	} else {
		result.Abuse = abuse
	}

	if remember {
		cookieValue, selector, validatorHash, err := newRememberCredential()
		if err != nil {
			slog.Warn("Failed to generate remember token",
				slog.String("error", err.Error()))
			return result, nil
		}
		record := &RememberToken{
			Selector:      selector,
			ValidatorHash: validatorHash,
			AdminID:       account.ID,
			ExpiresAt:     time.Now().Add(rememberTTL),
		}
		if err := s.remember.Create(record); err != nil {
			slog.Warn("Failed to store remember token",
				slog.String("error", err.Error()))
		} else {
			result.RememberCookie = cookieValue
		}
	}

	return result, nil
}

func (s *service) emit(event signals.Event) {
	if s.signals != nil {
		s.signals.Emit(event)
	}
}
