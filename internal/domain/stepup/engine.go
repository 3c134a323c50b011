package stepup

import (
	"context"
	"crypto/sha3"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/Anvoria/backoffice/internal/signals"
)

var (
	// ErrNotEnrolled is returned when TOTP verification is requested for an
	// admin with no persisted second-factor secret
	ErrNotEnrolled = errors.New("second factor not enrolled")
	// ErrInvalidInput is returned for a missing candidate secret
	ErrInvalidInput = errors.New("invalid operation input")
	// ErrAlreadyEnrolled is returned when enrollment is attempted for an admin
	// who already holds a second-factor secret. The existing secret never gets
	// replaced by a session that has not proven it.
	ErrAlreadyEnrolled = errors.New("second factor already enrolled")
)

// State is the derived second-factor state of a session
type State string

const (
	// StateActive means the session holds a live login-scope grant
	StateActive State = "active"
	// StateStepUpRequired means the session still owes a second factor
	StateStepUpRequired State = "step_up_required"
)

// Status carries the derived state together with whether the admin has a
// registered second factor, which routes enrollment vs verification flows.
type Status struct {
	State        State
	TOTPEnrolled bool
}

// Active reports whether the session has satisfied the login scope
func (s Status) Active() bool {
	return s.State == StateActive
}

// SecretSource provides access to the admin's persisted second-factor secret
type SecretSource interface {
	TOTPSecret(adminID uuid.UUID) (string, error)
	SaveTOTPSecret(adminID uuid.UUID, secret string) error
}

// SessionSource exposes the session expiry the login-scope grant is bound to
type SessionSource interface {
	ExpiresAt(sessionID uuid.UUID) (time.Time, error)
}

// SignalEmitter receives fire-and-forget security events
type SignalEmitter interface {
	Emit(ev signals.Event)
}

// Config tunes the engine
type Config struct {
	// ElevatedTTL is the lifetime of grants for scopes other than login
	ElevatedTTL time.Duration
	// Issuer is embedded in otpauth provisioning URLs
	Issuer string
}

// Engine is the step-up state machine. It is stateless over its stores and
// safe to share across concurrent requests.
type Engine struct {
	grants   Store
	secrets  SecretSource
	sessions SessionSource
	signals  SignalEmitter
	cfg      Config
	now      func() time.Time
}

// NewEngine creates a step-up engine
func NewEngine(grants Store, secrets SecretSource, sessions SessionSource, emitter SignalEmitter, cfg Config) *Engine {
	if cfg.ElevatedTTL <= 0 {
		cfg.ElevatedTTL = 5 * time.Minute
	}
	return &Engine{
		grants:   grants,
		secrets:  secrets,
		sessions: sessions,
		signals:  emitter,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SessionStatus derives the second-factor state of a session. It is computed
// fresh on every call and never cached. Secret lookup failures resolve to
// step-up-required; the engine denies on uncertainty.
func (e *Engine) SessionStatus(ctx context.Context, adminID, sessionID uuid.UUID) Status {
	enrolled := false
	secret, err := e.secrets.TOTPSecret(adminID)
	if err != nil {
		slog.Warn("second-factor secret lookup failed", "admin_id", adminID, "error", err)
	} else {
		enrolled = secret != ""
	}

	if e.HasGrant(ctx, adminID, sessionID, ScopeLogin) {
		return Status{State: StateActive, TOTPEnrolled: enrolled}
	}
	return Status{State: StateStepUpRequired, TOTPEnrolled: enrolled}
}

// GenerateSecret provisions a candidate TOTP secret and its otpauth URL. The
// secret becomes permanent only after EnableTOTP verifies a code against it.
func (e *Engine) GenerateSecret(account string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: account,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// Enrolled reports whether the admin holds a persisted second-factor secret.
// Unlike SessionStatus this surfaces lookup failures, so callers gating
// enrollment can fail closed.
func (e *Engine) Enrolled(adminID uuid.UUID) (bool, error) {
	secret, err := e.secrets.TOTPSecret(adminID)
	if err != nil {
		return false, fmt.Errorf("failed to load second-factor secret: %w", err)
	}
	return secret != "", nil
}

// EnableTOTP verifies code against candidateSecret and, on success, persists
// the secret as the admin's second factor and issues a login-scope grant for
// the current session. A wrong code returns false, never an error. An admin
// who is already enrolled gets ErrAlreadyEnrolled; a bare bearer token must
// not be enough to swap the second factor out from under its owner.
func (e *Engine) EnableTOTP(ctx context.Context, adminID, sessionID uuid.UUID, candidateSecret, code string) (bool, error) {
	if candidateSecret == "" {
		return false, ErrInvalidInput
	}

	enrolled, err := e.Enrolled(adminID)
	if err != nil {
		return false, err
	}
	if enrolled {
		return false, ErrAlreadyEnrolled
	}

	if !e.validCode(candidateSecret, code) {
		return false, nil
	}

	if err := e.secrets.SaveTOTPSecret(adminID, candidateSecret); err != nil {
		return false, fmt.Errorf("failed to persist second-factor secret: %w", err)
	}

	if err := e.issueGrant(ctx, adminID, sessionID, ScopeLogin, nil); err != nil {
		return false, err
	}

	e.emit(signals.Event{
		Kind:      signals.KindSecondFactorSet,
		AdminID:   adminID.String(),
		SessionID: sessionID.String(),
	})
	return true, nil
}

// VerifyTOTP verifies code against the admin's persisted secret and issues a
// grant for the requested scope, defaulting to login. Login grants live as
// long as the session and are reusable; elevated grants are short-lived and
// single-use.
func (e *Engine) VerifyTOTP(ctx context.Context, adminID, sessionID uuid.UUID, code string, scope Scope, snapshot map[string]any) (bool, error) {
	if scope == "" {
		scope = ScopeLogin
	}

	secret, err := e.secrets.TOTPSecret(adminID)
	if err != nil {
		return false, fmt.Errorf("failed to load second-factor secret: %w", err)
	}
	if secret == "" {
		return false, ErrNotEnrolled
	}

	if !e.validCode(secret, code) {
		return false, nil
	}

	if err := e.issueGrant(ctx, adminID, sessionID, scope, snapshot); err != nil {
		return false, err
	}
	return true, nil
}

// HasGrant reports whether a live grant exists for the exact triple. It is
// fail-closed: a storage error resolves to false, never to a panic or a
// bypass.
func (e *Engine) HasGrant(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) bool {
	g, err := e.grants.Find(ctx, adminID, sessionID, scope)
	if err != nil {
		slog.Warn("grant lookup failed, denying", "admin_id", adminID, "scope", scope, "error", err)
		return false
	}
	return g != nil && !g.Expired(e.now())
}

// Authorize checks the grant for the triple and consumes it when single-use.
// Fail-closed like HasGrant.
func (e *Engine) Authorize(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) bool {
	g, err := e.grants.Consume(ctx, adminID, sessionID, scope)
	if err != nil {
		slog.Warn("grant consume failed, denying", "admin_id", adminID, "scope", scope, "error", err)
		return false
	}
	return g != nil && !g.Expired(e.now())
}

// Revoke deletes the grant for the triple; idempotent
func (e *Engine) Revoke(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope) error {
	return e.grants.Revoke(ctx, adminID, sessionID, scope)
}

// RevokeSession deletes every grant bound to the session; idempotent
func (e *Engine) RevokeSession(ctx context.Context, adminID, sessionID uuid.UUID) error {
	return e.grants.RevokeSession(ctx, adminID, sessionID)
}

// RevokeAll deletes every grant owned by the admin; idempotent
func (e *Engine) RevokeAll(ctx context.Context, adminID uuid.UUID) error {
	return e.grants.RevokeAll(ctx, adminID)
}

// LogDenial reports a step-up denial to the security-signal collaborator.
// It never fails the request.
func (e *Engine) LogDenial(adminID, sessionID uuid.UUID, scope Scope, requestID string) {
	e.emit(signals.Event{
		Kind:      signals.KindStepUpDenied,
		AdminID:   adminID.String(),
		SessionID: sessionID.String(),
		Scope:     scope.String(),
		RequestID: requestID,
	})
}

func (e *Engine) emit(ev signals.Event) {
	if e.signals == nil {
		return
	}
	e.signals.Emit(ev)
}

func (e *Engine) validCode(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, e.now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

func (e *Engine) issueGrant(ctx context.Context, adminID, sessionID uuid.UUID, scope Scope, snapshot map[string]any) error {
	now := e.now()

	var expiresAt time.Time
	singleUse := false
	if scope == ScopeLogin {
		sessionExpiry, err := e.sessions.ExpiresAt(sessionID)
		if err != nil {
			return fmt.Errorf("failed to resolve session expiry: %w", err)
		}
		expiresAt = sessionExpiry
	} else {
		expiresAt = now.Add(e.cfg.ElevatedTTL)
		singleUse = true
	}

	grant := &Grant{
		AdminID:         adminID,
		SessionID:       sessionID,
		Scope:           scope,
		RiskContextHash: riskContextHash(adminID, sessionID, scope, snapshot),
		IssuedAt:        now,
		ExpiresAt:       expiresAt,
		SingleUse:       singleUse,
		ContextSnapshot: snapshot,
	}

	return e.grants.Save(ctx, grant)
}

// riskContextHash fingerprints the issuance context without persisting any
// raw request attributes
func riskContextHash(adminID, sessionID uuid.UUID, scope Scope, snapshot map[string]any) string {
	h := sha3.New256()
	h.Write([]byte(adminID.String()))
	h.Write([]byte(sessionID.String()))
	h.Write([]byte(scope))
	if len(snapshot) > 0 {
		if data, err := json.Marshal(snapshot); err == nil {
			h.Write(data)
		}
	}
	return base64.RawStdEncoding.EncodeToString(h.Sum(nil))
}
