package auth

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/Anvoria/backoffice/internal/domain/admin"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/domain/stepup"
	"github.com/Anvoria/backoffice/internal/utils"
)

// Handler exposes the authentication and step-up HTTP surface
type Handler struct {
	auth     Service
	admins   admin.Service
	sessions session.Service
	engine   *stepup.Engine
}

func NewHandler(authService Service, admins admin.Service, sessions session.Service, engine *stepup.Engine) *Handler {
	return &Handler{
		auth:     authService,
		admins:   admins,
		sessions: sessions,
		engine:   engine,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type totpSetupRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type totpVerifyRequest struct {
	Code     string `json:"code"`
	Scope    string `json:"scope"`
	ReturnTo string `json:"return_to"`
}

type changePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// Login authenticates credentials and sets the session, abuse and optional
// remember-me cookies
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrBadRequest
	}

	rc := NewRequestContext(c, "auth.login")
	result, err := h.auth.Login(c.UserContext(), req.Username, req.Password, rc, req.Remember, c.Cookies(DeviceCookieName))
	if err != nil {
		if errors.Is(err, admin.ErrInvalidCredentials) {
			return utils.ErrorResponse(c, "invalid credentials", fiber.StatusUnauthorized)
		}
		return utils.ErrInternalServer
	}

	h.setLoginCookies(c, result)

	status := h.engine.SessionStatus(c.UserContext(), result.Admin.ID, result.Session.ID)
	return utils.SuccessResponse(c, fiber.Map{
		"admin":                result.Admin.ToResponse(),
		"session_state":        string(status.State),
		"second_factor_set_up": status.TOTPEnrolled,
	}, "Logged in")
}

// LoginWithRememberToken exchanges the remember-me cookie for a fresh
// session. The presented token is consumed and rotated; an invalid one
// clears the cookie.
func (h *Handler) LoginWithRememberToken(c *fiber.Ctx) error {
	cookieValue := c.Cookies(RememberCookieName)
	if cookieValue == "" {
		return utils.AuthRequiredResponse(c)
	}

	rc := NewRequestContext(c, "auth.login.remember")
	result, err := h.auth.RedeemRememberToken(c.UserContext(), cookieValue, rc, c.Cookies(DeviceCookieName))
	if err != nil {
		clearCookie(c, RememberCookieName)
		return utils.AuthRequiredResponse(c)
	}

	h.setLoginCookies(c, result)

	status := h.engine.SessionStatus(c.UserContext(), result.Admin.ID, result.Session.ID)
	return utils.SuccessResponse(c, fiber.Map{
		"admin":                result.Admin.ToResponse(),
		"session_state":        string(status.State),
		"second_factor_set_up": status.TOTPEnrolled,
	}, "Logged in")
}

// Logout revokes the session and clears the auth cookies. It always succeeds
// from the caller's point of view.
func (h *Handler) Logout(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if ok {
		h.auth.Logout(c.UserContext(), actor, c.Cookies(RememberCookieName))
	}

	clearCookie(c, SessionCookieName)
	clearCookie(c, RememberCookieName)
	return utils.SuccessResponse(c, nil, "Logged out")
}

// Me returns the acting admin together with the derived session state
func (h *Handler) Me(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	status := h.engine.SessionStatus(c.UserContext(), actor.AdminID, actor.SessionID)
	return utils.SuccessResponse(c, fiber.Map{
		"admin_id":             actor.AdminID,
		"display_name":         actor.DisplayName,
		"session_state":        string(status.State),
		"second_factor_set_up": status.TOTPEnrolled,
	}, "OK")
}

// TwoFactorSetupBegin provisions a candidate secret and its otpauth URL. The
// secret is not persisted until the admin proves possession of it. Enrollment
// is open only while no second factor exists; replacing one requires a
// verified code first.
func (h *Handler) TwoFactorSetupBegin(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	enrolled, err := h.engine.Enrolled(actor.AdminID)
	if err != nil {
		return utils.ErrInternalServer
	}
	if enrolled {
		return utils.ErrorResponse(c, "second factor already set up", fiber.StatusConflict)
	}

	account, err := h.admins.Get(actor.AdminID)
	if err != nil {
		return utils.ErrInternalServer
	}

	secret, otpauthURL, err := h.engine.GenerateSecret(account.Username)
	if err != nil {
		return utils.ErrInternalServer
	}

	return utils.SuccessResponse(c, fiber.Map{
		"secret":      secret,
		"otpauth_url": otpauthURL,
	}, "Scan the code and confirm")
}

// TwoFactorSetupComplete verifies the first code against the candidate secret
// and enrolls the admin. Success activates the current session.
func (h *Handler) TwoFactorSetupComplete(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	var req totpSetupRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrBadRequest
	}

	verified, err := h.engine.EnableTOTP(c.UserContext(), actor.AdminID, actor.SessionID, req.Secret, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, stepup.ErrInvalidInput):
			return utils.ErrBadRequest
		case errors.Is(err, stepup.ErrAlreadyEnrolled):
			return utils.ErrorResponse(c, "second factor already set up", fiber.StatusConflict)
		default:
			return utils.ErrInternalServer
		}
	}
	if !verified {
		return utils.ErrorResponse(c, "invalid code", fiber.StatusBadRequest)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"session_state": string(stepup.StateActive),
	}, "Second factor enabled")
}

// TwoFactorVerify checks a code and issues the grant for the requested scope.
// Browser form posts carrying return_to get a redirect; API calls get JSON.
func (h *Handler) TwoFactorVerify(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	var req totpVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrBadRequest
	}

	scope := stepup.Scope(req.Scope)
	if req.Scope == "" {
		scope = stepup.ScopeLogin
	} else if !scope.Valid() {
		return utils.ErrorResponse(c, "unknown scope", fiber.StatusBadRequest)
	}

	rc := RequestContextFrom(c)
	verified, err := h.engine.VerifyTOTP(c.UserContext(), actor.AdminID, actor.SessionID, req.Code, scope,
		map[string]any{"request_id": rc.RequestID, "route": rc.Route})
	if err != nil {
		if errors.Is(err, stepup.ErrNotEnrolled) {
			return utils.ErrorResponse(c, "second factor not set up", fiber.StatusConflict)
		}
		return utils.ErrInternalServer
	}
	if !verified {
		return utils.ErrorResponse(c, "invalid code", fiber.StatusBadRequest)
	}

	if req.ReturnTo != "" {
		return c.Redirect(SafeReturnPath(req.ReturnTo), fiber.StatusFound)
	}
	return utils.SuccessResponse(c, fiber.Map{
		"scope": scope.String(),
	}, "Verified")
}

// CreateAdmin provisions a new admin account
func (h *Handler) CreateAdmin(c *fiber.Ctx) error {
	var req admin.CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrBadRequest
	}

	created, err := h.admins.Create(req)
	if err != nil {
		switch {
		case errors.Is(err, admin.ErrUsernameRequired):
			return utils.ErrorResponse(c, err.Error(), fiber.StatusBadRequest)
		case errors.Is(err, admin.ErrUsernameExists):
			return utils.ErrorResponse(c, err.Error(), fiber.StatusConflict)
		default:
			return utils.ErrInternalServer
		}
	}

	return utils.SuccessResponse(c, created.ToResponse(), "Admin created", fiber.StatusCreated)
}

// ChangePassword sets a new password for the acting admin
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil || req.NewPassword == "" {
		return utils.ErrBadRequest
	}

	if err := h.admins.ChangePassword(actor.AdminID, req.NewPassword); err != nil {
		return utils.ErrInternalServer
	}
	return utils.SuccessResponse(c, nil, "Password changed")
}

// ListSessions lists the acting admin's live sessions so they can spot a
// device they do not recognize before revoking everything
func (h *Handler) ListSessions(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	sessions, err := h.sessions.ListForAdmin(actor.AdminID)
	if err != nil {
		return utils.ErrInternalServer
	}

	now := time.Now().UTC()
	entries := make([]fiber.Map, 0, len(sessions))
	for _, sess := range sessions {
		entries = append(entries, fiber.Map{
			"id":                 sess.ID,
			"ip_address":         sess.IPAddress,
			"user_agent":         sess.UserAgent,
			"last_used_at":       sess.LastUsedAt,
			"expires_in_seconds": int64(sess.RemainingTTL(now).Seconds()),
			"current":            sess.ID == actor.SessionID,
		})
	}
	return utils.SuccessResponse(c, fiber.Map{"sessions": entries}, "OK")
}

// RevokeSessions revokes every session of the acting admin, including the
// current one, along with their grants
func (h *Handler) RevokeSessions(c *fiber.Ctx) error {
	actor, ok := ActorFrom(c)
	if !ok {
		return utils.AuthRequiredResponse(c)
	}

	if err := h.sessions.RevokeAllForAdmin(c.UserContext(), actor.AdminID); err != nil {
		return utils.ErrInternalServer
	}

	clearCookie(c, SessionCookieName)
	return utils.SuccessResponse(c, nil, "Sessions revoked")
}

// Dashboard is the landing page of the browser surface
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	actor, _ := ActorFrom(c)
	return utils.SuccessResponse(c, fiber.Map{
		"display_name": actor.DisplayName,
	}, "Welcome back")
}

func (h *Handler) setLoginCookies(c *fiber.Ctx, result *LoginResult) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookieName,
		Value:    result.Token,
		Expires:  result.Session.ExpiresAt,
		HTTPOnly: true,
		Secure:   c.Secure(),
		SameSite: fiber.CookieSameSiteStrictMode,
		Path:     "/",
	})

	if result.RememberCookie != "" {
		c.Cookie(&fiber.Cookie{
			Name:     RememberCookieName,
			Value:    result.RememberCookie,
			Expires:  time.Now().Add(rememberTTL),
			HTTPOnly: true,
			Secure:   c.Secure(),
			SameSite: fiber.CookieSameSiteStrictMode,
			Path:     "/",
		})
	}

	if result.Abuse != nil {
		c.Cookie(&fiber.Cookie{
			Name:     DeviceCookieName,
			Value:    result.Abuse.DeviceID,
			Expires:  result.Abuse.IssuedAt.Add(result.Abuse.DeviceTTL),
			HTTPOnly: true,
			Secure:   c.Secure(),
			SameSite: fiber.CookieSameSiteStrictMode,
			Path:     "/",
		})
		c.Cookie(&fiber.Cookie{
			Name:     SignatureCookieName,
			Value:    result.Abuse.Signature,
			Expires:  result.Abuse.IssuedAt.Add(result.Abuse.SignatureTTL),
			HTTPOnly: true,
			Secure:   c.Secure(),
			SameSite: fiber.CookieSameSiteStrictMode,
			Path:     "/",
		})
	}
}

// clearCookie deletes by epoch Expires; fasthttp drops non-positive Max-Age
// attributes from the Set-Cookie line, so the expiry carries the deletion.
func clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HTTPOnly: true,
		Path:     "/",
	})
}
