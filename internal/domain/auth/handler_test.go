package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anvoria/backoffice/internal/domain/stepup"
	"github.com/Anvoria/backoffice/internal/utils"
)

// handlerFixture wires the full HTTP surface over in-memory collaborators.
// The engine and guard pipeline are real; only storage is faked.
type handlerFixture struct {
	*serviceFixture
	grants  *memoryGrants
	engine  *stepup.Engine
	app     *fiber.App
	cookies map[string]string
}

func newHandlerFixture() *handlerFixture {
	base := newServiceFixture()
	grants := newMemoryGrants()
	engine := stepup.NewEngine(grants, base.admins, base.sessions, base.emitter, stepup.Config{
		ElevatedTTL: 5 * time.Minute,
		Issuer:      "backoffice-test",
	})

	h := NewHandler(base.service, base.admins, base.sessions, engine)
	p := NewPipeline(Deps{
		Sessions:    base.sessions,
		Admins:      base.admins,
		Engine:      engine,
		Registry:    stepup.DefaultRegistry(),
		Permissions: &fakePermissions{denied: make(map[string]bool)},
	}, SurfaceAPI)

	app := fiber.New(fiber.Config{ErrorHandler: utils.ErrorHandler})
	v1 := app.Group("/api/v1")
	v1.Post("/login", h.Login)
	v1.Post("/login/remember", h.LoginWithRememberToken)
	v1.Post("/logout", p.Protect("auth.logout", h.Logout)...)
	v1.Get("/me", p.Protect("auth.me", h.Me)...)
	v1.Get("/2fa/setup", p.Protect("twofactor.setup.begin", h.TwoFactorSetupBegin)...)
	v1.Post("/2fa/setup", p.Protect("twofactor.setup", h.TwoFactorSetupComplete)...)
	v1.Post("/2fa/verify", p.Protect("twofactor.verify", h.TwoFactorVerify)...)
	v1.Post("/admins", p.Protect("admin.create", h.CreateAdmin)...)
	v1.Post("/password", p.Protect("admin.password_change", h.ChangePassword)...)
	v1.Get("/sessions", p.Protect("session.list", h.ListSessions)...)
	v1.Delete("/sessions", p.Protect("session.revoke_all", h.RevokeSessions)...)

	return &handlerFixture{
		serviceFixture: base,
		grants:         grants,
		engine:         engine,
		app:            app,
		cookies:        make(map[string]string),
	}
}

// do sends a request carrying the fixture's cookie jar and folds any
// Set-Cookie headers back in
func (f *handlerFixture) do(t *testing.T, method, target string, payload any) *http.Response {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range f.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := f.app.Test(req)
	require.NoError(t, err)

	for _, cookie := range resp.Cookies() {
		if cookie.Value == "" {
			delete(f.cookies, cookie.Name)
			continue
		}
		f.cookies[cookie.Name] = cookie.Value
	}
	return resp
}

func (f *handlerFixture) login(t *testing.T, remember bool) *http.Response {
	t.Helper()
	resp := f.do(t, fiber.MethodPost, "/api/v1/login", loginRequest{
		Username: "root",
		Password: "correct horse",
		Remember: remember,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	return resp
}

func TestLoginHandler(t *testing.T) {
	t.Run("success sets cookies and reports pending state", func(t *testing.T) {
		f := newHandlerFixture()
		resp := f.login(t, false)

		assert.NotEmpty(t, f.cookies[SessionCookieName])
		assert.NotEmpty(t, f.cookies[DeviceCookieName])
		assert.NotEmpty(t, f.cookies[SignatureCookieName])
		assert.Empty(t, f.cookies[RememberCookieName])

		body := decodeBody(t, resp)
		data := body["data"].(map[string]any)
		assert.Equal(t, string(stepup.StateStepUpRequired), data["session_state"])
		assert.Equal(t, false, data["second_factor_set_up"])
	})

	t.Run("remember sets the remember cookie", func(t *testing.T) {
		f := newHandlerFixture()
		f.login(t, true)
		assert.NotEmpty(t, f.cookies[RememberCookieName])
	})

	t.Run("malformed body", func(t *testing.T) {
		f := newHandlerFixture()
		resp := f.do(t, fiber.MethodPost, "/api/v1/login", "not an object")
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "BAD_REQUEST", decodeBody(t, resp)["code"])
	})

	t.Run("invalid credentials", func(t *testing.T) {
		f := newHandlerFixture()
		resp := f.do(t, fiber.MethodPost, "/api/v1/login", loginRequest{
			Username: "root",
			Password: "wrong",
		})
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, f.cookies[SessionCookieName])
	})
}

// TestEnrollmentFlow covers first login without a second factor: everything
// but the setup routes is blocked until a code is confirmed.
func TestEnrollmentFlow(t *testing.T) {
	f := newHandlerFixture()
	f.login(t, false)

	resp := f.do(t, fiber.MethodGet, "/api/v1/me", nil)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "STEP_UP_REQUIRED", body["code"])

	resp = f.do(t, fiber.MethodGet, "/api/v1/2fa/setup", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	secret := decodeBody(t, resp)["data"].(map[string]any)["secret"].(string)
	require.NotEmpty(t, secret)

	t.Run("wrong code does not enroll", func(t *testing.T) {
		resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/setup", totpSetupRequest{
			Secret: secret,
			Code:   "000000",
		})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

		resp = f.do(t, fiber.MethodGet, "/api/v1/me", nil)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	})

	t.Run("correct code activates the session", func(t *testing.T) {
		resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/setup", totpSetupRequest{
			Secret: secret,
			Code:   totpCode(t, secret),
		})
		require.Equal(t, fiber.StatusOK, resp.StatusCode)

		resp = f.do(t, fiber.MethodGet, "/api/v1/me", nil)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		data := decodeBody(t, resp)["data"].(map[string]any)
		assert.Equal(t, string(stepup.StateActive), data["session_state"])
		assert.Equal(t, true, data["second_factor_set_up"])
	})
}

// TestReEnrollmentBlocked covers a stolen bearer token for an enrolled admin:
// the setup routes stay reachable while the session is pending, but neither
// hands out nor accepts a replacement secret.
func TestReEnrollmentBlocked(t *testing.T) {
	f := newHandlerFixture()
	f.admins.secret = presetSecret(t, f.engine)
	enrolled := f.admins.secret
	f.login(t, false)

	resp := f.do(t, fiber.MethodGet, "/api/v1/2fa/setup", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	planted := presetSecret(t, f.engine)
	resp = f.do(t, fiber.MethodPost, "/api/v1/2fa/setup", totpSetupRequest{
		Secret: planted,
		Code:   totpCode(t, planted),
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// The enrolled secret is untouched and the session stays pending.
	assert.Equal(t, enrolled, f.admins.secret)
	resp = f.do(t, fiber.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

// TestElevatedOperationFlow covers a sensitive call by an enrolled admin:
// denied, verified for the exact scope, permitted exactly once.
func TestElevatedOperationFlow(t *testing.T) {
	f := newHandlerFixture()
	f.admins.secret = presetSecret(t, f.engine)
	f.login(t, false)

	// Activate the session with the login scope first.
	resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
		Code: totpCode(t, f.admins.secret),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	createReq := map[string]string{"username": "newbie", "password": "pw", "display_name": "Newbie"}

	resp = f.do(t, fiber.MethodPost, "/api/v1/admins", createReq)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "admin_create", body["scope"])

	resp = f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
		Code:  totpCode(t, f.admins.secret),
		Scope: "admin_create",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = f.do(t, fiber.MethodPost, "/api/v1/admins", createReq)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	// The grant was single use.
	resp = f.do(t, fiber.MethodPost, "/api/v1/admins", createReq)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestVerifyHandler(t *testing.T) {
	t.Run("unknown scope", func(t *testing.T) {
		f := newHandlerFixture()
		f.admins.secret = presetSecret(t, f.engine)
		f.login(t, false)

		resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
			Code:  totpCode(t, f.admins.secret),
			Scope: "launch_missiles",
		})
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not enrolled", func(t *testing.T) {
		f := newHandlerFixture()
		f.login(t, false)

		resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
			Code: "123456",
		})
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	})

	t.Run("return_to redirects after success", func(t *testing.T) {
		f := newHandlerFixture()
		f.admins.secret = presetSecret(t, f.engine)
		f.login(t, false)

		resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
			Code:     totpCode(t, f.admins.secret),
			ReturnTo: "https://evil.example/phish",
		})
		assert.Equal(t, fiber.StatusFound, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
	})
}

func TestLogoutHandler(t *testing.T) {
	f := newHandlerFixture()
	f.login(t, true)

	resp := f.do(t, fiber.MethodPost, "/api/v1/logout", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, f.cookies[SessionCookieName])
	assert.Empty(t, f.cookies[RememberCookieName])

	// Deletion rides on a past Expires; fasthttp omits non-positive Max-Age.
	cleared := map[string]bool{}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookieName || cookie.Name == RememberCookieName {
			assert.Empty(t, cookie.Value, cookie.Name)
			assert.True(t, cookie.Expires.Before(time.Now()), cookie.Name)
			cleared[cookie.Name] = true
		}
	}
	assert.Len(t, cleared, 2)

	resp = f.do(t, fiber.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRememberLoginHandler(t *testing.T) {
	f := newHandlerFixture()
	f.login(t, true)
	firstRemember := f.cookies[RememberCookieName]

	// Simulate an expired session cookie on a returning browser.
	delete(f.cookies, SessionCookieName)

	resp := f.do(t, fiber.MethodPost, "/api/v1/login/remember", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, f.cookies[SessionCookieName])
	assert.NotEqual(t, firstRemember, f.cookies[RememberCookieName])

	t.Run("stolen original cookie is dead", func(t *testing.T) {
		f.cookies = map[string]string{RememberCookieName: firstRemember}

		resp := f.do(t, fiber.MethodPost, "/api/v1/login/remember", nil)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}

func TestListSessionsHandler(t *testing.T) {
	f := newHandlerFixture()
	f.admins.secret = presetSecret(t, f.engine)
	f.login(t, false)

	resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
		Code: totpCode(t, f.admins.secret),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = f.do(t, fiber.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	data := decodeBody(t, resp)["data"].(map[string]any)
	sessions, ok := data["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 1)

	entry := sessions[0].(map[string]any)
	assert.Equal(t, true, entry["current"])
	assert.Greater(t, entry["expires_in_seconds"].(float64), float64(0))
}

func TestRevokeSessionsHandler(t *testing.T) {
	f := newHandlerFixture()
	f.admins.secret = presetSecret(t, f.engine)
	f.login(t, false)

	resp := f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
		Code: totpCode(t, f.admins.secret),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = f.do(t, fiber.MethodPost, "/api/v1/2fa/verify", totpVerifyRequest{
		Code:  totpCode(t, f.admins.secret),
		Scope: "session_revoke",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	token := f.cookies[SessionCookieName]
	resp = f.do(t, fiber.MethodDelete, "/api/v1/sessions", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	// The caller's own session went with the rest.
	_, err := f.sessions.Validate(token)
	assert.Error(t, err)
}

func presetSecret(t *testing.T, engine *stepup.Engine) string {
	t.Helper()
	secret, _, err := engine.GenerateSecret("root@test")
	require.NoError(t, err)
	return secret
}
