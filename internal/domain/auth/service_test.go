package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Anvoria/backoffice/internal/domain/admin"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/signals"
)

// fakeAdmins backs the auth service with a single in-memory account
type fakeAdmins struct {
	account  *admin.Admin
	password string
	secret   string
}

func newFakeAdmins() *fakeAdmins {
	a := &admin.Admin{
		Username:    "root",
		DisplayName: "Root Admin",
		IsActive:    true,
	}
	a.ID = uuid.New()
	return &fakeAdmins{account: a, password: "correct horse"}
}

func (f *fakeAdmins) Create(req admin.CreateRequest) (*admin.Admin, error) {
	if req.Username == "" {
		return nil, admin.ErrUsernameRequired
	}
	if req.Username == f.account.Username {
		return nil, admin.ErrUsernameExists
	}
	a := &admin.Admin{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		IsActive:    true,
	}
	a.ID = uuid.New()
	return a, nil
}

func (f *fakeAdmins) Authenticate(username, password string) (*admin.Admin, error) {
	if username != f.account.Username || password != f.password {
		return nil, admin.ErrInvalidCredentials
	}
	if !f.account.IsActive {
		return nil, admin.ErrInvalidCredentials
	}
	return f.account, nil
}

func (f *fakeAdmins) Get(id uuid.UUID) (*admin.Admin, error) {
	if id != f.account.ID {
		return nil, admin.ErrAdminNotFound
	}
	return f.account, nil
}

func (f *fakeAdmins) DisplayName(id uuid.UUID) (string, error) {
	return f.account.DisplayName, nil
}

func (f *fakeAdmins) ChangePassword(id uuid.UUID, newPassword string) error {
	f.password = newPassword
	return nil
}

func (f *fakeAdmins) TOTPSecret(adminID uuid.UUID) (string, error) { return f.secret, nil }

func (f *fakeAdmins) SaveTOTPSecret(adminID uuid.UUID, secret string) error {
	f.secret = secret
	return nil
}

// fakeRememberRepo is an in-memory remember-token repository
type fakeRememberRepo struct {
	mu     sync.Mutex
	tokens map[string]*RememberToken
}

func newFakeRememberRepo() *fakeRememberRepo {
	return &fakeRememberRepo{tokens: make(map[string]*RememberToken)}
}

func (f *fakeRememberRepo) Create(token *RememberToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.tokens[token.Selector] = &cp
	return nil
}

func (f *fakeRememberRepo) FindBySelector(selector string) (*RememberToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token, ok := f.tokens[selector]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *token
	return &cp, nil
}

func (f *fakeRememberRepo) Delete(selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, selector)
	return nil
}

func (f *fakeRememberRepo) DeleteAllForAdmin(adminID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for selector, token := range f.tokens {
		if token.AdminID == adminID {
			delete(f.tokens, selector)
		}
	}
	return nil
}

func (f *fakeRememberRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type serviceFixture struct {
	admins   *fakeAdmins
	sessions *fakeSessions
	remember *fakeRememberRepo
	emitter  *captureEmitter
	service  Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		admins:   newFakeAdmins(),
		sessions: newFakeSessions(),
		remember: newFakeRememberRepo(),
		emitter:  &captureEmitter{},
	}
	f.service = NewService(f.admins, f.sessions, f.remember,
		NewAbuseCookieIssuer("test-signing-key"), f.emitter, time.Hour)
	return f
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newServiceFixture()

		result, err := f.service.Login(context.Background(), "root", "correct horse",
			testRequestContext(), false, "")
		require.NoError(t, err)

		assert.NotEmpty(t, result.Token)
		assert.Equal(t, f.admins.account.ID, result.Session.AdminID)
		assert.NotNil(t, result.Abuse)
		assert.Empty(t, result.RememberCookie)

		// The raw token resolves back to the created session.
		sess, err := f.sessions.Validate(result.Token)
		require.NoError(t, err)
		assert.Equal(t, result.Session.ID, sess.ID)
	})

	t.Run("wrong password", func(t *testing.T) {
		f := newServiceFixture()

		_, err := f.service.Login(context.Background(), "root", "wrong",
			testRequestContext(), false, "")
		assert.ErrorIs(t, err, admin.ErrInvalidCredentials)
		assert.Contains(t, f.emitter.kinds(), signals.KindLoginFailed)
	})

	t.Run("unknown username gets the same error", func(t *testing.T) {
		f := newServiceFixture()

		_, err := f.service.Login(context.Background(), "nobody", "correct horse",
			testRequestContext(), false, "")
		assert.ErrorIs(t, err, admin.ErrInvalidCredentials)
	})

	t.Run("remember issues a selector validator pair", func(t *testing.T) {
		f := newServiceFixture()

		result, err := f.service.Login(context.Background(), "root", "correct horse",
			testRequestContext(), true, "")
		require.NoError(t, err)
		require.NotEmpty(t, result.RememberCookie)

		selector, validator, err := splitRememberCookie(result.RememberCookie)
		require.NoError(t, err)

		stored, err := f.remember.FindBySelector(selector)
		require.NoError(t, err)
		// Only the hash is stored.
		assert.NotEqual(t, validator, stored.ValidatorHash)
		assert.True(t, validatorMatches(validator, stored.ValidatorHash))
	})

	t.Run("existing device id survives re-login", func(t *testing.T) {
		f := newServiceFixture()

		result, err := f.service.Login(context.Background(), "root", "correct horse",
			testRequestContext(), false, "device-42")
		require.NoError(t, err)
		require.NotNil(t, result.Abuse)
		assert.Equal(t, "device-42", result.Abuse.DeviceID)
	})
}

func TestLogout(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.Login(context.Background(), "root", "correct horse",
		testRequestContext(), true, "")
	require.NoError(t, err)

	actor := ActorContext{AdminID: result.Admin.ID, SessionID: result.Session.ID}
	f.service.Logout(context.Background(), actor, result.RememberCookie)

	_, err = f.sessions.Validate(result.Token)
	assert.ErrorIs(t, err, session.ErrRevokedSession)
	assert.Equal(t, 0, f.remember.count())
}

func TestRedeemRememberToken(t *testing.T) {
	login := func(t *testing.T, f *serviceFixture) *LoginResult {
		t.Helper()
		result, err := f.service.Login(context.Background(), "root", "correct horse",
			testRequestContext(), true, "")
		require.NoError(t, err)
		require.NotEmpty(t, result.RememberCookie)
		return result
	}

	t.Run("valid token creates session and rotates", func(t *testing.T) {
		f := newServiceFixture()
		first := login(t, f)

		result, err := f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		require.NoError(t, err)

		assert.NotEqual(t, first.Token, result.Token)
		assert.NotEqual(t, first.RememberCookie, result.RememberCookie)
		assert.NotEmpty(t, result.RememberCookie)

		_, err = f.sessions.Validate(result.Token)
		assert.NoError(t, err)
	})

	t.Run("token is single use", func(t *testing.T) {
		f := newServiceFixture()
		first := login(t, f)

		_, err := f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		require.NoError(t, err)

		_, err = f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		assert.ErrorIs(t, err, ErrInvalidRememberToken)
	})

	t.Run("tampered validator is rejected and consumed", func(t *testing.T) {
		f := newServiceFixture()
		first := login(t, f)

		selector, _, err := splitRememberCookie(first.RememberCookie)
		require.NoError(t, err)

		_, err = f.service.RedeemRememberToken(context.Background(),
			selector+":forged-validator", testRequestContext(), "")
		assert.ErrorIs(t, err, ErrInvalidRememberToken)

		// The row is gone, so the genuine cookie cannot be replayed either.
		_, err = f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		assert.ErrorIs(t, err, ErrInvalidRememberToken)
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		f := newServiceFixture()
		first := login(t, f)

		selector, _, err := splitRememberCookie(first.RememberCookie)
		require.NoError(t, err)
		stored, err := f.remember.FindBySelector(selector)
		require.NoError(t, err)
		stored.ExpiresAt = time.Now().Add(-time.Minute)
		require.NoError(t, f.remember.Create(stored))

		_, err = f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		assert.ErrorIs(t, err, ErrInvalidRememberToken)
	})

	t.Run("inactive admin is rejected", func(t *testing.T) {
		f := newServiceFixture()
		first := login(t, f)
		f.admins.account.IsActive = false

		_, err := f.service.RedeemRememberToken(context.Background(),
			first.RememberCookie, testRequestContext(), "")
		assert.ErrorIs(t, err, ErrInvalidRememberToken)
	})

	t.Run("malformed cookie", func(t *testing.T) {
		f := newServiceFixture()
		for _, value := range []string{"", "no-separator", ":missing-selector", "missing-validator:"} {
			_, err := f.service.RedeemRememberToken(context.Background(),
				value, testRequestContext(), "")
			assert.ErrorIs(t, err, ErrInvalidRememberToken, value)
		}
	})
}
