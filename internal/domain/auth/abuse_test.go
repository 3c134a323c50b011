package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequestContext() RequestContext {
	return RequestContext{
		RequestID: "req-1",
		IP:        "203.0.113.9",
		UserAgent: "Mozilla/5.0 (test)",
		Route:     "auth.login",
	}
}

func TestAbuseCookieIssue(t *testing.T) {
	issuer := NewAbuseCookieIssuer("abuse-signing-key")
	rc := testRequestContext()

	cookie, err := issuer.Issue("session-token", rc, "")
	require.NoError(t, err)

	assert.NotEmpty(t, cookie.DeviceID)
	assert.Equal(t, 180*24*time.Hour, cookie.DeviceTTL)
	assert.Equal(t, 30*24*time.Hour, cookie.SignatureTTL)
	assert.False(t, cookie.IssuedAt.IsZero())

	// The signature must not leak any raw request attribute.
	assert.NotContains(t, cookie.Signature, "session-token")
	assert.NotContains(t, cookie.Signature, rc.IP)

	assert.True(t, issuer.Verify(cookie.Signature, cookie.DeviceID, "session-token", rc))
}

func TestAbuseCookieKeepsExistingDeviceID(t *testing.T) {
	issuer := NewAbuseCookieIssuer("abuse-signing-key")

	cookie, err := issuer.Issue("session-token", testRequestContext(), "known-device")
	require.NoError(t, err)
	assert.Equal(t, "known-device", cookie.DeviceID)
}

func TestAbuseCookieVerifyRejectsMismatches(t *testing.T) {
	issuer := NewAbuseCookieIssuer("abuse-signing-key")
	rc := testRequestContext()

	cookie, err := issuer.Issue("session-token", rc, "")
	require.NoError(t, err)

	t.Run("different session token", func(t *testing.T) {
		assert.False(t, issuer.Verify(cookie.Signature, cookie.DeviceID, "other-token", rc))
	})

	t.Run("different device id", func(t *testing.T) {
		assert.False(t, issuer.Verify(cookie.Signature, "other-device", "session-token", rc))
	})

	t.Run("different client address", func(t *testing.T) {
		moved := rc
		moved.IP = "198.51.100.7"
		assert.False(t, issuer.Verify(cookie.Signature, cookie.DeviceID, "session-token", moved))
	})

	t.Run("different user agent", func(t *testing.T) {
		changed := rc
		changed.UserAgent = "curl/8.0"
		assert.False(t, issuer.Verify(cookie.Signature, cookie.DeviceID, "session-token", changed))
	})

	t.Run("wrong signing key", func(t *testing.T) {
		other := NewAbuseCookieIssuer("different-key")
		assert.False(t, other.Verify(cookie.Signature, cookie.DeviceID, "session-token", rc))
	})

	t.Run("tampered signature", func(t *testing.T) {
		tampered := strings.Replace(cookie.Signature, ".", ".x", 1)
		assert.False(t, issuer.Verify(tampered, cookie.DeviceID, "session-token", rc))
	})
}

func TestAbuseCookieExpiredSignature(t *testing.T) {
	issuer := NewAbuseCookieIssuer("abuse-signing-key")
	issuer.now = func() time.Time { return time.Now().Add(-31 * 24 * time.Hour) }
	rc := testRequestContext()

	cookie, err := issuer.Issue("session-token", rc, "")
	require.NoError(t, err)

	issuer.now = time.Now
	assert.False(t, issuer.Verify(cookie.Signature, cookie.DeviceID, "session-token", rc))
}
