package auth

import (
	"crypto/sha3"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const (
	// DeviceCookieName carries the long-lived device identifier.
	DeviceCookieName = "abuse_device_id"
	// SignatureCookieName carries the signed binding of device, session and
	// request attributes.
	SignatureCookieName = "abuse_device_sig"

	deviceTTL    = 180 * 24 * time.Hour
	signatureTTL = 30 * 24 * time.Hour
)

// AbuseCookie is the pair of values handed to the transport layer after a
// successful login. The device identifier outlives the signature so repeat
// offenders stay correlated across sessions.
type AbuseCookie struct {
	DeviceID     string
	DeviceTTL    time.Duration
	Signature    string
	SignatureTTL time.Duration
	IssuedAt     time.Time
}

// AbuseCookieIssuer mints and verifies abuse-tracking cookies. The signature
// is an HS256 JWS over hashes of the session token and request attributes;
// raw tokens and addresses never appear in the cookie.
type AbuseCookieIssuer struct {
	key []byte
	now func() time.Time
}

func NewAbuseCookieIssuer(signingKey string) *AbuseCookieIssuer {
	return &AbuseCookieIssuer{
		key: []byte(signingKey),
		now: time.Now,
	}
}

// Issue builds an abuse cookie for a freshly created session. An existing
// device identifier is kept so the device history survives re-login; a new
// one is minted otherwise.
func (i *AbuseCookieIssuer) Issue(sessionToken string, rc RequestContext, existingDeviceID string) (*AbuseCookie, error) {
	deviceID := existingDeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := i.now()
	token, err := jwt.NewBuilder().
		IssuedAt(now).
		Expiration(now.Add(signatureTTL)).
		Claim("did", deviceID).
		Claim("sth", digest(sessionToken)).
		Claim("iph", digest(rc.IP)).
		Claim("uah", digest(rc.UserAgent)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build abuse claims: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), i.key))
	if err != nil {
		return nil, fmt.Errorf("failed to sign abuse cookie: %w", err)
	}

	return &AbuseCookie{
		DeviceID:     deviceID,
		DeviceTTL:    deviceTTL,
		Signature:    string(signed),
		SignatureTTL: signatureTTL,
		IssuedAt:     now,
	}, nil
}

// Verify reports whether a presented signature is valid, unexpired and bound
// to the given device, session token and request attributes.
func (i *AbuseCookieIssuer) Verify(signature, deviceID, sessionToken string, rc RequestContext) bool {
	token, err := jwt.Parse([]byte(signature), jwt.WithKey(jwa.HS256(), i.key))
	if err != nil {
		return false
	}
	return claimMatches(token, "did", deviceID) &&
		claimMatches(token, "sth", digest(sessionToken)) &&
		claimMatches(token, "iph", digest(rc.IP)) &&
		claimMatches(token, "uah", digest(rc.UserAgent))
}

func claimMatches(token jwt.Token, name, want string) bool {
	var got string
	if err := token.Get(name, &got); err != nil {
		return false
	}
	return got == want
}

func digest(value string) string {
	sum := sha3.Sum256([]byte(value))
	return base64.RawStdEncoding.EncodeToString(sum[:])
}
