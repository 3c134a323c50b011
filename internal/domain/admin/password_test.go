package admin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Anvoria/backoffice/internal/config"
)

func testHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(config.PepperConfig{
		Active: "v2",
		Keys: map[string]string{
			"v1": "old-pepper-key",
			"v2": "current-pepper-key",
		},
	})
	require.NoError(t, err)
	return h
}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := testHasher(t)

	hash, pepperID, err := h.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, "v2", pepperID)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, h.Verify("correct horse battery staple", hash, pepperID))
	assert.False(t, h.Verify("wrong password", hash, pepperID))
}

func TestPasswordHasher_WrongPepperIDFails(t *testing.T) {
	h := testHasher(t)

	hash, pepperID, err := h.Hash("secret")
	require.NoError(t, err)

	// Same password under a different pepper must not verify
	other := "v1"
	require.NotEqual(t, pepperID, other)
	assert.False(t, h.Verify("secret", hash, other))
	assert.False(t, h.Verify("secret", hash, "unknown"))
}

func TestPasswordHasher_RetiredPepperStillVerifies(t *testing.T) {
	old, err := NewPasswordHasher(config.PepperConfig{
		Active: "v1",
		Keys:   map[string]string{"v1": "old-pepper-key"},
	})
	require.NoError(t, err)

	hash, pepperID, err := old.Hash("secret")
	require.NoError(t, err)
	assert.Equal(t, "v1", pepperID)

	// After rotation the hasher carries both keys; v1 hashes keep working
	h := testHasher(t)
	assert.True(t, h.Verify("secret", hash, pepperID))
}

func TestPasswordHasher_MalformedHash(t *testing.T) {
	h := testHasher(t)

	assert.False(t, h.Verify("secret", "not-a-hash", "v2"))
	assert.False(t, h.Verify("secret", "$bcrypt$whatever", "v2"))
	assert.False(t, h.Verify("secret", "", "v2"))
}

func TestNewPasswordHasher_RequiresActiveKey(t *testing.T) {
	_, err := NewPasswordHasher(config.PepperConfig{})
	assert.ErrorIs(t, err, ErrNoActivePepper)

	_, err = NewPasswordHasher(config.PepperConfig{
		Active: "v9",
		Keys:   map[string]string{"v1": "key"},
	})
	assert.ErrorIs(t, err, ErrNoActivePepper)
}
