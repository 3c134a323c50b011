package auth

import (
	"crypto/rand"
	"crypto/sha3"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Anvoria/backoffice/internal/database"
)

const (
	// RememberCookieName carries the selector:validator pair.
	RememberCookieName = "remember_me"

	rememberTTL           = 30 * 24 * time.Hour
	rememberSelectorBytes = 9
	rememberValidatorSize = 32
)

// RememberToken is a single-use long-lived login token. Only the validator
// hash is stored; the cookie holds selector:validator so a database leak
// cannot be replayed.
type RememberToken struct {
	database.BaseModel
	Selector      string    `gorm:"uniqueIndex;size:16;not null" json:"-"`
	ValidatorHash string    `gorm:"not null" json:"-"`
	AdminID       uuid.UUID `gorm:"type:uuid;not null;index" json:"admin_id"`
	ExpiresAt     time.Time `gorm:"not null" json:"expires_at"`
}

func (RememberToken) TableName() string {
	return "remember_tokens"
}

// RememberRepository persists remember-me tokens
type RememberRepository interface {
	Create(token *RememberToken) error
	FindBySelector(selector string) (*RememberToken, error)
	Delete(selector string) error
	DeleteAllForAdmin(adminID uuid.UUID) error
}

type rememberRepository struct {
	db *gorm.DB
}

func NewRememberRepository(db *gorm.DB) RememberRepository {
	return &rememberRepository{db: db}
}

func (r *rememberRepository) Create(token *RememberToken) error {
	return r.db.Create(token).Error
}

func (r *rememberRepository) FindBySelector(selector string) (*RememberToken, error) {
	var token RememberToken
	err := r.db.Where("selector = ?", selector).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *rememberRepository) Delete(selector string) error {
	return r.db.Where("selector = ?", selector).Delete(&RememberToken{}).Error
}

func (r *rememberRepository) DeleteAllForAdmin(adminID uuid.UUID) error {
	return r.db.Where("admin_id = ?", adminID).Delete(&RememberToken{}).Error
}

// newRememberCredential generates a selector:validator pair along with the
// validator hash meant for storage.
func newRememberCredential() (cookieValue, selector, validatorHash string, err error) {
	selectorBytes := make([]byte, rememberSelectorBytes)
	if _, err = rand.Read(selectorBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate selector: %w", err)
	}
	validatorBytes := make([]byte, rememberValidatorSize)
	if _, err = rand.Read(validatorBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate validator: %w", err)
	}

	selector = base64.RawURLEncoding.EncodeToString(selectorBytes)
	validator := base64.RawURLEncoding.EncodeToString(validatorBytes)
	return selector + ":" + validator, selector, hashValidator(validator), nil
}

// splitRememberCookie breaks a cookie value into its selector and validator
func splitRememberCookie(value string) (selector, validator string, err error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("malformed remember token")
	}
	return parts[0], parts[1], nil
}

func validatorMatches(validator, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashValidator(validator)), []byte(storedHash)) == 1
}

func hashValidator(validator string) string {
	sum := sha3.Sum256([]byte(validator))
	return base64.RawStdEncoding.EncodeToString(sum[:])
}
