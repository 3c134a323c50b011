package session

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository interface for session persistence
type Repository interface {
	Create(sess *Session) error
	FindByID(id uuid.UUID) (*Session, error)
	// FindByTokenHash returns the session regardless of revocation or expiry;
	// the service maps the record's condition to a distinct failure kind.
	FindByTokenHash(hash string) (*Session, error)
	Revoke(id uuid.UUID) error
	RevokeAllForAdmin(adminID uuid.UUID) error
	UpdateLastUsed(id uuid.UUID, t time.Time) error
	FindByAdminID(adminID uuid.UUID) ([]Session, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new session repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(sess *Session) error {
	return r.db.Create(sess).Error
}

func (r *repository) FindByID(id uuid.UUID) (*Session, error) {
	var sess Session
	if err := r.db.Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *repository) FindByTokenHash(hash string) (*Session, error) {
	var sess Session
	if err := r.db.Where("token_hash = ?", hash).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *repository) Revoke(id uuid.UUID) error {
	return r.db.Model(&Session{}).
		Where("id = ? AND revoked = false", id).
		Update("revoked", true).Error
}

func (r *repository) RevokeAllForAdmin(adminID uuid.UUID) error {
	return r.db.Model(&Session{}).
		Where("admin_id = ? AND revoked = false", adminID).
		Update("revoked", true).Error
}

func (r *repository) UpdateLastUsed(id uuid.UUID, t time.Time) error {
	return r.db.Model(&Session{}).
		Where("id = ? AND revoked = false", id).
		Update("last_used_at", t).Error
}

func (r *repository) FindByAdminID(adminID uuid.UUID) ([]Session, error) {
	var sessions []Session
	if err := r.db.Where("admin_id = ? AND revoked = false", adminID).Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
