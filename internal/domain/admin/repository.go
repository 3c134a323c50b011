package admin

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository interface for admin persistence
type Repository interface {
	Create(admin *Admin) error
	FindByID(id uuid.UUID) (*Admin, error)
	FindByUsername(username string) (*Admin, error)
	Update(admin *Admin) error
	UpdateTOTPSecret(id uuid.UUID, secret string) error
	UpdatePassword(id uuid.UUID, hash, pepperID string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new admin repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(admin *Admin) error {
	return r.db.Create(admin).Error
}

func (r *repository) FindByID(id uuid.UUID) (*Admin, error) {
	var a Admin
	if err := r.db.Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) FindByUsername(username string) (*Admin, error) {
	var a Admin
	if err := r.db.Where("username = ?", username).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repository) Update(admin *Admin) error {
	return r.db.Save(admin).Error
}

func (r *repository) UpdateTOTPSecret(id uuid.UUID, secret string) error {
	return r.db.Model(&Admin{}).
		Where("id = ?", id).
		Update("totp_secret", secret).Error
}

func (r *repository) UpdatePassword(id uuid.UUID, hash, pepperID string) error {
	return r.db.Model(&Admin{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":      hash,
			"password_pepper_id": pepperID,
		}).Error
}
