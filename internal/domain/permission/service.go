package permission

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service checks whether an admin may perform a named operation
type Service interface {
	HasPermission(adminID uuid.UUID, operation string) (bool, error)
	Grant(adminID uuid.UUID, operation string) error
	Revoke(adminID uuid.UUID, operation string) error
}

type service struct {
	db *gorm.DB
}

// NewService creates a permission service
func NewService(db *gorm.DB) Service {
	return &service{db}
}

func (s *service) HasPermission(adminID uuid.UUID, operation string) (bool, error) {
	var perm AdminPermission
	err := s.db.Where("admin_id = ? AND operation = ?", adminID, operation).First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *service) Grant(adminID uuid.UUID, operation string) error {
	perm := &AdminPermission{AdminID: adminID, Operation: operation}
	err := s.db.Create(perm).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (s *service) Revoke(adminID uuid.UUID, operation string) error {
	return s.db.Where("admin_id = ? AND operation = ?", adminID, operation).
		Delete(&AdminPermission{}).Error
}
