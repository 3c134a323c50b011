package admin

import (
	"time"

	"github.com/google/uuid"

	"github.com/Anvoria/backoffice/internal/database"
)

// Admin is a back-office operator account
type Admin struct {
	database.BaseModel
	Username         string `gorm:"column:username;unique;not null"`
	Email            string `gorm:"column:email;unique;not null"`
	DisplayName      string `gorm:"column:display_name;not null"`
	PasswordHash     string `gorm:"column:password_hash;not null"`
	PasswordPepperID string `gorm:"column:password_pepper_id;not null"`
	// TOTPSecret is empty until the admin completes second-factor enrollment
	TOTPSecret string `gorm:"column:totp_secret;type:text"`
	IsActive   bool   `gorm:"column:is_active;default:true"`
}

func (Admin) TableName() string {
	return "admins"
}

// AdminResponse is the safe JSON shape for an admin
type AdminResponse struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	TOTPEnrolled bool      `json:"totp_enrolled"`
	IsActive     bool      `json:"is_active"`
}

// ToResponse converts an Admin to a safe response
func (a *Admin) ToResponse() *AdminResponse {
	return &AdminResponse{
		ID:           a.ID,
		CreatedAt:    a.CreatedAt,
		Username:     a.Username,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		TOTPEnrolled: a.TOTPSecret != "",
		IsActive:     a.IsActive,
	}
}
