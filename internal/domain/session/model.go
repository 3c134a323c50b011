package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/Anvoria/backoffice/internal/database"
)

// Session maps a bearer token (stored as a hash) to an admin identity. The
// raw token never touches the database.
type Session struct {
	database.BaseModel

	AdminID   uuid.UUID `gorm:"column:admin_id;type:uuid;not null;index"`
	TokenHash string    `gorm:"column:token_hash;uniqueIndex;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
	Revoked   bool      `gorm:"column:revoked;default:false"`

	IPAddress string `gorm:"column:ip_address;type:text"`
	UserAgent string `gorm:"column:user_agent;type:text"`

	LastUsedAt time.Time `gorm:"column:last_used_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// RemainingTTL returns how long the session stays valid from now
func (s *Session) RemainingTTL(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}
