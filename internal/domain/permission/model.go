package permission

import (
	"github.com/google/uuid"

	"github.com/Anvoria/backoffice/internal/database"
)

// AdminPermission marks that an admin may perform a named operation
type AdminPermission struct {
	database.BaseModel
	AdminID   uuid.UUID `gorm:"column:admin_id;type:uuid;not null;uniqueIndex:idx_admin_operation"`
	Operation string    `gorm:"column:operation;size:128;not null;uniqueIndex:idx_admin_operation"`
}

func (AdminPermission) TableName() string {
	return "admin_permissions"
}
