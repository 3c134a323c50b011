package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Anvoria/backoffice/internal/domain/admin"
	"github.com/Anvoria/backoffice/internal/domain/auth"
	"github.com/Anvoria/backoffice/internal/domain/permission"
	"github.com/Anvoria/backoffice/internal/domain/session"
	"github.com/Anvoria/backoffice/internal/domain/stepup"
)

// RunMigrations applies the schema for all persisted models
func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&admin.Admin{},
		&session.Session{},
		&stepup.GrantRecord{},
		&permission.AdminPermission{},
		&auth.RememberToken{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
