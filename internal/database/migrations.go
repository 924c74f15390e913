package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
)

// schema lists every persisted model in dependency order: teams before users,
// feedback before its analysis jobs.
var schema = []any{
	&models.Role{},
	&models.Team{},
	&models.User{},
	&models.Invitation{},
	&models.Feedback{},
	&models.AnalysisJob{},
	&models.Setting{},
	&models.AnonymitySettings{},
	&models.MagicLink{},
	&models.Session{},
	&models.CacheEntry{},
	&models.AuditLog{},
}

var builtinRoles = []struct {
	id, name, description string
}{
	{models.RoleIDStaff, models.RoleStaff, "Submit feedback"},
	{models.RoleIDLeadership, models.RoleLeadership, "Review analysed feedback"},
	{models.RoleIDAdmin, models.RoleAdmin, "Full administrative access"},
}

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(schema...)
}

// SeedData inserts the built-in roles and default anonymity settings.
// Rows that already exist keep their current values.
func SeedData(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for _, r := range builtinRoles {
			role := models.Role{BaseModel: models.BaseModel{ID: r.id}, Name: r.name, Description: r.description}
			if err := tx.Where("id = ?", r.id).Attrs(role).FirstOrCreate(&models.Role{}).Error; err != nil {
				return fmt.Errorf("seed role %s: %w", r.id, err)
			}
		}

		defaults := models.DefaultAnonymitySettings()
		if err := tx.Where("id = ?", defaults.ID).Attrs(defaults).FirstOrCreate(&models.AnonymitySettings{}).Error; err != nil {
			return fmt.Errorf("seed anonymity settings: %w", err)
		}
		return nil
	})
}
