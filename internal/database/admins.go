package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
)

// CountOtherActiveAdmins counts active Admins other than excludeUserID.
func CountOtherActiveAdmins(db *gorm.DB, excludeUserID string) (int64, error) {
	var admins int64
	if err := db.Model(&models.User{}).
		Where("role_id = ? AND is_active = ? AND id <> ?", models.RoleIDAdmin, true, excludeUserID).
		Count(&admins).Error; err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return admins, nil
}
