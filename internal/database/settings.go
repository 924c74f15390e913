package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/candorhq/candor/internal/models"
)

// GetSetting retrieves a setting by key. Returns an empty string when not found.
func GetSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("settings: db is nil")
	}

	var setting models.Setting
	err := db.WithContext(ctx).Take(&setting, "setting_key = ?", key).Error
	if err == nil {
		return setting.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if strings.Contains(err.Error(), "no such table") {
		return "", nil
	}
	return "", fmt.Errorf("settings: get %q: %w", key, err)
}

// UpsertSetting stores or replaces a setting value in a single statement.
func UpsertSetting(ctx context.Context, db *gorm.DB, key, value, updatedBy string) (*models.Setting, error) {
	if db == nil {
		return nil, fmt.Errorf("settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("settings: key is required")
	}

	record := models.Setting{
		Key:       key,
		Value:     value,
		UpdatedBy: updatedBy,
	}

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("settings: upsert %q: %w", key, err)
	}

	var stored models.Setting
	if err := db.WithContext(ctx).Take(&stored, "setting_key = ?", key).Error; err != nil {
		return nil, fmt.Errorf("settings: reload %q: %w", key, err)
	}
	return &stored, nil
}

// DeleteSetting removes a setting. It reports whether a row was deleted.
func DeleteSetting(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("settings: db is nil")
	}
	res := db.WithContext(ctx).Where("setting_key = ?", key).Delete(&models.Setting{})
	if res.Error != nil {
		return false, fmt.Errorf("settings: delete %q: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}
