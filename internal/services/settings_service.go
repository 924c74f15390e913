package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/database"
	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

const maxSettingValueLength = 16 * 1024

var (
	// ErrSettingNotFound indicates the key has no stored value.
	ErrSettingNotFound = apperrors.New("SETTING_NOT_FOUND", "Setting not found", http.StatusNotFound)

	settingKeyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]{0,127}$`)
)

// SettingsService exposes the key/value settings table to administrators.
type SettingsService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(db *gorm.DB, auditService *AuditService) (*SettingsService, error) {
	if db == nil {
		return nil, errors.New("settings service: db is required")
	}
	return &SettingsService{db: db, auditService: auditService}, nil
}

// List returns every setting ordered by key.
func (s *SettingsService) List(ctx context.Context) ([]models.Setting, error) {
	ctx = ensureContext(ctx)

	var settings []models.Setting
	if err := s.db.WithContext(ctx).Order("setting_key ASC").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("settings service: list: %w", err)
	}
	return settings, nil
}

// Get returns a single setting.
func (s *SettingsService) Get(ctx context.Context, key string) (*models.Setting, error) {
	ctx = ensureContext(ctx)

	key, err := normaliseSettingKey(key)
	if err != nil {
		return nil, err
	}

	var setting models.Setting
	err = s.db.WithContext(ctx).Take(&setting, "setting_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings service: get %q: %w", key, err)
	}
	return &setting, nil
}

// Upsert creates or replaces the value stored under key.
func (s *SettingsService) Upsert(ctx context.Context, key, value string) (*models.Setting, error) {
	ctx = ensureContext(ctx)

	key, err := normaliseSettingKey(key)
	if err != nil {
		return nil, err
	}
	if len(value) > maxSettingValueLength {
		return nil, apperrors.NewBadRequest("setting value is too long")
	}

	var updatedBy string
	if actor, ok := ActorFromContext(ctx); ok {
		updatedBy = actor.UserID
	}

	setting, err := database.UpsertSetting(ctx, s.db, key, value, updatedBy)
	if err != nil {
		return nil, err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "setting.upsert",
		Resource: key,
		Result:   AuditResultSuccess,
	})
	return setting, nil
}

// Delete removes a setting.
func (s *SettingsService) Delete(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)

	key, err := normaliseSettingKey(key)
	if err != nil {
		return err
	}

	deleted, err := database.DeleteSetting(ctx, s.db, key)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSettingNotFound
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "setting.delete",
		Resource: key,
		Result:   AuditResultSuccess,
	})
	return nil
}

func normaliseSettingKey(key string) (string, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if !settingKeyPattern.MatchString(key) {
		return "", apperrors.NewBadRequest("setting key must be 1-128 characters of a-z, 0-9, '.', '_' or '-'")
	}
	return key, nil
}
