package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

const maxMinGroupSize = 1000

// UpdateAnonymityInput lists the anonymity fields an administrator may change.
type UpdateAnonymityInput struct {
	MinGroupSize     *int
	AnonymizeContent *bool
	StoreSubmitterIP *bool
	RedactNames      *bool
}

// AnonymityService reads and updates the singleton anonymity configuration.
type AnonymityService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewAnonymityService constructs an AnonymityService.
func NewAnonymityService(db *gorm.DB, auditService *AuditService) (*AnonymityService, error) {
	if db == nil {
		return nil, errors.New("anonymity service: db is required")
	}
	return &AnonymityService{db: db, auditService: auditService}, nil
}

// Get returns the current settings, creating the default row when missing.
func (s *AnonymityService) Get(ctx context.Context) (*models.AnonymitySettings, error) {
	return loadAnonymitySettings(ensureContext(ctx), s.db)
}

// Update applies the supplied changes to the singleton row.
func (s *AnonymityService) Update(ctx context.Context, input UpdateAnonymityInput) (*models.AnonymitySettings, error) {
	ctx = ensureContext(ctx)

	updates := map[string]any{}
	if input.MinGroupSize != nil {
		if *input.MinGroupSize < 1 || *input.MinGroupSize > maxMinGroupSize {
			return nil, apperrors.NewBadRequest(fmt.Sprintf("min_group_size must be between 1 and %d", maxMinGroupSize))
		}
		updates["min_group_size"] = *input.MinGroupSize
	}
	if input.AnonymizeContent != nil {
		updates["anonymize_content"] = *input.AnonymizeContent
	}
	if input.StoreSubmitterIP != nil {
		updates["store_submitter_ip"] = *input.StoreSubmitterIP
	}
	if input.RedactNames != nil {
		updates["redact_names"] = *input.RedactNames
	}

	if _, err := loadAnonymitySettings(ctx, s.db); err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return loadAnonymitySettings(ctx, s.db)
	}

	audit := make(map[string]any, len(updates))
	for k, v := range updates {
		audit[k] = v
	}
	if actor, ok := ActorFromContext(ctx); ok {
		updates["updated_by"] = actor.UserID
	}

	if err := s.db.WithContext(ctx).
		Model(&models.AnonymitySettings{}).
		Where("id = ?", models.AnonymitySettingsID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("anonymity service: update: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "anonymity.update",
		Resource: models.AnonymitySettingsID,
		Result:   AuditResultSuccess,
		Metadata: audit,
	})

	return loadAnonymitySettings(ctx, s.db)
}

// loadAnonymitySettings reads the singleton row, inserting defaults when it
// does not exist yet.
func loadAnonymitySettings(ctx context.Context, db *gorm.DB) (*models.AnonymitySettings, error) {
	var settings models.AnonymitySettings
	err := db.WithContext(ctx).Take(&settings, "id = ?", models.AnonymitySettingsID).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("anonymity settings: load: %w", err)
	}

	defaults := models.DefaultAnonymitySettings()
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error; err != nil {
		return nil, fmt.Errorf("anonymity settings: create defaults: %w", err)
	}
	if err := db.WithContext(ctx).Take(&settings, "id = ?", models.AnonymitySettingsID).Error; err != nil {
		return nil, fmt.Errorf("anonymity settings: reload: %w", err)
	}
	return &settings, nil
}
