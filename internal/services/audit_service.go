package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/logger"
)

// AuditResultSuccess is the result recorded for completed admin actions.
const AuditResultSuccess = "success"

// ErrAuditFeedback rejects audit entries about feedback. Linking an actor to a
// submission would break anonymity.
var ErrAuditFeedback = errors.New("audit service: feedback actions are never audited")

// AuditEntry is one administrative action to persist.
type AuditEntry struct {
	ActorID   *string
	Actor     string
	Action    string
	Resource  string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditFilters narrow an audit listing. Empty fields do not filter.
type AuditFilters struct {
	ActorID  string
	Action   string
	Result   string
	Resource string
	Since    *time.Time
	Until    *time.Time
}

// AuditListOptions pages through filtered audit entries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService is the append-only log of admin actions.
type AuditService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, now: time.Now}, nil
}

// Log persists the entry.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	row, err := auditRow(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ensureContext(ctx)).Create(row).Error
}

func auditRow(entry AuditEntry) (*models.AuditLog, error) {
	action := strings.TrimSpace(entry.Action)
	result := strings.TrimSpace(entry.Result)
	switch {
	case action == "":
		return nil, errors.New("audit service: action is required")
	case result == "":
		return nil, errors.New("audit service: result is required")
	case strings.HasPrefix(action, "feedback."):
		return nil, ErrAuditFeedback
	}

	row := &models.AuditLog{
		Action:    action,
		Result:    result,
		Resource:  strings.TrimSpace(entry.Resource),
		Actor:     strings.TrimSpace(entry.Actor),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
	}
	if entry.ActorID != nil {
		if id := strings.TrimSpace(*entry.ActorID); id != "" {
			row.ActorID = &id
		}
	}
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(encoded)
	}
	return row, nil
}

// List returns one page of entries, newest first, and the filtered total.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	_, perPage, offset := normalisePage(opts.Page, opts.PageSize)
	query := opts.Filters.apply(s.db.WithContext(ensureContext(ctx)).Model(&models.AuditLog{}))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	var logs []models.AuditLog
	if err := query.Order("created_at DESC").Offset(offset).Limit(perPage).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, total, nil
}

func (f AuditFilters) apply(query *gorm.DB) *gorm.DB {
	for column, value := range map[string]string{
		"actor_id": f.ActorID,
		"action":   f.Action,
		"result":   f.Result,
		"resource": f.Resource,
	} {
		if value != "" {
			query = query.Where(column+" = ?", value)
		}
	}
	if f.Since != nil {
		query = query.Where("created_at >= ?", f.Since.UTC())
	}
	if f.Until != nil {
		query = query.Where("created_at <= ?", f.Until.UTC())
	}
	return query
}

// CleanupOlderThan deletes entries older than retentionDays.
func (s *AuditService) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("audit service: retentionDays must be positive")
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	res := s.db.WithContext(ensureContext(ctx)).Where("created_at < ?", cutoff).Delete(&models.AuditLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// recordAudit writes entry without failing the caller, filling actor details
// the entry leaves blank from ctx.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := ActorFromContext(ctx); ok {
		if entry.ActorID == nil && actor.UserID != "" {
			entry.ActorID = &actor.UserID
		}
		entry.Actor = cmp.Or(entry.Actor, actor.Email)
		entry.IPAddress = cmp.Or(entry.IPAddress, actor.IPAddress)
		entry.UserAgent = cmp.Or(entry.UserAgent, actor.UserAgent)
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err),
		)
	}
}
