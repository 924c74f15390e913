package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/database"
	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

var (
	// ErrLastAdmin prevents removing the final active administrator.
	ErrLastAdmin = apperrors.New("LAST_ADMIN", "At least one active Admin is required", http.StatusConflict)
	// ErrSelfDeactivation stops administrators from locking themselves out.
	ErrSelfDeactivation = apperrors.New("SELF_DEACTIVATION", "You cannot deactivate your own account", http.StatusBadRequest)
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) error
}

// UserFilters captures listing filters.
type UserFilters struct {
	Role     string
	TeamID   string
	IsActive *bool
	Query    string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UpdateUserInput enumerates attributes an administrator may change. An
// empty TeamID clears the team.
type UpdateUserInput struct {
	Name   *string
	Role   *string
	TeamID *string
}

// UserService lets administrators manage accounts. Accounts themselves are
// created by sign-in.
type UserService struct {
	db           *gorm.DB
	auditService *AuditService
	sessions     SessionRevoker
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, auditService *AuditService, sessions SessionRevoker) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, auditService: auditService, sessions: sessions}, nil
}

// List returns users with their role and team, newest first.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)

	_, perPage, offset := normalisePage(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.User{})
	if role := strings.TrimSpace(opts.Filters.Role); role != "" {
		roleID, ok := auth.RoleID(role)
		if !ok {
			return nil, 0, ErrInvalidRole
		}
		query = query.Where("role_id = ?", roleID)
	}
	if teamID := strings.TrimSpace(opts.Filters.TeamID); teamID != "" {
		query = query.Where("team_id = ?", teamID)
	}
	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if q := strings.ToLower(strings.TrimSpace(opts.Filters.Query)); q != "" {
		like := "%" + q + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Preload("Role").
		Preload("Team").
		Order("created_at DESC").
		Offset(offset).
		Limit(perPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// GetByID loads a user with role and team.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Preload("Role").Preload("Team").First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// Update changes a user's name, role or team. Demoting the last active Admin
// is refused.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	updates := map[string]any{}
	var recount []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, id)
		if err != nil {
			return err
		}

		if input.Name != nil {
			updates["name"] = strings.TrimSpace(*input.Name)
		}

		if input.Role != nil {
			roleID, ok := auth.RoleID(*input.Role)
			if !ok {
				return ErrInvalidRole
			}
			if derefString(user.RoleID) != roleID {
				if derefString(user.RoleID) == models.RoleIDAdmin && user.IsActive {
					if err := ensureAnotherAdmin(tx, user.ID); err != nil {
						return err
					}
				}
				updates["role_id"] = roleID
			}
		}

		if input.TeamID != nil {
			teamID := strings.TrimSpace(*input.TeamID)
			current := derefString(user.TeamID)
			if teamID != current {
				if teamID == "" {
					updates["team_id"] = nil
				} else {
					var count int64
					if err := tx.Model(&models.Team{}).Where("id = ?", teamID).Count(&count).Error; err != nil {
						return fmt.Errorf("user service: check team: %w", err)
					}
					if count == 0 {
						return ErrTeamNotFound
					}
					updates["team_id"] = teamID
				}
				recount = normaliseIDs([]string{current, teamID})
			}
		}

		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("user service: update user: %w", err)
		}
		if len(recount) > 0 {
			return database.RecountTeams(tx, recount...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(updates) > 0 {
		recordAudit(s.auditService, ctx, AuditEntry{
			Action:   "user.update",
			Resource: id,
			Result:   AuditResultSuccess,
			Metadata: updates,
		})
	}

	return s.GetByID(ctx, id)
}

// Deactivate disables an account and revokes its sessions.
func (s *UserService) Deactivate(ctx context.Context, id string) (*models.User, error) {
	return s.setActive(ctx, id, false)
}

// Activate re-enables a disabled account.
func (s *UserService) Activate(ctx context.Context, id string) (*models.User, error) {
	return s.setActive(ctx, id, true)
}

func (s *UserService) setActive(ctx context.Context, id string, active bool) (*models.User, error) {
	ctx = ensureContext(ctx)

	if actor, ok := ActorFromContext(ctx); ok && !active && actor.UserID == strings.TrimSpace(id) {
		return nil, ErrSelfDeactivation
	}

	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, id)
		if err != nil {
			return err
		}
		if user.IsActive == active {
			return nil
		}
		if !active && derefString(user.RoleID) == models.RoleIDAdmin {
			if err := ensureAnotherAdmin(tx, user.ID); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", active).Error; err != nil {
			return fmt.Errorf("user service: update status: %w", err)
		}
		changed = true
		if user.TeamID != nil {
			return database.RecountTeams(tx, *user.TeamID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed && !active && s.sessions != nil {
		if err := s.sessions.RevokeUserSessions(ctx, id); err != nil {
			return nil, fmt.Errorf("user service: revoke sessions: %w", err)
		}
	}

	if changed {
		action := "user.activate"
		if !active {
			action = "user.deactivate"
		}
		recordAudit(s.auditService, ctx, AuditEntry{
			Action:   action,
			Resource: id,
			Result:   AuditResultSuccess,
		})
	}

	return s.GetByID(ctx, id)
}

func ensureAnotherAdmin(tx *gorm.DB, excludeUserID string) error {
	admins, err := database.CountOtherActiveAdmins(tx, excludeUserID)
	if err != nil {
		return err
	}
	if admins == 0 {
		return ErrLastAdmin
	}
	return nil
}
