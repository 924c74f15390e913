package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/database"
	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

var (
	// ErrTeamNameTaken is returned when a team name collides with another team,
	// ignoring case.
	ErrTeamNameTaken = apperrors.New("TEAM_NAME_TAKEN", "A team with this name already exists", http.StatusConflict)
	// ErrTeamHasMembers blocks deletion of teams that still have users assigned.
	ErrTeamHasMembers = apperrors.New("TEAM_HAS_MEMBERS", "Team still has members", http.StatusBadRequest)
	// ErrTeamMemberAlreadyExists signals the user is already a member of the team.
	ErrTeamMemberAlreadyExists = apperrors.New("TEAM_MEMBER_EXISTS", "User already assigned to team", http.StatusConflict)
	// ErrTeamMemberNotFound indicates the requested membership does not exist.
	ErrTeamMemberNotFound = apperrors.New("TEAM_MEMBER_NOT_FOUND", "User is not a member of the team", http.StatusNotFound)
)

// CreateTeamInput captures new team metadata.
type CreateTeamInput struct {
	Name         string
	Description  string
	DisplayGroup string
}

// UpdateTeamInput describes mutable team fields.
type UpdateTeamInput struct {
	Name         *string
	Description  *string
	DisplayGroup *string
}

// TeamService handles team lifecycle and membership management. A user
// belongs to at most one team; member counters are refreshed on every
// membership change.
type TeamService struct {
	db           *gorm.DB
	auditService *AuditService
}

// NewTeamService constructs a TeamService instance.
func NewTeamService(db *gorm.DB, auditService *AuditService) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	return &TeamService{
		db:           db,
		auditService: auditService,
	}, nil
}

// Create registers a new team. Names are unique regardless of case.
func (s *TeamService) Create(ctx context.Context, input CreateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	name := strings.Join(strings.Fields(input.Name), " ")
	if name == "" {
		return nil, apperrors.NewBadRequest("team name is required")
	}

	team := &models.Team{
		Name:         name,
		Description:  strings.TrimSpace(input.Description),
		DisplayGroup: strings.TrimSpace(input.DisplayGroup),
	}

	if err := s.db.WithContext(ctx).Create(team).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return nil, ErrTeamNameTaken
		}
		return nil, fmt.Errorf("team service: create team: %w", err)
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "team.create",
		Resource: team.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"name": team.Name,
		},
	})

	return team, nil
}

// Update modifies team metadata.
func (s *TeamService) Update(ctx context.Context, id string, input UpdateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	team, err := s.load(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.Join(strings.Fields(*input.Name), " ")
		if name == "" {
			return nil, apperrors.NewBadRequest("team name is required")
		}
		if name != team.Name {
			updates["name"] = name
			updates["name_key"] = models.TeamNameKey(name)
		}
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.DisplayGroup != nil {
		group := strings.TrimSpace(*input.DisplayGroup)
		if group == "" {
			group = team.Name
			if name, ok := updates["name"].(string); ok {
				group = name
			}
		}
		updates["display_group"] = group
	}

	if len(updates) == 0 {
		return team, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.Team{}).Where("id = ?", team.ID).Updates(updates).Error; err != nil {
		if database.IsUniqueConstraintError(err) {
			return nil, ErrTeamNameTaken
		}
		return nil, fmt.Errorf("team service: update team: %w", err)
	}

	updated, err := s.load(ctx, s.db, team.ID)
	if err != nil {
		return nil, fmt.Errorf("team service: reload team: %w", err)
	}

	delete(updates, "name_key")
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "team.update",
		Resource: team.ID,
		Result:   AuditResultSuccess,
		Metadata: updates,
	})

	return updated, nil
}

// GetByID loads a team by identifier.
func (s *TeamService) GetByID(ctx context.Context, id string) (*models.Team, error) {
	return s.load(ensureContext(ctx), s.db, id)
}

// List returns every team ordered by name, with its member counters.
func (s *TeamService) List(ctx context.Context) ([]models.Team, error) {
	ctx = ensureContext(ctx)

	var teams []models.Team
	if err := s.db.WithContext(ctx).Order("name_key ASC").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("team service: list teams: %w", err)
	}
	return teams, nil
}

// Delete removes a team. Teams that still have members are left untouched and
// ErrTeamHasMembers is returned.
func (s *TeamService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	var team *models.Team
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		team = loaded

		var members int64
		if err := tx.Model(&models.User{}).Where("team_id = ?", loaded.ID).Count(&members).Error; err != nil {
			return fmt.Errorf("team service: count members: %w", err)
		}
		if members > 0 {
			return ErrTeamHasMembers
		}

		if err := tx.Model(&models.Invitation{}).Where("team_id = ?", loaded.ID).Update("team_id", nil).Error; err != nil {
			return fmt.Errorf("team service: detach invitations: %w", err)
		}
		if err := tx.Model(&models.Feedback{}).Where("team_id = ?", loaded.ID).Update("team_id", nil).Error; err != nil {
			return fmt.Errorf("team service: detach feedback: %w", err)
		}
		if err := tx.Delete(loaded).Error; err != nil {
			return fmt.Errorf("team service: delete team: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "team.delete",
		Resource: team.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"name": team.Name},
	})

	return nil
}

// AddMember assigns a user to a team, moving them out of any previous team.
func (s *TeamService) AddMember(ctx context.Context, teamID, userID string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(teamID) == "" || strings.TrimSpace(userID) == "" {
		return apperrors.NewBadRequest("team id and user id are required")
	}

	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		team, err := s.load(ctx, tx, teamID)
		if err != nil {
			return err
		}
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if user.TeamID != nil && *user.TeamID == team.ID {
			return ErrTeamMemberAlreadyExists
		}
		previous = derefString(user.TeamID)

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("team_id", team.ID).Error; err != nil {
			return fmt.Errorf("team service: assign member: %w", err)
		}
		return database.RecountTeams(tx, normaliseIDs([]string{team.ID, previous})...)
	})
	if err != nil {
		return err
	}

	metadata := map[string]any{"user_id": userID}
	if previous != "" {
		metadata["previous_team_id"] = previous
	}
	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "team.add_member",
		Resource: teamID,
		Result:   AuditResultSuccess,
		Metadata: metadata,
	})

	return nil
}

// RemoveMember detaches a user from a team.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, userID string) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(teamID) == "" || strings.TrimSpace(userID) == "" {
		return apperrors.NewBadRequest("team id and user id are required")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		team, err := s.load(ctx, tx, teamID)
		if err != nil {
			return err
		}
		user, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		if user.TeamID == nil || *user.TeamID != team.ID {
			return ErrTeamMemberNotFound
		}

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("team_id", nil).Error; err != nil {
			return fmt.Errorf("team service: remove member: %w", err)
		}
		return database.RecountTeams(tx, team.ID)
	})
	if err != nil {
		return err
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "team.remove_member",
		Resource: teamID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"user_id": userID},
	})

	return nil
}

// ListMembers returns the users assigned to a team.
func (s *TeamService) ListMembers(ctx context.Context, teamID string) ([]models.User, error) {
	ctx = ensureContext(ctx)

	team, err := s.load(ctx, s.db, teamID)
	if err != nil {
		return nil, err
	}

	var users []models.User
	if err := s.db.WithContext(ctx).
		Preload("Role").
		Where("team_id = ?", team.ID).
		Order("email ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("team service: list members: %w", err)
	}
	return users, nil
}

// RecountAll refreshes the member counters of every team.
func (s *TeamService) RecountAll(ctx context.Context) error {
	return database.RecountTeams(s.db.WithContext(ensureContext(ctx)))
}

func (s *TeamService) load(ctx context.Context, db *gorm.DB, id string) (*models.Team, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrTeamNotFound
	}

	var team models.Team
	err := db.WithContext(ctx).First(&team, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: load team: %w", err)
	}
	return &team, nil
}

func loadUser(db *gorm.DB, id string) (*models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := db.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &user, nil
}
