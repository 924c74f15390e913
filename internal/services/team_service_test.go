package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

func newTeamService(t *testing.T) (*TeamService, *AuditService) {
	t.Helper()

	db := openServiceTestDB(t)
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)

	teamSvc, err := NewTeamService(db, auditSvc)
	require.NoError(t, err)
	return teamSvc, auditSvc
}

func TestTeamServiceCreateRejectsCaseInsensitiveDuplicate(t *testing.T) {
	teamSvc, _ := newTeamService(t)
	ctx := context.Background()

	team, err := teamSvc.Create(ctx, CreateTeamInput{Name: "  Platform   Engineering "})
	require.NoError(t, err)
	require.Equal(t, "Platform Engineering", team.Name)
	require.Equal(t, "Platform Engineering", team.DisplayGroup)

	_, err = teamSvc.Create(ctx, CreateTeamInput{Name: "platform engineering"})
	require.ErrorIs(t, err, ErrTeamNameTaken)
	require.True(t, apperrors.IsStatus(err, http.StatusConflict))

	teams, err := teamSvc.List(ctx)
	require.NoError(t, err)
	require.Len(t, teams, 1)
}

func TestTeamServiceCreateRequiresName(t *testing.T) {
	teamSvc, _ := newTeamService(t)

	_, err := teamSvc.Create(context.Background(), CreateTeamInput{Name: "   "})
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))
}

func TestTeamServiceRenameCollision(t *testing.T) {
	teamSvc, _ := newTeamService(t)
	ctx := context.Background()

	_, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Support"})
	require.NoError(t, err)
	sales, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Sales", DisplayGroup: "Commercial"})
	require.NoError(t, err)

	name := "SUPPORT"
	_, err = teamSvc.Update(ctx, sales.ID, UpdateTeamInput{Name: &name})
	require.ErrorIs(t, err, ErrTeamNameTaken)

	name = "Field Sales"
	desc := "Outbound"
	updated, err := teamSvc.Update(ctx, sales.ID, UpdateTeamInput{Name: &name, Description: &desc})
	require.NoError(t, err)
	require.Equal(t, "Field Sales", updated.Name)
	require.Equal(t, "Outbound", updated.Description)
	require.Equal(t, "Commercial", updated.DisplayGroup)

	// the old name is free again
	_, err = teamSvc.Create(ctx, CreateTeamInput{Name: "sales"})
	require.NoError(t, err)

	_, err = teamSvc.Update(ctx, "missing", UpdateTeamInput{Name: &name})
	require.ErrorIs(t, err, ErrTeamNotFound)
}

func TestTeamServiceDeleteWithMembersLeavesTeamUnchanged(t *testing.T) {
	teamSvc, _ := newTeamService(t)
	ctx := context.Background()
	db := teamSvc.db

	team, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Operations"})
	require.NoError(t, err)
	member := createUser(t, db, "ops@example.com", models.RoleIDStaff, nil)
	require.NoError(t, teamSvc.AddMember(ctx, team.ID, member.ID))

	err = teamSvc.Delete(ctx, team.ID)
	require.ErrorIs(t, err, ErrTeamHasMembers)
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))

	stored, err := teamSvc.GetByID(ctx, team.ID)
	require.NoError(t, err)
	require.Equal(t, "Operations", stored.Name)
	require.Equal(t, 1, stored.MemberCount)

	var reloaded models.User
	require.NoError(t, db.First(&reloaded, "id = ?", member.ID).Error)
	require.NotNil(t, reloaded.TeamID)
	require.Equal(t, team.ID, *reloaded.TeamID)
}

func TestTeamServiceDeleteEmptyAndMissing(t *testing.T) {
	teamSvc, auditSvc := newTeamService(t)
	ctx := context.Background()

	team, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Temporary"})
	require.NoError(t, err)

	feedback := models.Feedback{Content: "ok", Status: models.FeedbackPending, TeamID: &team.ID}
	require.NoError(t, teamSvc.db.Create(&feedback).Error)

	require.NoError(t, teamSvc.Delete(ctx, team.ID))
	require.ErrorIs(t, teamSvc.Delete(ctx, team.ID), ErrTeamNotFound)

	var stored models.Feedback
	require.NoError(t, teamSvc.db.First(&stored, "id = ?", feedback.ID).Error)
	require.Nil(t, stored.TeamID)

	logs, _, err := auditSvc.List(ctx, AuditListOptions{Filters: AuditFilters{Action: "team.delete"}})
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestTeamServiceMembershipLifecycle(t *testing.T) {
	teamSvc, _ := newTeamService(t)
	ctx := context.Background()
	db := teamSvc.db

	first, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Design"})
	require.NoError(t, err)
	second, err := teamSvc.Create(ctx, CreateTeamInput{Name: "Research"})
	require.NoError(t, err)

	user := createUser(t, db, "member@example.com", models.RoleIDStaff, nil)

	require.NoError(t, teamSvc.AddMember(ctx, first.ID, user.ID))
	require.ErrorIs(t, teamSvc.AddMember(ctx, first.ID, user.ID), ErrTeamMemberAlreadyExists)

	members, err := teamSvc.ListMembers(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, user.ID, members[0].ID)

	// moving to another team updates both counters
	require.NoError(t, teamSvc.AddMember(ctx, second.ID, user.ID))
	reloadedFirst, err := teamSvc.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, 0, reloadedFirst.MemberCount)
	reloadedSecond, err := teamSvc.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloadedSecond.MemberCount)
	require.Equal(t, 1, reloadedSecond.ActiveUserCount)

	require.ErrorIs(t, teamSvc.RemoveMember(ctx, first.ID, user.ID), ErrTeamMemberNotFound)
	require.NoError(t, teamSvc.RemoveMember(ctx, second.ID, user.ID))
	require.ErrorIs(t, teamSvc.AddMember(ctx, second.ID, "missing"), ErrUserNotFound)
	require.ErrorIs(t, teamSvc.AddMember(ctx, "missing", user.ID), ErrTeamNotFound)

	reloadedSecond, err = teamSvc.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.Zero(t, reloadedSecond.MemberCount)
}

func TestTeamServiceRecountAll(t *testing.T) {
	teamSvc, _ := newTeamService(t)
	ctx := context.Background()
	db := teamSvc.db

	team := createTeam(t, db, "Finance", "")
	createUser(t, db, "a@example.com", models.RoleIDStaff, &team.ID)
	inactive := createUser(t, db, "b@example.com", models.RoleIDStaff, &team.ID)
	require.NoError(t, db.Model(inactive).Update("is_active", false).Error)

	require.NoError(t, teamSvc.RecountAll(ctx))

	reloaded, err := teamSvc.GetByID(ctx, team.ID)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.MemberCount)
	require.Equal(t, 1, reloaded.ActiveUserCount)
}
