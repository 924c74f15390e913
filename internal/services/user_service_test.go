package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/models"
)

type recordingRevoker struct {
	revoked []string
}

func (r *recordingRevoker) RevokeUserSessions(_ context.Context, userID string) error {
	r.revoked = append(r.revoked, userID)
	return nil
}

func setupUserService(t *testing.T) (*UserService, *recordingRevoker) {
	t.Helper()

	db := openServiceTestDB(t)
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)
	revoker := &recordingRevoker{}
	svc, err := NewUserService(db, auditSvc, revoker)
	require.NoError(t, err)
	return svc, revoker
}

func TestUserServiceListFilters(t *testing.T) {
	svc, _ := setupUserService(t)
	ctx := context.Background()
	team := createTeam(t, svc.db, "Support", "")

	createUser(t, svc.db, "staff@example.com", models.RoleIDStaff, &team.ID)
	createUser(t, svc.db, "lead@example.com", models.RoleIDLeadership, nil)
	createUser(t, svc.db, "admin@example.com", models.RoleIDAdmin, nil)

	users, total, err := svc.List(ctx, ListUsersOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, users, 3)

	leaders, _, err := svc.List(ctx, ListUsersOptions{Filters: UserFilters{Role: "leadership"}})
	require.NoError(t, err)
	require.Len(t, leaders, 1)
	require.Equal(t, models.RoleLeadership, leaders[0].RoleName())

	members, _, err := svc.List(ctx, ListUsersOptions{Filters: UserFilters{TeamID: team.ID}})
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NotNil(t, members[0].Team)

	search, _, err := svc.List(ctx, ListUsersOptions{Filters: UserFilters{Query: "ADMIN@"}})
	require.NoError(t, err)
	require.Len(t, search, 1)

	_, _, err = svc.List(ctx, ListUsersOptions{Filters: UserFilters{Role: "owner"}})
	require.ErrorIs(t, err, ErrInvalidRole)
}

func TestUserServiceUpdateRoleAndTeam(t *testing.T) {
	svc, _ := setupUserService(t)
	ctx := context.Background()
	team := createTeam(t, svc.db, "Data", "")
	user := createUser(t, svc.db, "dana@example.com", models.RoleIDStaff, nil)

	role := "Leadership"
	updated, err := svc.Update(ctx, user.ID, UpdateUserInput{Role: &role, TeamID: &team.ID})
	require.NoError(t, err)
	require.Equal(t, models.RoleLeadership, updated.RoleName())
	require.NotNil(t, updated.TeamID)
	require.Equal(t, team.ID, *updated.TeamID)

	var reloaded models.Team
	require.NoError(t, svc.db.First(&reloaded, "id = ?", team.ID).Error)
	require.Equal(t, 1, reloaded.MemberCount)

	none := ""
	updated, err = svc.Update(ctx, user.ID, UpdateUserInput{TeamID: &none})
	require.NoError(t, err)
	require.Nil(t, updated.TeamID)
	require.NoError(t, svc.db.First(&reloaded, "id = ?", team.ID).Error)
	require.Zero(t, reloaded.MemberCount)

	bad := "Owner"
	_, err = svc.Update(ctx, user.ID, UpdateUserInput{Role: &bad})
	require.ErrorIs(t, err, ErrInvalidRole)

	missing := "missing"
	_, err = svc.Update(ctx, user.ID, UpdateUserInput{TeamID: &missing})
	require.ErrorIs(t, err, ErrTeamNotFound)

	_, err = svc.Update(ctx, "missing", UpdateUserInput{Role: &role})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserServiceProtectsLastAdmin(t *testing.T) {
	svc, _ := setupUserService(t)
	ctx := context.Background()
	admin := createUser(t, svc.db, "admin@example.com", models.RoleIDAdmin, nil)

	staff := "Staff"
	_, err := svc.Update(ctx, admin.ID, UpdateUserInput{Role: &staff})
	require.ErrorIs(t, err, ErrLastAdmin)
	_, err = svc.Deactivate(ctx, admin.ID)
	require.ErrorIs(t, err, ErrLastAdmin)

	createUser(t, svc.db, "second@example.com", models.RoleIDAdmin, nil)
	updated, err := svc.Update(ctx, admin.ID, UpdateUserInput{Role: &staff})
	require.NoError(t, err)
	require.Equal(t, models.RoleStaff, updated.RoleName())
}

func TestUserServiceDeactivateRevokesSessions(t *testing.T) {
	svc, revoker := setupUserService(t)
	ctx := context.Background()
	team := createTeam(t, svc.db, "Ops", "")
	user := createUser(t, svc.db, "ops@example.com", models.RoleIDStaff, &team.ID)
	admin := createUser(t, svc.db, "admin@example.com", models.RoleIDAdmin, nil)

	actorCtx := WithActor(ctx, Actor{UserID: admin.ID, Email: admin.Email})

	_, err := svc.Deactivate(actorCtx, admin.ID)
	require.ErrorIs(t, err, ErrSelfDeactivation)

	deactivated, err := svc.Deactivate(actorCtx, user.ID)
	require.NoError(t, err)
	require.False(t, deactivated.IsActive)
	require.Equal(t, []string{user.ID}, revoker.revoked)

	var reloaded models.Team
	require.NoError(t, svc.db.First(&reloaded, "id = ?", team.ID).Error)
	require.Equal(t, 1, reloaded.MemberCount)
	require.Zero(t, reloaded.ActiveUserCount)

	// deactivating twice is a no-op
	_, err = svc.Deactivate(actorCtx, user.ID)
	require.NoError(t, err)
	require.Len(t, revoker.revoked, 1)

	activated, err := svc.Activate(actorCtx, user.ID)
	require.NoError(t, err)
	require.True(t, activated.IsActive)

	logs, _, err := svc.auditService.List(ctx, AuditListOptions{Filters: AuditFilters{ActorID: admin.ID}})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, admin.Email, logs[0].Actor)
}
