package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	iauth "github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/cache"
	testutil "github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/monitoring"
	"github.com/candorhq/candor/internal/services"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	ctx := context.Background()
	now := time.Now().UTC()

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret: "cleanup-secret",
		Issuer: "test-suite",
	})
	require.NoError(t, err)
	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{TTL: time.Hour})
	require.NoError(t, err)

	invitationSvc, err := services.NewInvitationService(db, auditSvc, nil, services.InvitationConfig{})
	require.NoError(t, err)

	user := seedUser(t, db, "cleanup@example.com")

	_, expiredSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", now.Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)

	_, revokedSession, err := sessionSvc.CreateSession(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessionSvc.RevokeSession(ctx, revokedSession.ID))

	require.NoError(t, auditSvc.Log(ctx, services.AuditEntry{Action: "test.action", Result: "success"}))
	require.NoError(t, db.Model(&models.AuditLog{}).Where("1 = 1").
		Update("created_at", now.AddDate(0, 0, -10)).Error)

	staleInvite := models.Invitation{
		Email:     "stale@example.com",
		TokenHash: "stale-hash",
		RoleID:    models.RoleIDStaff,
		ExpiresAt: now.Add(-60 * 24 * time.Hour),
	}
	recentInvite := models.Invitation{
		Email:     "recent@example.com",
		TokenHash: "recent-hash",
		RoleID:    models.RoleIDStaff,
		ExpiresAt: now.Add(-24 * time.Hour),
	}
	require.NoError(t, db.Create(&staleInvite).Error)
	require.NoError(t, db.Create(&recentInvite).Error)

	store := cache.NewDatabaseStore(db)
	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("y"), 48*time.Hour))

	registry := monitoring.NewMaintenanceRegistry()
	c := NewCleaner(Targets{
		Sessions:    sessionSvc,
		Invitations: invitationSvc,
		Audit:       auditSvc,
		Cache:       store,
	},
		WithNow(func() time.Time { return now.Add(time.Hour) }),
		WithAuditRetentionDays(7),
		WithInvitationGrace(30*24*time.Hour),
		WithRecorder(registry),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.Equal(t, []string{JobSessions, JobInvitations, JobAudit, JobCache}, c.Jobs())

	require.NoError(t, c.RunOnce(ctx))

	assertGone := func(model any, id string) {
		err := db.First(model, "id = ?", id).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}
	assertGone(&models.Session{}, expiredSession.ID)
	assertGone(&models.Session{}, revokedSession.ID)
	assertGone(&models.Invitation{}, staleInvite.ID)

	var remaining models.Session
	require.NoError(t, db.First(&remaining, "id = ?", activeSession.ID).Error)
	var invite models.Invitation
	require.NoError(t, db.First(&invite, "id = ?", recentInvite.ID).Error)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&auditCount).Error)
	require.Zero(t, auditCount)

	var cacheKeys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("cache_key", &cacheKeys).Error)
	require.Equal(t, []string{"long"}, cacheKeys)

	runs := registry.Snapshot()
	require.Len(t, runs, 4)
	for _, run := range runs {
		require.Empty(t, run.LastError, run.Job)
		require.EqualValues(t, 1, run.TotalRuns)
	}
}

func TestCleanerRunOnceCombinesErrors(t *testing.T) {
	registry := monitoring.NewMaintenanceRegistry()
	teams := &countingTeams{}
	c := NewCleaner(Targets{
		Sessions: failingPurger{err: errors.New("sessions down")},
		Teams:    teams,
		Queue:    failingPurger{err: errors.New("queue down")},
	}, WithRecorder(registry))

	err := c.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Equal(t, 1, teams.calls, "a failing job does not stop later jobs")

	failures := map[string]uint64{}
	for _, run := range registry.Snapshot() {
		failures[run.Job] = run.ConsecutiveFailures
	}
	require.EqualValues(t, 1, failures[JobSessions])
	require.EqualValues(t, 0, failures[JobTeamCounts])
	require.EqualValues(t, 1, failures[JobQueueDepth])
}

func TestCleanerStopsOnCancelledContext(t *testing.T) {
	teams := &countingTeams{}
	c := NewCleaner(Targets{Teams: teams})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, teams.calls)
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(Targets{})
	require.Empty(t, c.Jobs())
	require.NoError(t, c.Start())
	<-c.Stop().Done()
}

func TestCleanerStartSchedulesJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(Targets{Teams: &countingTeams{}, Queue: failingPurger{}}, WithCron(scheduler))

	require.NoError(t, c.Start())
	t.Cleanup(func() { <-c.Stop().Done() })
	require.Len(t, scheduler.Entries(), 2)
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	roleID := models.RoleIDStaff
	user := &models.User{
		Email:    email,
		Name:     "Cleanup User",
		RoleID:   &roleID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Preload("Role").Take(user, "id = ?", user.ID).Error)
	return user
}

type failingPurger struct {
	err error
}

func (f failingPurger) CleanupExpired(context.Context) (int64, error) { return 0, f.err }

func (f failingPurger) QueueDepth(context.Context) (int64, error) { return 0, f.err }

type countingTeams struct {
	calls int
}

func (c *countingTeams) RecountAll(context.Context) error {
	c.calls++
	return nil
}
