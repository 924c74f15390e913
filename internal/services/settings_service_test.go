package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/models"
	apperrors "github.com/candorhq/candor/pkg/errors"
)

func TestSettingsServiceCRUD(t *testing.T) {
	db := openServiceTestDB(t)
	auditSvc, err := NewAuditService(db)
	require.NoError(t, err)
	svc, err := NewSettingsService(db, auditSvc)
	require.NoError(t, err)

	ctx := WithActor(context.Background(), Actor{UserID: "admin-1", Email: "admin@example.com"})

	setting, err := svc.Upsert(ctx, "Branding.Title", "Candor")
	require.NoError(t, err)
	require.Equal(t, "branding.title", setting.Key)
	require.Equal(t, "admin-1", setting.UpdatedBy)

	_, err = svc.Upsert(ctx, "branding.title", "Candor Feedback")
	require.NoError(t, err)

	got, err := svc.Get(ctx, "branding.title")
	require.NoError(t, err)
	require.Equal(t, "Candor Feedback", got.Value)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, "branding.title"))
	require.ErrorIs(t, svc.Delete(ctx, "branding.title"), ErrSettingNotFound)
	_, err = svc.Get(ctx, "branding.title")
	require.ErrorIs(t, err, ErrSettingNotFound)

	_, err = svc.Upsert(ctx, "bad key!", "x")
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))

	logs, total, err := auditSvc.List(ctx, AuditListOptions{Filters: AuditFilters{Resource: "branding.title"}})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Equal(t, "admin@example.com", logs[0].Actor)
}

func TestAnonymityServiceGetAndUpdate(t *testing.T) {
	db := openServiceTestDB(t)
	svc, err := NewAnonymityService(db, nil)
	require.NoError(t, err)
	ctx := context.Background()

	current, err := svc.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, models.DefaultMinGroupSize, current.MinGroupSize)
	require.True(t, current.AnonymizeContent)
	require.False(t, current.StoreSubmitterIP)

	size := 8
	off := false
	updated, err := svc.Update(ctx, UpdateAnonymityInput{MinGroupSize: &size, RedactNames: &off})
	require.NoError(t, err)
	require.Equal(t, 8, updated.MinGroupSize)
	require.False(t, updated.RedactNames)
	require.True(t, updated.AnonymizeContent)

	zero := 0
	_, err = svc.Update(ctx, UpdateAnonymityInput{MinGroupSize: &zero})
	require.True(t, apperrors.IsStatus(err, http.StatusBadRequest))
}

func TestAnonymityServiceRecreatesMissingRow(t *testing.T) {
	db := openServiceTestDB(t)
	require.NoError(t, db.Where("id = ?", models.AnonymitySettingsID).Delete(&models.AnonymitySettings{}).Error)

	svc, err := NewAnonymityService(db, nil)
	require.NoError(t, err)

	current, err := svc.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.DefaultMinGroupSize, current.MinGroupSize)
}
