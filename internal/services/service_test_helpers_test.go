package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/models"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithSeedData())
}

func createUser(t *testing.T, db *gorm.DB, email, roleID string, teamID *string) *models.User {
	t.Helper()

	user := &models.User{
		Email:    email,
		Name:     "Test User",
		RoleID:   &roleID,
		TeamID:   teamID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func createTeam(t *testing.T, db *gorm.DB, name, group string) *models.Team {
	t.Helper()

	team := &models.Team{Name: name, DisplayGroup: group}
	require.NoError(t, db.Create(team).Error)
	return team
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Notify() {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *countingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// scriptedAnalyzer returns queued results in order, then falls back to the
// static analyzer.
type scriptedAnalyzer struct {
	mu           sync.Mutex
	results      []scriptedResult
	anonymizeErr error
	calls        int
}

type scriptedResult struct {
	analysis ai.Analysis
	err      error
}

func (a *scriptedAnalyzer) push(analysis ai.Analysis, err error) *scriptedAnalyzer {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, scriptedResult{analysis: analysis, err: err})
	return a
}

func (a *scriptedAnalyzer) Name() string { return "scripted" }

func (a *scriptedAnalyzer) Analyze(ctx context.Context, content string) (ai.Analysis, error) {
	a.mu.Lock()
	a.calls++
	if len(a.results) > 0 {
		next := a.results[0]
		a.results = a.results[1:]
		a.mu.Unlock()
		return next.analysis, next.err
	}
	a.mu.Unlock()
	return ai.NewStaticAnalyzer().Analyze(ctx, content)
}

func (a *scriptedAnalyzer) Anonymize(ctx context.Context, content string, opts ai.AnonymizeOptions) (string, error) {
	if a.anonymizeErr != nil {
		return "", a.anonymizeErr
	}
	return "[anonymized] " + content, nil
}

func (a *scriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
