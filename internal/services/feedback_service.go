package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/crypto"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/metrics"
)

const (
	// DefaultFeedbackMaxLength bounds submissions in characters.
	DefaultFeedbackMaxLength = 5000
	// OtherTeamGroup replaces display groups too small to reveal.
	OtherTeamGroup = "Other"

	topTopicsLimit = 10
)

var (
	// ErrFeedbackEmpty rejects blank submissions.
	ErrFeedbackEmpty = apperrors.New("FEEDBACK_EMPTY", "Feedback content is required", http.StatusBadRequest)
	// ErrFeedbackTooLong rejects submissions over the configured limit.
	ErrFeedbackTooLong = apperrors.New("FEEDBACK_TOO_LONG", "Feedback content is too long", http.StatusBadRequest)
	// ErrFeedbackNotFound indicates the feedback is missing or not visible to the caller.
	ErrFeedbackNotFound = apperrors.New("FEEDBACK_NOT_FOUND", "Feedback not found", http.StatusNotFound)
	// ErrInvalidFeedbackStatus rejects unknown status filters.
	ErrInvalidFeedbackStatus = apperrors.New("INVALID_STATUS", "Status must be one of PENDING, ANALYZED or FLAGGED", http.StatusBadRequest)
)

// Notifier wakes the analysis workers after a job is enqueued.
type Notifier interface {
	Notify()
}

// FeedbackConfig tunes intake.
type FeedbackConfig struct {
	MaxLength int
	// IPHashKey keys the hash stored in place of the submitter IP when
	// anonymity settings forbid storing it raw. Without a key no IP is kept.
	IPHashKey   []byte
	MaxAttempts int
	Clock       func() time.Time
}

// SubmitFeedbackInput is one submission. TeamID is the submitter's team at
// submission time; the submitter's identity is never stored.
type SubmitFeedbackInput struct {
	Content   string
	Source    string
	IPAddress string
	UserAgent string
	TeamID    *string
}

// FeedbackFilter narrows listings.
type FeedbackFilter struct {
	Status  string
	Page    int
	PerPage int
}

// LeadershipFeedback is the reduced projection shown to Leadership. It has no
// content or submission metadata.
type LeadershipFeedback struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
	Sentiment string    `json:"sentiment"`
	Topics    []string  `json:"topics"`
	Source    string    `json:"source"`
	TeamGroup string    `json:"team_group"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisState summarises the outbox job of a feedback row.
type AnalysisState struct {
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LastError     string     `json:"last_error,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AdminFeedback is the full projection shown to Admins.
type AdminFeedback struct {
	models.Feedback
	TeamName  string         `json:"team_name,omitempty"`
	TeamGroup string         `json:"team_group"`
	Analysis  *AnalysisState `json:"analysis,omitempty"`
}

// FeedbackPage is one page of a projection.
type FeedbackPage[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
}

// TopicCount is one entry of the topic histogram.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int64  `json:"count"`
}

// FeedbackStats aggregates reviewed feedback.
type FeedbackStats struct {
	Total       int64            `json:"total"`
	ByStatus    map[string]int64 `json:"by_status"`
	BySentiment map[string]int64 `json:"by_sentiment"`
	TopTopics   []TopicCount     `json:"top_topics"`
	// Pending is only reported to Admins.
	Pending *int64 `json:"pending,omitempty"`
}

// FeedbackService stores submissions and serves the role-scoped views.
type FeedbackService struct {
	db       *gorm.DB
	notifier Notifier
	cfg      FeedbackConfig
	now      func() time.Time
	log      *zap.Logger
}

// NewFeedbackService constructs a FeedbackService. notifier may be nil.
func NewFeedbackService(db *gorm.DB, notifier Notifier, cfg FeedbackConfig) (*FeedbackService, error) {
	if db == nil {
		return nil, errors.New("feedback service: db is required")
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultFeedbackMaxLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultAnalysisMaxAttempts
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &FeedbackService{
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		now:      clock,
		log:      logger.WithModule("feedback"),
	}, nil
}

// SetNotifier replaces the worker notifier. It must be called before the
// service handles requests.
func (s *FeedbackService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Submit stores a feedback row in PENDING state together with its analysis
// job, then wakes the workers. It does not wait for analysis.
func (s *FeedbackService) Submit(ctx context.Context, input SubmitFeedbackInput) (*models.Feedback, error) {
	ctx = ensureContext(ctx)

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrFeedbackEmpty
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxLength {
		return nil, ErrFeedbackTooLong.WithMessage(fmt.Sprintf("Feedback must be at most %d characters", s.cfg.MaxLength))
	}

	source := strings.ToLower(strings.TrimSpace(input.Source))
	if source != models.SourceChat {
		source = models.SourceForm
	}

	settings, err := loadAnonymitySettings(ctx, s.db)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	feedback := &models.Feedback{
		Content:         content,
		SubmittedFromIP: s.submitterIP(input.IPAddress, settings),
		UserAgent:       truncateRunes(strings.TrimSpace(input.UserAgent), 512),
		Source:          source,
		TeamID:          trimmedPtr(input.TeamID),
		Status:          models.FeedbackPending,
		Topics:          datatypes.JSONSlice[string]{},
		ProcessingLog: datatypes.JSONSlice[models.ProcessingLogEntry]{
			{At: now, Stage: "received", Message: "queued for analysis"},
		},
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(feedback).Error; err != nil {
			return fmt.Errorf("create feedback: %w", err)
		}
		job := &models.AnalysisJob{
			FeedbackID:    feedback.ID,
			Status:        models.JobQueued,
			MaxAttempts:   s.cfg.MaxAttempts,
			NextAttemptAt: now,
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("enqueue analysis: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("feedback service: submit: %w", err)
	}

	metrics.FeedbackSubmitted.WithLabelValues(source).Inc()
	s.log.Info("feedback received", zap.String("feedback_id", feedback.ID), zap.String("source", source))

	if s.notifier != nil {
		s.notifier.Notify()
	}
	return feedback, nil
}

func (s *FeedbackService) submitterIP(ip string, settings *models.AnonymitySettings) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	if settings.StoreSubmitterIP {
		return ip
	}
	if len(s.cfg.IPHashKey) == 0 {
		return ""
	}
	hashed, err := crypto.KeyedHash(s.cfg.IPHashKey, ip)
	if err != nil {
		return ""
	}
	return hashed
}

// ListForLeadership returns reviewed feedback without content or submission
// metadata. PENDING rows are never included.
func (s *FeedbackService) ListForLeadership(ctx context.Context, filter FeedbackFilter) (*FeedbackPage[LeadershipFeedback], error) {
	ctx = ensureContext(ctx)

	status, err := normaliseFeedbackStatus(filter.Status)
	if err != nil {
		return nil, err
	}

	page, perPage, offset := normalisePage(filter.Page, filter.PerPage)
	query := s.db.WithContext(ctx).Model(&models.Feedback{}).Where("status <> ?", models.FeedbackPending)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("feedback service: count: %w", err)
	}

	var rows []models.Feedback
	if err := query.Order("created_at DESC").Offset(offset).Limit(perPage).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feedback service: list: %w", err)
	}

	groups, err := s.teamGroups(ctx, rows)
	if err != nil {
		return nil, err
	}

	items := make([]LeadershipFeedback, 0, len(rows))
	for i := range rows {
		items = append(items, leadershipView(&rows[i], groups))
	}
	return &FeedbackPage[LeadershipFeedback]{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// ListForAdmin returns every feedback row with all fields, PENDING included.
func (s *FeedbackService) ListForAdmin(ctx context.Context, filter FeedbackFilter) (*FeedbackPage[AdminFeedback], error) {
	ctx = ensureContext(ctx)

	status, err := normaliseFeedbackStatus(filter.Status)
	if err != nil {
		return nil, err
	}

	page, perPage, offset := normalisePage(filter.Page, filter.PerPage)
	query := s.db.WithContext(ctx).Model(&models.Feedback{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("feedback service: count: %w", err)
	}

	var rows []models.Feedback
	if err := query.Preload("Team").Order("created_at DESC").Offset(offset).Limit(perPage).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("feedback service: list: %w", err)
	}

	items, err := s.adminViews(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &FeedbackPage[AdminFeedback]{Items: items, Total: total, Page: page, PerPage: perPage}, nil
}

// GetForLeadership returns one reviewed row. PENDING rows are reported as not found.
func (s *FeedbackService) GetForLeadership(ctx context.Context, id string) (*LeadershipFeedback, error) {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status == models.FeedbackPending {
		return nil, ErrFeedbackNotFound
	}

	groups, err := s.teamGroups(ctx, []models.Feedback{*row})
	if err != nil {
		return nil, err
	}
	view := leadershipView(row, groups)
	return &view, nil
}

// GetForAdmin returns one row with all fields.
func (s *FeedbackService) GetForAdmin(ctx context.Context, id string) (*AdminFeedback, error) {
	ctx = ensureContext(ctx)

	row, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	views, err := s.adminViews(ctx, []models.Feedback{*row})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Stats counts reviewed feedback by status, sentiment and topic. When
// includePending is set the number of PENDING rows is reported too.
func (s *FeedbackService) Stats(ctx context.Context, includePending bool) (*FeedbackStats, error) {
	ctx = ensureContext(ctx)

	stats := &FeedbackStats{
		ByStatus:    map[string]int64{models.FeedbackAnalyzed: 0, models.FeedbackFlagged: 0},
		BySentiment: map[string]int64{},
		TopTopics:   []TopicCount{},
	}

	type bucket struct {
		BucketKey string
		Count     int64
	}

	var byStatus []bucket
	if err := s.db.WithContext(ctx).Model(&models.Feedback{}).
		Select("status AS bucket_key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("feedback service: stats by status: %w", err)
	}
	var pending int64
	for _, b := range byStatus {
		if b.BucketKey == models.FeedbackPending {
			pending = b.Count
			continue
		}
		stats.ByStatus[b.BucketKey] = b.Count
		stats.Total += b.Count
	}
	if includePending {
		stats.Pending = &pending
	}

	var bySentiment []bucket
	if err := s.db.WithContext(ctx).Model(&models.Feedback{}).
		Select("sentiment AS bucket_key, COUNT(*) AS count").
		Where("status <> ?", models.FeedbackPending).
		Group("sentiment").
		Scan(&bySentiment).Error; err != nil {
		return nil, fmt.Errorf("feedback service: stats by sentiment: %w", err)
	}
	for _, b := range bySentiment {
		key := b.BucketKey
		if key == "" {
			key = "unknown"
		}
		stats.BySentiment[key] += b.Count
	}

	var topicRows []models.Feedback
	if err := s.db.WithContext(ctx).Model(&models.Feedback{}).
		Select("id", "topics").
		Where("status <> ?", models.FeedbackPending).
		Find(&topicRows).Error; err != nil {
		return nil, fmt.Errorf("feedback service: stats topics: %w", err)
	}
	counts := map[string]int64{}
	for _, row := range topicRows {
		for _, topic := range row.Topics {
			counts[topic]++
		}
	}
	for topic, count := range counts {
		stats.TopTopics = append(stats.TopTopics, TopicCount{Topic: topic, Count: count})
	}
	sort.Slice(stats.TopTopics, func(i, j int) bool {
		if stats.TopTopics[i].Count != stats.TopTopics[j].Count {
			return stats.TopTopics[i].Count > stats.TopTopics[j].Count
		}
		return stats.TopTopics[i].Topic < stats.TopTopics[j].Topic
	})
	if len(stats.TopTopics) > topTopicsLimit {
		stats.TopTopics = stats.TopTopics[:topTopicsLimit]
	}

	return stats, nil
}

func (s *FeedbackService) load(ctx context.Context, id string) (*models.Feedback, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrFeedbackNotFound
	}
	var row models.Feedback
	err := s.db.WithContext(ctx).Preload("Team").First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFeedbackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("feedback service: load: %w", err)
	}
	return &row, nil
}

func (s *FeedbackService) adminViews(ctx context.Context, rows []models.Feedback) ([]AdminFeedback, error) {
	groups, err := s.teamGroups(ctx, rows)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	jobs := map[string]models.AnalysisJob{}
	if len(ids) > 0 {
		var found []models.AnalysisJob
		if err := s.db.WithContext(ctx).Where("feedback_id IN ?", ids).Find(&found).Error; err != nil {
			return nil, fmt.Errorf("feedback service: load jobs: %w", err)
		}
		for _, job := range found {
			jobs[job.FeedbackID] = job
		}
	}

	views := make([]AdminFeedback, 0, len(rows))
	for _, row := range rows {
		view := AdminFeedback{Feedback: row, TeamGroup: groups.label(row.TeamID)}
		if row.Team != nil {
			view.TeamName = row.Team.Name
		}
		if job, ok := jobs[row.ID]; ok {
			view.Analysis = &AnalysisState{
				Status:        job.Status,
				Attempts:      job.Attempts,
				MaxAttempts:   job.MaxAttempts,
				NextAttemptAt: job.NextAttemptAt,
				LastError:     job.LastError,
				CompletedAt:   job.CompletedAt,
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// teamGroupIndex maps team ids to the label shown next to feedback.
type teamGroupIndex map[string]string

func (g teamGroupIndex) label(teamID *string) string {
	if teamID == nil {
		return OtherTeamGroup
	}
	if label, ok := g[*teamID]; ok {
		return label
	}
	return OtherTeamGroup
}

// teamGroups resolves the display group of every team referenced by rows. A
// group is revealed only when its combined membership reaches the configured
// minimum group size.
func (s *FeedbackService) teamGroups(ctx context.Context, rows []models.Feedback) (teamGroupIndex, error) {
	var teamIDs []string
	for _, row := range rows {
		if row.TeamID != nil {
			teamIDs = append(teamIDs, *row.TeamID)
		}
	}
	teamIDs = normaliseIDs(teamIDs)
	index := teamGroupIndex{}
	if len(teamIDs) == 0 {
		return index, nil
	}

	settings, err := loadAnonymitySettings(ctx, s.db)
	if err != nil {
		return nil, err
	}

	var teams []models.Team
	if err := s.db.WithContext(ctx).Where("id IN ?", teamIDs).Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("feedback service: load teams: %w", err)
	}

	groupNames := make([]string, 0, len(teams))
	for _, team := range teams {
		groupNames = append(groupNames, teamDisplayGroup(team))
	}

	type groupSize struct {
		DisplayGroup string
		Members      int64
	}
	var sizes []groupSize
	if err := s.db.WithContext(ctx).Model(&models.Team{}).
		Select("display_group, SUM(member_count) AS members").
		Where("display_group IN ?", normaliseIDs(groupNames)).
		Group("display_group").
		Scan(&sizes).Error; err != nil {
		return nil, fmt.Errorf("feedback service: group sizes: %w", err)
	}
	members := make(map[string]int64, len(sizes))
	for _, size := range sizes {
		members[size.DisplayGroup] = size.Members
	}

	for _, team := range teams {
		group := teamDisplayGroup(team)
		if members[group] >= int64(settings.MinGroupSize) {
			index[team.ID] = group
		} else {
			index[team.ID] = OtherTeamGroup
		}
	}
	return index, nil
}

func teamDisplayGroup(team models.Team) string {
	if group := strings.TrimSpace(team.DisplayGroup); group != "" {
		return group
	}
	return team.Name
}

func leadershipView(row *models.Feedback, groups teamGroupIndex) LeadershipFeedback {
	topics := []string(row.Topics)
	if topics == nil {
		topics = []string{}
	}
	return LeadershipFeedback{
		ID:        row.ID,
		Status:    row.Status,
		Summary:   row.Summary,
		Sentiment: row.Sentiment,
		Topics:    topics,
		Source:    row.Source,
		TeamGroup: groups.label(row.TeamID),
		CreatedAt: row.CreatedAt,
	}
}

func normaliseFeedbackStatus(status string) (string, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	switch status {
	case "", models.FeedbackPending, models.FeedbackAnalyzed, models.FeedbackFlagged:
		return status, nil
	default:
		return "", ErrInvalidFeedbackStatus
	}
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
