package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/metrics"
)

const (
	DefaultAnalysisMaxAttempts = 5
	DefaultAnalysisRetryBase   = 30 * time.Second
	DefaultAnalysisRetryMax    = 30 * time.Minute
	DefaultAnalysisLease       = 2 * time.Minute

	maxLoggedErrorLength = 500
	releaseTimeout       = 5 * time.Second
)

// Processing log stages written by the processor.
const (
	StageAnalysis    = "analysis"
	StageAnonymize   = "anonymize"
	StageRetry       = "retry"
	StageFailed      = "failed"
	StageUnparseable = "unparseable"
	StageRequeued    = "requeued"
)

// AnalysisConfig tunes retries and leases of the analysis outbox.
type AnalysisConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	Lease       time.Duration
	Clock       func() time.Time
}

// AnalysisProcessor drains the analysis outbox. Each job is claimed with a
// lease so concurrent workers never process the same row; an expired lease is
// treated as a crashed worker and the job is claimed again.
type AnalysisProcessor struct {
	db       *gorm.DB
	analyzer ai.Analyzer
	cfg      AnalysisConfig
	now      func() time.Time
	log      *zap.Logger
}

// NewAnalysisProcessor constructs a processor.
func NewAnalysisProcessor(db *gorm.DB, analyzer ai.Analyzer, cfg AnalysisConfig) (*AnalysisProcessor, error) {
	if db == nil {
		return nil, errors.New("analysis processor: db is required")
	}
	if analyzer == nil {
		return nil, errors.New("analysis processor: analyzer is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultAnalysisMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultAnalysisRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = DefaultAnalysisRetryMax
	}
	if cfg.RetryMax < cfg.RetryBase {
		cfg.RetryMax = cfg.RetryBase
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultAnalysisLease
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &AnalysisProcessor{
		db:       db,
		analyzer: analyzer,
		cfg:      cfg,
		now:      clock,
		log:      logger.WithModule("analysis"),
	}, nil
}

// ProcessNext claims and processes one due job. It reports whether a job was
// found so callers can keep draining.
func (p *AnalysisProcessor) ProcessNext(ctx context.Context, workerID int) (bool, error) {
	ctx = ensureContext(ctx)

	owner := fmt.Sprintf("worker-%d", workerID)
	job, err := p.claim(ctx, owner)
	if err != nil || job == nil {
		return job != nil, err
	}
	return true, p.process(ctx, job, owner)
}

// claim leases the oldest due job. It returns nil when nothing is due.
func (p *AnalysisProcessor) claim(ctx context.Context, owner string) (*models.AnalysisJob, error) {
	for {
		now := p.now().UTC()

		var job models.AnalysisJob
		err := p.db.WithContext(ctx).
			Where("(status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?)",
				models.JobQueued, now, models.JobRunning, now).
			Order("next_attempt_at ASC").
			Take(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("analysis processor: find job: %w", err)
		}

		lease := now.Add(p.cfg.Lease)
		res := p.db.WithContext(ctx).
			Model(&models.AnalysisJob{}).
			Where("id = ? AND ((status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?))",
				job.ID, models.JobQueued, now, models.JobRunning, now).
			Updates(map[string]any{
				"status":       models.JobRunning,
				"locked_until": lease,
				"locked_by":    owner,
				"attempts":     gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("analysis processor: claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// another worker won the race; look again
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if job.Status == models.JobRunning {
			p.log.Warn("reclaimed expired analysis lease",
				zap.String("job_id", job.ID),
				zap.String("previous_owner", job.LockedBy),
			)
		}
		job.Status = models.JobRunning
		job.LockedUntil = &lease
		job.LockedBy = owner
		job.Attempts++
		return &job, nil
	}
}

func (p *AnalysisProcessor) process(ctx context.Context, job *models.AnalysisJob, owner string) error {
	var feedback models.Feedback
	if err := p.db.WithContext(ctx).First(&feedback, "id = ?", job.FeedbackID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.finishJob(ctx, job, owner, models.JobFailed, "feedback row missing")
		}
		if ctx.Err() != nil {
			return p.release(ctx, job, owner)
		}
		return fmt.Errorf("analysis processor: load feedback: %w", err)
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}
	if job.Attempts > maxAttempts {
		// Exhausted through lease expiry rather than reported failures.
		return p.fail(ctx, job, &feedback, owner, maxAttempts, errors.New("lease expired on final attempt"))
	}

	settings, err := loadAnonymitySettings(ctx, p.db)
	if err != nil {
		if ctx.Err() != nil {
			return p.release(ctx, job, owner)
		}
		return err
	}

	started := time.Now()
	analysis, err := p.analyzer.Analyze(ctx, feedback.Content)
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())

	switch {
	case err == nil:
		entries := []models.ProcessingLogEntry{}
		anonymized := ""
		if settings.AnonymizeContent {
			anonymized, err = p.analyzer.Anonymize(ctx, feedback.Content, ai.AnonymizeOptions{RedactNames: settings.RedactNames})
			if err != nil {
				if ctx.Err() != nil {
					return p.release(ctx, job, owner)
				}
				entries = append(entries, p.entry(StageAnonymize, "anonymization failed: "+truncateRunes(err.Error(), maxLoggedErrorLength)))
				anonymized = ""
			}
		}
		entries = append(entries, p.entry(StageAnalysis, fmt.Sprintf("analyzed by %s: status %s, sentiment %s", p.analyzer.Name(), analysis.Status, analysis.Sentiment)))
		return p.complete(ctx, job, &feedback, owner, analysis, anonymized, entries)

	case errors.Is(err, ai.ErrUnparseable):
		// The row is marked reviewed so it is not retried forever; the log
		// records that the fields are empty.
		metrics.AnalysisJobs.WithLabelValues("unparseable").Inc()
		msg := "analysis response could not be parsed"
		if raw := strings.TrimSpace(analysis.Raw); raw != "" {
			msg += ": " + truncateRunes(raw, maxLoggedErrorLength)
		}
		return p.complete(ctx, job, &feedback, owner, ai.Analysis{Status: models.FeedbackAnalyzed}, "", []models.ProcessingLogEntry{
			p.entry(StageUnparseable, msg),
		})

	case ctx.Err() != nil:
		return p.release(ctx, job, owner)

	case job.Attempts >= maxAttempts:
		return p.fail(ctx, job, &feedback, owner, maxAttempts, err)

	default:
		return p.retry(ctx, job, &feedback, owner, err)
	}
}

func (p *AnalysisProcessor) complete(ctx context.Context, job *models.AnalysisJob, feedback *models.Feedback, owner string, analysis ai.Analysis, anonymized string, entries []models.ProcessingLogEntry) error {
	now := p.now().UTC()
	status := analysis.Status
	if status != models.FeedbackFlagged {
		status = models.FeedbackAnalyzed
	}
	topics := datatypes.JSONSlice[string](analysis.Topics)
	if topics == nil {
		topics = datatypes.JSONSlice[string]{}
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AnalysisJob{}).
			Where("id = ? AND status = ? AND locked_by = ?", job.ID, models.JobRunning, owner).
			Updates(map[string]any{
				"status":       models.JobDone,
				"completed_at": now,
				"locked_until": nil,
				"last_error":   "",
			})
		if res.Error != nil {
			return fmt.Errorf("mark job done: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLeaseLost
		}

		updates := map[string]any{
			"status":         status,
			"summary":        analysis.Summary,
			"sentiment":      analysis.Sentiment,
			"topics":         topics,
			"processing_log": appendLog(feedback.ProcessingLog, entries...),
		}
		if anonymized != "" {
			updates["anonymized_content"] = anonymized
		}
		if err := tx.Model(&models.Feedback{}).Where("id = ?", feedback.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update feedback: %w", err)
		}
		return nil
	})
	if errors.Is(err, errLeaseLost) {
		p.log.Warn("analysis lease lost before completion", zap.String("job_id", job.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("analysis processor: complete: %w", err)
	}

	if len(entries) == 0 || entries[len(entries)-1].Stage != StageUnparseable {
		metrics.AnalysisJobs.WithLabelValues(strings.ToLower(status)).Inc()
	}
	p.log.Info("feedback analyzed",
		zap.String("feedback_id", feedback.ID),
		zap.String("status", status),
		zap.Int("attempt", job.Attempts),
	)
	return nil
}

func (p *AnalysisProcessor) retry(ctx context.Context, job *models.AnalysisJob, feedback *models.Feedback, owner string, cause error) error {
	now := p.now().UTC()
	next := now.Add(p.Backoff(job.Attempts))
	reason := truncateRunes(cause.Error(), maxLoggedErrorLength)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AnalysisJob{}).
			Where("id = ? AND status = ? AND locked_by = ?", job.ID, models.JobRunning, owner).
			Updates(map[string]any{
				"status":          models.JobQueued,
				"next_attempt_at": next,
				"locked_until":    nil,
				"locked_by":       "",
				"last_error":      reason,
			})
		if res.Error != nil {
			return fmt.Errorf("reschedule job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLeaseLost
		}
		entry := p.entry(StageRetry, fmt.Sprintf("attempt %d failed: %s; retrying at %s", job.Attempts, reason, next.Format(time.RFC3339)))
		return tx.Model(&models.Feedback{}).Where("id = ?", feedback.ID).
			Update("processing_log", appendLog(feedback.ProcessingLog, entry)).Error
	})
	if errors.Is(err, errLeaseLost) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("analysis processor: retry: %w", err)
	}

	metrics.AnalysisJobs.WithLabelValues("retry").Inc()
	p.log.Warn("analysis attempt failed",
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return nil
}

// fail gives up on a job. The feedback stays PENDING so it is never shown as
// reviewed without an analysis.
func (p *AnalysisProcessor) fail(ctx context.Context, job *models.AnalysisJob, feedback *models.Feedback, owner string, maxAttempts int, cause error) error {
	reason := truncateRunes(cause.Error(), maxLoggedErrorLength)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AnalysisJob{}).
			Where("id = ? AND status = ? AND locked_by = ?", job.ID, models.JobRunning, owner).
			Updates(map[string]any{
				"status":       models.JobFailed,
				"locked_until": nil,
				"last_error":   reason,
			})
		if res.Error != nil {
			return fmt.Errorf("mark job failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLeaseLost
		}
		entry := p.entry(StageFailed, fmt.Sprintf("analysis failed after %d attempts: %s", maxAttempts, reason))
		return tx.Model(&models.Feedback{}).Where("id = ?", feedback.ID).
			Update("processing_log", appendLog(feedback.ProcessingLog, entry)).Error
	})
	if errors.Is(err, errLeaseLost) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("analysis processor: fail: %w", err)
	}

	metrics.AnalysisJobs.WithLabelValues("failed").Inc()
	p.log.Error("analysis abandoned",
		zap.String("job_id", job.ID),
		zap.String("feedback_id", feedback.ID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)
	return nil
}

func (p *AnalysisProcessor) finishJob(ctx context.Context, job *models.AnalysisJob, owner, status, reason string) error {
	return p.db.WithContext(ctx).
		Model(&models.AnalysisJob{}).
		Where("id = ? AND locked_by = ?", job.ID, owner).
		Updates(map[string]any{
			"status":       status,
			"locked_until": nil,
			"last_error":   reason,
		}).Error
}

// release hands a job back after shutdown interrupted it, without counting
// the attempt.
func (p *AnalysisProcessor) release(ctx context.Context, job *models.AnalysisJob, owner string) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	err := p.db.WithContext(releaseCtx).
		Model(&models.AnalysisJob{}).
		Where("id = ? AND status = ? AND locked_by = ?", job.ID, models.JobRunning, owner).
		Updates(map[string]any{
			"status":          models.JobQueued,
			"attempts":        gorm.Expr("CASE WHEN attempts > 0 THEN attempts - 1 ELSE 0 END"),
			"next_attempt_at": p.now().UTC(),
			"locked_until":    nil,
			"locked_by":       "",
		}).Error
	if err != nil {
		return fmt.Errorf("analysis processor: release job: %w", err)
	}
	return ctx.Err()
}

// Backoff returns the delay before the attempt following attempt n.
func (p *AnalysisProcessor) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.RetryMax {
			return p.cfg.RetryMax
		}
	}
	return delay
}

// RequeueFailed puts every failed job back in the queue with a fresh attempt
// budget.
func (p *AnalysisProcessor) RequeueFailed(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	var jobs []models.AnalysisJob
	if err := p.db.WithContext(ctx).Where("status = ?", models.JobFailed).Find(&jobs).Error; err != nil {
		return 0, fmt.Errorf("analysis processor: load failed jobs: %w", err)
	}

	var count int64
	for _, job := range jobs {
		ok, err := p.requeue(ctx, job.FeedbackID, models.JobFailed)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// Requeue schedules the feedback for another analysis, whatever the state of
// its job. A job currently running is left alone.
func (p *AnalysisProcessor) Requeue(ctx context.Context, feedbackID string) error {
	ctx = ensureContext(ctx)

	feedbackID = strings.TrimSpace(feedbackID)
	var feedback models.Feedback
	if err := p.db.WithContext(ctx).Select("id").First(&feedback, "id = ?", feedbackID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrFeedbackNotFound
		}
		return fmt.Errorf("analysis processor: load feedback: %w", err)
	}

	ok, err := p.requeue(ctx, feedbackID, models.JobQueued, models.JobDone, models.JobFailed)
	if err != nil {
		return err
	}
	if !ok {
		// no job yet (rows imported without one)
		job := &models.AnalysisJob{
			FeedbackID:    feedbackID,
			Status:        models.JobQueued,
			MaxAttempts:   p.cfg.MaxAttempts,
			NextAttemptAt: p.now().UTC(),
		}
		if err := p.db.WithContext(ctx).Create(job).Error; err != nil {
			var existing int64
			if countErr := p.db.WithContext(ctx).Model(&models.AnalysisJob{}).Where("feedback_id = ?", feedbackID).Count(&existing).Error; countErr == nil && existing > 0 {
				return nil
			}
			return fmt.Errorf("analysis processor: create job: %w", err)
		}
	}
	return nil
}

func (p *AnalysisProcessor) requeue(ctx context.Context, feedbackID string, fromStatuses ...string) (bool, error) {
	now := p.now().UTC()
	requeued := false

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.AnalysisJob{}).
			Where("feedback_id = ? AND status IN ?", feedbackID, fromStatuses).
			Updates(map[string]any{
				"status":          models.JobQueued,
				"attempts":        0,
				"max_attempts":    p.cfg.MaxAttempts,
				"next_attempt_at": now,
				"locked_until":    nil,
				"locked_by":       "",
				"last_error":      "",
				"completed_at":    nil,
			})
		if res.Error != nil {
			return fmt.Errorf("requeue job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		requeued = true

		var feedback models.Feedback
		if err := tx.Select("id", "processing_log").First(&feedback, "id = ?", feedbackID).Error; err != nil {
			return fmt.Errorf("load feedback: %w", err)
		}
		return tx.Model(&models.Feedback{}).Where("id = ?", feedbackID).
			Update("processing_log", appendLog(feedback.ProcessingLog, p.entry(StageRequeued, "queued for analysis again"))).Error
	})
	if err != nil {
		return false, fmt.Errorf("analysis processor: %w", err)
	}
	return requeued, nil
}

// QueueDepth counts jobs waiting for or undergoing analysis and publishes the
// gauge.
func (p *AnalysisProcessor) QueueDepth(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	var depth int64
	if err := p.db.WithContext(ctx).
		Model(&models.AnalysisJob{}).
		Where("status IN ?", []string{models.JobQueued, models.JobRunning}).
		Count(&depth).Error; err != nil {
		return 0, fmt.Errorf("analysis processor: queue depth: %w", err)
	}
	metrics.AnalysisQueueDepth.Set(float64(depth))
	return depth, nil
}

func (p *AnalysisProcessor) entry(stage, message string) models.ProcessingLogEntry {
	return models.ProcessingLogEntry{At: p.now().UTC(), Stage: stage, Message: message}
}

var errLeaseLost = errors.New("analysis lease lost")

func appendLog(existing datatypes.JSONSlice[models.ProcessingLogEntry], entries ...models.ProcessingLogEntry) datatypes.JSONSlice[models.ProcessingLogEntry] {
	out := make(datatypes.JSONSlice[models.ProcessingLogEntry], 0, len(existing)+len(entries))
	out = append(out, existing...)
	out = append(out, entries...)
	return out
}
