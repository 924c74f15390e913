package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/candorhq/candor/pkg/logger"
)

const (
	defaultAuditRetentionDays = 365
	defaultInvitationGrace    = 30 * 24 * time.Hour

	defaultFrequentSpec = "@every 5m"
	defaultHourlySpec   = "@hourly"
	defaultDailySpec    = "@daily"
)

// Job names reported to the maintenance registry.
const (
	JobSessions    = "sessions"
	JobMagicLinks  = "magic_links"
	JobInvitations = "invitations"
	JobAudit       = "audit_retention"
	JobCache       = "cache"
	JobTeamCounts  = "team_counts"
	JobQueueDepth  = "analysis_queue_depth"
)

// SessionPurger removes expired and revoked sessions.
type SessionPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// MagicLinkPurger removes expired and consumed sign-in links.
type MagicLinkPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// InvitationPurger removes invitations that expired long ago.
type InvitationPurger interface {
	CleanupExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AuditPurger enforces audit log retention.
type AuditPurger interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger drops expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// TeamCounter refreshes denormalised team counters.
type TeamCounter interface {
	RecountAll(ctx context.Context) error
}

// QueueGauge refreshes the analysis queue depth metric.
type QueueGauge interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// Recorder receives the outcome of every job run.
type Recorder interface {
	Record(job string, at time.Time, duration time.Duration, err error)
}

// Targets lists the components the Cleaner maintains. Nil targets are skipped.
type Targets struct {
	Sessions    SessionPurger
	MagicLinks  MagicLinkPurger
	Invitations InvitationPurger
	Audit       AuditPurger
	Cache       CachePurger
	Teams       TeamCounter
	Queue       QueueGauge
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

// Cleaner runs periodic housekeeping: purging expired sessions, sign-in
// links and invitations, enforcing audit retention, dropping stale cache rows
// and refreshing derived counters.
type Cleaner struct {
	targets   Targets
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	recorder  Recorder
	retention int
	grace     time.Duration
	jobs      []job
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithInvitationGrace keeps expired invitations visible to admins for d
// before they are deleted.
func WithInvitationGrace(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.grace = d
		}
	}
}

// WithRecorder reports job outcomes, typically to the health registry.
func WithRecorder(r Recorder) Option {
	return func(cleaner *Cleaner) {
		cleaner.recorder = r
	}
}

// NewCleaner constructs a Cleaner for the supplied targets.
func NewCleaner(targets Targets, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		targets:   targets,
		now:       time.Now,
		retention: defaultAuditRetentionDays,
		grace:     defaultInvitationGrace,
		log:       logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.jobs = cleaner.buildJobs()
	return cleaner
}

func (c *Cleaner) buildJobs() []job {
	var jobs []job
	t := c.targets

	if t.Sessions != nil {
		jobs = append(jobs, job{JobSessions, defaultHourlySpec, t.Sessions.CleanupExpired})
	}
	if t.MagicLinks != nil {
		jobs = append(jobs, job{JobMagicLinks, defaultHourlySpec, t.MagicLinks.CleanupExpired})
	}
	if t.Invitations != nil {
		jobs = append(jobs, job{JobInvitations, defaultDailySpec, func(ctx context.Context) (int64, error) {
			return t.Invitations.CleanupExpired(ctx, c.grace)
		}})
	}
	if t.Audit != nil && c.retention > 0 {
		jobs = append(jobs, job{JobAudit, defaultDailySpec, func(ctx context.Context) (int64, error) {
			return t.Audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	if t.Cache != nil {
		jobs = append(jobs, job{JobCache, defaultHourlySpec, func(ctx context.Context) (int64, error) {
			return t.Cache.PurgeExpired(ctx, c.now().UTC())
		}})
	}
	if t.Teams != nil {
		jobs = append(jobs, job{JobTeamCounts, defaultDailySpec, func(ctx context.Context) (int64, error) {
			return 0, t.Teams.RecountAll(ctx)
		}})
	}
	if t.Queue != nil {
		jobs = append(jobs, job{JobQueueDepth, defaultFrequentSpec, t.Queue.QueueDepth})
	}
	return jobs
}

// Jobs returns the names of the configured jobs in run order.
func (c *Cleaner) Jobs() []string {
	names := make([]string, 0, len(c.jobs))
	for _, j := range c.jobs {
		names = append(names, j.name)
	}
	return names
}

// Start registers the jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if len(c.jobs) == 0 {
		return nil
	}

	for _, j := range c.jobs {
		if _, err := c.cron.AddFunc(j.schedule, func() {
			_ = c.runJob(context.Background(), j)
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once
// running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every job sequentially and returns the combined errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		errs = multierr.Append(errs, c.runJob(ctx, j))
	}
	return errs
}

func (c *Cleaner) runJob(ctx context.Context, j job) error {
	started := c.now()
	count, err := j.run(ctx)
	elapsed := c.now().Sub(started)

	if c.recorder != nil {
		c.recorder.Record(j.name, started, elapsed, err)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
		return err
	}
	if count > 0 {
		c.log.Info("maintenance job completed",
			zap.String("job", j.name),
			zap.Int64("affected", count),
			zap.Duration("duration", elapsed),
		)
	}
	return nil
}
