package checks

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/monitoring"
)

// AnalysisBacklog reports degraded when queued analysis jobs have been due
// for longer than maxLag, or when jobs exhausted their retries.
func AnalysisBacklog(db *gorm.DB, maxLag time.Duration, now func() time.Time) monitoring.Check {
	if now == nil {
		now = time.Now
	}
	if maxLag <= 0 {
		maxLag = 15 * time.Minute
	}
	return monitoring.NewCheck("analysis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		var stale, failed int64
		cutoff := now().UTC().Add(-maxLag)
		if err := db.WithContext(ctx).Model(&models.AnalysisJob{}).
			Where("status = ? AND next_attempt_at < ?", models.JobQueued, cutoff).
			Count(&stale).Error; err != nil {
			return monitoring.ResultFromError("analysis", err, time.Since(start))
		}
		if err := db.WithContext(ctx).Model(&models.AnalysisJob{}).
			Where("status = ?", models.JobFailed).
			Count(&failed).Error; err != nil {
			return monitoring.ResultFromError("analysis", err, time.Since(start))
		}

		if stale > 0 || failed > 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  fmt.Sprintf("%d overdue, %d failed", stale, failed),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
