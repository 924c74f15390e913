package checks

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/monitoring"
)

const defaultProbeTimeout = 2 * time.Second

// Database reports whether the database answers and carries the seeded role
// catalogue. Without roles no user can sign in, so an unseeded schema is down.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()

		var roles int64
		if err := db.WithContext(probeCtx).Model(&models.Role{}).Count(&roles).Error; err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}
		if roles == 0 {
			return monitoring.ResultFromError("database", errors.New("role catalogue is empty; run migrations"), time.Since(start))
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}

func chooseTimeout(provided time.Duration) time.Duration {
	if provided <= 0 {
		return defaultProbeTimeout
	}
	return provided
}
