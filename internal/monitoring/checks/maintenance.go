package checks

import (
	"context"
	"strings"
	"time"

	"github.com/candorhq/candor/internal/monitoring"
)

const defaultMaintenanceMaxAge = 26 * time.Hour

// Maintenance verifies that background jobs keep succeeding. A job failing
// repeatedly or not running within maxAge degrades readiness.
func Maintenance(registry *monitoring.MaintenanceRegistry, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		runs := registry.Snapshot()
		if len(runs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance runs recorded"}
		}

		status := monitoring.StatusUp
		var problems []string
		for _, run := range runs {
			if run.ConsecutiveFailures > 1 {
				status = monitoring.StatusDegraded
				problems = append(problems, run.Job+": "+run.LastError)
				continue
			}
			if now().Sub(run.LastRunAt) > maxAge {
				status = monitoring.StatusDegraded
				problems = append(problems, run.Job+": stale since "+run.LastRunAt.Format(time.RFC3339))
			}
		}
		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
