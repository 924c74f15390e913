package checks

import (
	"context"
	"time"

	"github.com/candorhq/candor/internal/monitoring"
)

// Pinger is implemented by cache backends that hold a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a readiness probe for the shared cache. A nil pinger means
// the database-backed cache is in use and is covered by the database probe.
// An unreachable cache degrades rather than fails readiness because session
// lookups fall back to the database.
func Cache(pinger Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		if pinger == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "database cache"}
		}

		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()

		if err := pinger.Ping(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
