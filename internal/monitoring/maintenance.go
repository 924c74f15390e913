package monitoring

import (
	"sort"
	"sync"
	"time"
)

// MaintenanceRun summarises the recent history of a maintenance job.
type MaintenanceRun struct {
	Job                 string        `json:"job"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	TotalRuns           uint64        `json:"total_runs"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
}

// MaintenanceRegistry records maintenance job outcomes for the health check.
type MaintenanceRegistry struct {
	mu   sync.Mutex
	jobs map[string]*MaintenanceRun
}

// NewMaintenanceRegistry constructs an empty registry.
func NewMaintenanceRegistry() *MaintenanceRegistry {
	return &MaintenanceRegistry{jobs: make(map[string]*MaintenanceRun)}
}

// Record stores the outcome of one job run.
func (r *MaintenanceRegistry) Record(job string, at time.Time, duration time.Duration, err error) {
	if r == nil || job == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.jobs[job]
	if !ok {
		run = &MaintenanceRun{Job: job}
		r.jobs[job] = run
	}
	run.TotalRuns++
	run.LastRunAt = at.UTC()
	run.LastDuration = duration
	if err != nil {
		run.LastError = err.Error()
		run.ConsecutiveFailures++
		return
	}
	run.LastError = ""
	run.ConsecutiveFailures = 0
}

// Snapshot returns the recorded runs ordered by job name.
func (r *MaintenanceRegistry) Snapshot() []MaintenanceRun {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	runs := make([]MaintenanceRun, 0, len(r.jobs))
	for _, run := range r.jobs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Job < runs[j].Job })
	return runs
}
