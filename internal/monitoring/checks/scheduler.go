package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/csrnotify/internal/monitoring"
)

const defaultJobMaxAge = 2 * time.Hour

// Scheduler reports the scheduler jobs recorded on module as down after repeated failures
// and degraded when a job has not run within maxAge.
func Scheduler(module *monitoring.Module, maxAge time.Duration) monitoring.Check {
	maxAge = chooseTimeout(maxAge, defaultJobMaxAge)
	return monitoring.NewCheck("scheduler", func(ctx context.Context) monitoring.ProbeResult {
		jobs := module.Snapshot().Jobs
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no scheduler runs recorded"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var problems []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				status = worstStatus(status, monitoring.StatusDown)
				problems = append(problems, fmt.Sprintf("%s: %d consecutive failures", job.Job, job.ConsecutiveFailures))
			}
			if !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				problems = append(problems, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}
		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
