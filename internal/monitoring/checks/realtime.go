package checks

import (
	"context"
	"fmt"

	"github.com/charlesng35/csrnotify/internal/monitoring"
)

// Realtime degrades when the in-app websocket channel has dropped deliveries.
func Realtime(module *monitoring.Module) monitoring.Check {
	return monitoring.NewCheck("realtime", func(ctx context.Context) monitoring.ProbeResult {
		snapshot := module.Snapshot().Realtime
		if snapshot.Failures == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
		details := fmt.Sprintf("%d failures", snapshot.Failures)
		if last := snapshot.LastFailure; last != nil {
			details += fmt.Sprintf(", last on %s: %s", last.Stream, last.Message)
		}
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: details}
	})
}
