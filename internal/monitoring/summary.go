package monitoring

import "time"

// Summary surfaces aggregated engine activity for the admin API.
type Summary struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Dispatch    DispatchSummary   `json:"dispatch"`
	Recurrence  RecurrenceSummary `json:"recurrence"`
	Digests     DigestSummary     `json:"digests"`
	Reschedules RescheduleSummary `json:"reschedules"`
	Realtime    RealtimeSummary   `json:"realtime"`
	Schedule    ScheduleSummary   `json:"schedule"`
	Jobs        []JobSummary      `json:"jobs"`
}

type DispatchSummary struct {
	Success  uint64           `json:"success"`
	Failure  uint64           `json:"failure"`
	Channels []ChannelSummary `json:"channels"`
}

type ChannelSummary struct {
	Channel   string `json:"channel"`
	Success   uint64 `json:"success"`
	Failure   uint64 `json:"failure"`
	LastError string `json:"last_error,omitempty"`
}

type RecurrenceSummary struct {
	Generated uint64 `json:"generated"`
}

type DigestSummary struct {
	Generated uint64 `json:"generated"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

type RescheduleSummary struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

type FailureRecord struct {
	Stream   string    `json:"stream"`
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type RealtimeSummary struct {
	ActiveConnections int64          `json:"active_connections"`
	Broadcasts        uint64         `json:"broadcasts"`
	Failures          uint64         `json:"failures"`
	LastFailure       *FailureRecord `json:"last_failure,omitempty"`
}

// ScheduleSummary is the last published scheduling snapshot.
type ScheduleSummary struct {
	Buckets     map[string]int64 `json:"buckets"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns the summary of the process-wide module.
func Snapshot() Summary {
	return CurrentModule().Snapshot()
}
