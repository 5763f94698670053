package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	dispatchSuccess atomic.Uint64
	dispatchFailure atomic.Uint64
	channels        sync.Map // string -> *channelStats

	generated atomic.Uint64

	digestGenerated atomic.Uint64
	digestSkipped   atomic.Uint64
	digestFailed    atomic.Uint64

	reschedulesOK       atomic.Uint64
	reschedulesRejected atomic.Uint64

	realtimeConnections atomic.Int64
	realtimeBroadcasts  atomic.Uint64
	realtimeFailures    atomic.Uint64
	realtimeLastFailure atomic.Pointer[FailureRecord]

	scheduleMu sync.RWMutex
	schedule   ScheduleSummary

	jobs sync.Map // string -> *jobStats
}

func newStatStore() *statStore {
	return &statStore{}
}

func emptySummary() Summary {
	return Summary{GeneratedAt: time.Now(), Dispatch: DispatchSummary{Channels: []ChannelSummary{}}, Jobs: []JobSummary{}}
}

func (s *statStore) summary() Summary {
	s.scheduleMu.RLock()
	schedule := s.schedule
	schedule.Buckets = cloneBuckets(s.schedule.Buckets)
	s.scheduleMu.RUnlock()

	return Summary{
		GeneratedAt: time.Now(),
		Dispatch: DispatchSummary{
			Success:  s.dispatchSuccess.Load(),
			Failure:  s.dispatchFailure.Load(),
			Channels: s.cloneChannels(),
		},
		Recurrence: RecurrenceSummary{Generated: s.generated.Load()},
		Digests: DigestSummary{
			Generated: s.digestGenerated.Load(),
			Skipped:   s.digestSkipped.Load(),
			Failed:    s.digestFailed.Load(),
		},
		Reschedules: RescheduleSummary{
			Accepted: s.reschedulesOK.Load(),
			Rejected: s.reschedulesRejected.Load(),
		},
		Realtime: RealtimeSummary{
			ActiveConnections: s.realtimeConnections.Load(),
			Broadcasts:        s.realtimeBroadcasts.Load(),
			Failures:          s.realtimeFailures.Load(),
			LastFailure:       s.realtimeLastFailure.Load(),
		},
		Schedule: schedule,
		Jobs:     s.cloneJobs(),
	}
}

func (s *statStore) recordDispatch(channel string, err error) {
	entry := s.channelEntry(channel)
	if err != nil {
		s.dispatchFailure.Add(1)
		entry.failure.Add(1)
		msg := err.Error()
		entry.lastError.Store(&msg)
		return
	}
	s.dispatchSuccess.Add(1)
	entry.success.Add(1)
}

func (s *statStore) recordDigest(result string) {
	switch result {
	case "generated":
		s.digestGenerated.Add(1)
	case "skipped":
		s.digestSkipped.Add(1)
	default:
		s.digestFailed.Add(1)
	}
}

func (s *statStore) recordReschedule(result string) {
	if result == "ok" {
		s.reschedulesOK.Add(1)
		return
	}
	s.reschedulesRejected.Add(1)
}

func (s *statStore) recordSchedule(buckets map[string]int64, at time.Time) {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	s.schedule = ScheduleSummary{Buckets: cloneBuckets(buckets), RefreshedAt: at}
}

// adjustRealtimeConnections applies delta and returns the new count, clamped at zero.
func (s *statStore) adjustRealtimeConnections(delta int64) int64 {
	current := s.realtimeConnections.Add(delta)
	if current < 0 {
		s.realtimeConnections.Store(0)
		return 0
	}
	return current
}

func (s *statStore) recordRealtimeFailure(record FailureRecord) {
	s.realtimeFailures.Add(1)
	s.realtimeLastFailure.Store(&record)
}

func (s *statStore) channelEntry(channel string) *channelStats {
	if value, ok := s.channels.Load(channel); ok {
		return value.(*channelStats)
	}
	actual, _ := s.channels.LoadOrStore(channel, &channelStats{})
	return actual.(*channelStats)
}

func (s *statStore) jobEntry(job string) *jobStats {
	if value, ok := s.jobs.Load(job); ok {
		return value.(*jobStats)
	}
	actual, _ := s.jobs.LoadOrStore(job, &jobStats{})
	return actual.(*jobStats)
}

func (s *statStore) cloneChannels() []ChannelSummary {
	out := []ChannelSummary{}
	s.channels.Range(func(key, value any) bool {
		stats := value.(*channelStats)
		summary := ChannelSummary{
			Channel: key.(string),
			Success: stats.success.Load(),
			Failure: stats.failure.Load(),
		}
		if msg := stats.lastError.Load(); msg != nil {
			summary.LastError = *msg
		}
		out = append(out, summary)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (s *statStore) cloneJobs() []JobSummary {
	out := []JobSummary{}
	s.jobs.Range(func(key, value any) bool {
		out = append(out, value.(*jobStats).snapshot(key.(string)))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func cloneBuckets(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type channelStats struct {
	success   atomic.Uint64
	failure   atomic.Uint64
	lastError atomic.Pointer[string]
}

type jobStats struct {
	mu                   sync.Mutex
	lastStatus           string
	lastError            string
	lastRun              time.Time
	lastSuccess          time.Time
	lastDuration         time.Duration
	consecutiveFailures  uint64
	consecutiveSuccesses uint64
	totalRuns            uint64
}

func (j *jobStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.lastStatus = result
	j.lastError = message
	j.lastRun = now
	j.lastDuration = duration
	j.totalRuns++
	if result == "success" {
		j.consecutiveFailures = 0
		j.consecutiveSuccesses++
		j.lastSuccess = now
		return
	}
	j.consecutiveFailures++
	j.consecutiveSuccesses = 0
}

func (j *jobStats) snapshot(job string) JobSummary {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSummary{
		Job:                 job,
		LastStatus:          j.lastStatus,
		LastRunAt:           j.lastRun,
		LastDuration:        j.lastDuration,
		LastError:           j.lastError,
		ConsecutiveFailures: j.consecutiveFailures,
		ConsecutiveSuccess:  j.consecutiveSuccesses,
		LastSuccessAt:       j.lastSuccess,
		TotalRuns:           j.totalRuns,
	}
}
