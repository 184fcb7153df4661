package monitor

import (
	"context"
	"fmt"
	"time"

	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/tiers"
)

const (
	// overloadThreshold is the load above which a freshly classified
	// submission gets redirected away from its tier.
	overloadThreshold = 0.85
	// alternateThreshold is the most load an overflow target may carry.
	alternateThreshold = 0.7
)

// StatsSource provides point-in-time aggregates from the job store. A nil
// statuses slice counts every status; a zero since counts all time. Empty
// result sets must come back as zeros, not errors.
type StatsSource interface {
	CountJobs(ctx context.Context, queue string, statuses []string, since time.Time) (int64, error)
	OldestPendingAge(ctx context.Context, queue string) (time.Duration, error)
	AvgProcessingSeconds(ctx context.Context, queue string) (float64, error)
	ProcessingPercentiles(ctx context.Context, queue string, since time.Time) (p50, p95, p99 float64, err error)
}

// Monitor reads queue aggregates and makes load-balancing decisions. It keeps
// no state of its own: every call is a fresh read against the job store, so
// concurrent callers may observe slightly stale numbers, which the heuristics
// tolerate.
type Monitor struct {
	stats StatsSource
	now   func() time.Time
}

// New builds a monitor over the given stats source.
func New(stats StatsSource) *Monitor {
	return NewWithClock(stats, time.Now)
}

// NewWithClock builds a monitor with an explicit clock, letting tests pin the
// hour-of-day heuristics.
func NewWithClock(stats StatsSource, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{stats: stats, now: now}
}

var (
	pendingStatuses   = []string{models.StatusQueued, models.StatusLeased}
	runningStatuses   = []string{models.StatusInProgress}
	failedStatuses    = []string{models.StatusFailed, models.StatusDeadLetter}
	completedStatuses = []string{models.StatusSucceeded}
)

// QueueStatistics is a point-in-time aggregate for one tier. It is recomputed
// on every call and never cached.
type QueueStatistics struct {
	Queue                tiers.Tier `json:"queue"`
	Total                int64      `json:"total_jobs"`
	Pending              int64      `json:"pending_jobs"`
	Running              int64      `json:"running_jobs"`
	Failed               int64      `json:"failed_jobs"`
	Completed            int64      `json:"completed_jobs"`
	AvgProcessingSeconds float64    `json:"avg_processing_seconds"`
	OldestPendingSeconds float64    `json:"oldest_pending_seconds"`
}

// Statistics assembles the aggregate counts for one tier.
func (m *Monitor) Statistics(ctx context.Context, t tiers.Tier) (QueueStatistics, error) {
	stats := QueueStatistics{Queue: t}
	queue := t.String()

	var err error
	if stats.Total, err = m.stats.CountJobs(ctx, queue, nil, time.Time{}); err != nil {
		return stats, fmt.Errorf("count total for %s: %w", queue, err)
	}
	if stats.Pending, err = m.stats.CountJobs(ctx, queue, pendingStatuses, time.Time{}); err != nil {
		return stats, fmt.Errorf("count pending for %s: %w", queue, err)
	}
	if stats.Running, err = m.stats.CountJobs(ctx, queue, runningStatuses, time.Time{}); err != nil {
		return stats, fmt.Errorf("count running for %s: %w", queue, err)
	}
	if stats.Failed, err = m.stats.CountJobs(ctx, queue, failedStatuses, time.Time{}); err != nil {
		return stats, fmt.Errorf("count failed for %s: %w", queue, err)
	}
	if stats.Completed, err = m.stats.CountJobs(ctx, queue, completedStatuses, time.Time{}); err != nil {
		return stats, fmt.Errorf("count completed for %s: %w", queue, err)
	}
	if stats.AvgProcessingSeconds, err = m.stats.AvgProcessingSeconds(ctx, queue); err != nil {
		return stats, fmt.Errorf("avg processing for %s: %w", queue, err)
	}
	oldest, err := m.stats.OldestPendingAge(ctx, queue)
	if err != nil {
		return stats, fmt.Errorf("oldest pending for %s: %w", queue, err)
	}
	stats.OldestPendingSeconds = oldest.Seconds()
	return stats, nil
}

// CurrentLoad combines worker utilization (70%) and the pending-job ratio
// (30%) into a single 0..1 load factor for a tier.
func (m *Monitor) CurrentLoad(ctx context.Context, t tiers.Tier) (float64, error) {
	cfg := tiers.MustGet(t)
	queue := t.String()

	running, err := m.stats.CountJobs(ctx, queue, runningStatuses, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("count running for %s: %w", queue, err)
	}
	pending, err := m.stats.CountJobs(ctx, queue, pendingStatuses, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("count pending for %s: %w", queue, err)
	}
	total, err := m.stats.CountJobs(ctx, queue, nil, time.Time{})
	if err != nil {
		return 0, fmt.Errorf("count total for %s: %w", queue, err)
	}

	utilization := 0.0
	if cfg.MaxWorkers > 0 {
		utilization = float64(running) / float64(cfg.MaxWorkers)
	}
	pendingRatio := 0.0
	if total > 0 {
		pendingRatio = float64(pending) / float64(total)
	}
	return clamp01(0.7*utilization + 0.3*pendingRatio), nil
}

// Reason explains a queue adjustment decision.
type Reason string

const (
	ReasonOptimal    Reason = "optimal_assignment"
	ReasonOverloaded Reason = "original_queue_overloaded"
)

// Adjustment is the outcome of the pre-enqueue overload check. LoadFactor is
// the measured load of the originally classified tier; OriginalQueue is set
// only when the submission was redirected.
type Adjustment struct {
	Queue         tiers.Tier `json:"queue"`
	Reason        Reason     `json:"reason"`
	OriginalQueue tiers.Tier `json:"original_queue,omitempty"`
	LoadFactor    float64    `json:"load_factor"`
}

// AdjustIfNeeded redirects a submission away from an overloaded tier. When
// the classified tier's load exceeds 0.85 it picks the least-loaded other
// tier that fits the file and sits below 0.7 load. Tiers with eligibility
// gates are never overflow targets, since no user identity reaches this
// decision. Two near-simultaneous submissions may both pick the same
// alternate and overfill it slightly; the heuristic accepts that.
func (m *Monitor) AdjustIfNeeded(ctx context.Context, t tiers.Tier, fileSize int64) (Adjustment, error) {
	load, err := m.CurrentLoad(ctx, t)
	if err != nil {
		return Adjustment{}, err
	}
	adj := Adjustment{Queue: t, Reason: ReasonOptimal, LoadFactor: load}
	if load <= overloadThreshold {
		return adj, nil
	}

	var best tiers.Tier
	bestLoad := alternateThreshold
	for _, cand := range tiers.Names() {
		if cand == t {
			continue
		}
		cfg := tiers.MustGet(cand)
		if cfg.Gated() || !cfg.Accepts(fileSize) {
			continue
		}
		candLoad, err := m.CurrentLoad(ctx, cand)
		if err != nil {
			return Adjustment{}, err
		}
		if candLoad < bestLoad {
			best = cand
			bestLoad = candLoad
		}
	}
	if best != "" {
		adj.Queue = best
		adj.Reason = ReasonOverloaded
		adj.OriginalQueue = t
	}
	return adj, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
