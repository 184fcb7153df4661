package monitor

import (
	"context"
	"fmt"
	"time"

	"excel-analysis-scheduler/internal/tiers"
)

// QueuePerformance summarizes recent throughput and latency for one tier.
type QueuePerformance struct {
	ThroughputLastHour int64   `json:"throughput_last_hour"`
	SuccessRate        float64 `json:"success_rate"`
	FailureRate        float64 `json:"failure_rate"`
	WorkerEfficiency   float64 `json:"worker_efficiency"`
	P50Seconds         float64 `json:"p50_seconds"`
	P95Seconds         float64 `json:"p95_seconds"`
	P99Seconds         float64 `json:"p99_seconds"`
}

// QueueReport bundles everything the periodic analysis knows about one tier.
type QueueReport struct {
	Stats           QueueStatistics  `json:"stats"`
	Performance     QueuePerformance `json:"performance"`
	HealthScore     float64          `json:"health_score"`
	Recommendations []string         `json:"recommendations"`
}

// SystemReport is the top-level health report handed to monitoring.
type SystemReport struct {
	GeneratedAt  time.Time                  `json:"generated_at"`
	Queues       map[tiers.Tier]QueueReport `json:"queues"`
	OverallScore float64                    `json:"overall_score"`
	Status       string                     `json:"status"`
	BestQueue    tiers.Tier                 `json:"best_performing_queue"`
	WorstQueue   tiers.Tier                 `json:"worst_performing_queue"`
}

// AnalyzePerformance computes a fresh health report across every tier. Each
// tier is evaluated independently from job-store aggregates; an empty tier
// scores as healthy-but-idle rather than failing.
func (m *Monitor) AnalyzePerformance(ctx context.Context) (SystemReport, error) {
	report := SystemReport{
		GeneratedAt: m.now().UTC(),
		Queues:      make(map[tiers.Tier]QueueReport, len(tiers.Names())),
	}

	var (
		sum        float64
		best       tiers.Tier
		worst      tiers.Tier
		bestScore  = -1.0
		worstScore = 2.0
	)

	for _, t := range tiers.Names() {
		qr, err := m.analyzeQueue(ctx, t)
		if err != nil {
			return SystemReport{}, err
		}
		report.Queues[t] = qr
		sum += qr.HealthScore
		if qr.HealthScore > bestScore {
			bestScore, best = qr.HealthScore, t
		}
		if qr.HealthScore < worstScore {
			worstScore, worst = qr.HealthScore, t
		}
	}

	report.OverallScore = sum / float64(len(report.Queues))
	report.Status = statusFor(report.OverallScore)
	report.BestQueue = best
	report.WorstQueue = worst
	return report, nil
}

func (m *Monitor) analyzeQueue(ctx context.Context, t tiers.Tier) (QueueReport, error) {
	stats, err := m.Statistics(ctx, t)
	if err != nil {
		return QueueReport{}, err
	}

	queue := t.String()
	throughput, err := m.stats.CountJobs(ctx, queue, completedStatuses, m.now().Add(-time.Hour))
	if err != nil {
		return QueueReport{}, fmt.Errorf("throughput for %s: %w", queue, err)
	}
	p50, p95, p99, err := m.stats.ProcessingPercentiles(ctx, queue, m.now().Add(-24*time.Hour))
	if err != nil {
		return QueueReport{}, fmt.Errorf("percentiles for %s: %w", queue, err)
	}

	perf := QueuePerformance{
		ThroughputLastHour: throughput,
		P50Seconds:         p50,
		P95Seconds:         p95,
		P99Seconds:         p99,
	}
	if stats.Total > 0 {
		perf.SuccessRate = float64(stats.Completed) / float64(stats.Total)
		perf.FailureRate = float64(stats.Failed) / float64(stats.Total)
	}
	perf.WorkerEfficiency = workerEfficiency(stats.OldestPendingSeconds)

	score := HealthScore(perf.SuccessRate, perf.FailureRate, stats.OldestPendingSeconds, perf.WorkerEfficiency)
	return QueueReport{
		Stats:           stats,
		Performance:     perf,
		HealthScore:     score,
		Recommendations: recommendations(stats, perf, score),
	}, nil
}

// workerEfficiency degrades linearly as the oldest pending job ages toward an
// hour, never dropping below 0.1.
func workerEfficiency(oldestPendingSeconds float64) float64 {
	eff := 1 - oldestPendingSeconds/3600
	if eff < 0.1 {
		eff = 0.1
	}
	return eff
}

// HealthScore folds success rate, failure rate, queue latency, and worker
// efficiency into one 0..1 score. For inputs in their documented ranges the
// result always lands in [0,1].
func HealthScore(successRate, failureRate, latencySeconds, efficiency float64) float64 {
	score := 0.3*clamp01(successRate) +
		0.2*(1-clamp01(failureRate)) +
		0.3*latencyScore(latencySeconds) +
		0.2*clamp01(efficiency)
	return clamp01(score)
}

func latencyScore(latencySeconds float64) float64 {
	switch {
	case latencySeconds <= 30:
		return 1.0
	case latencySeconds <= 120:
		return 0.8
	case latencySeconds <= 300:
		return 0.6
	case latencySeconds <= 600:
		return 0.4
	default:
		return 0.2
	}
}

func statusFor(score float64) string {
	switch {
	case score >= 0.9:
		return "excellent"
	case score >= 0.75:
		return "good"
	case score >= 0.6:
		return "fair"
	case score >= 0.4:
		return "poor"
	default:
		return "critical"
	}
}

func recommendations(stats QueueStatistics, perf QueuePerformance, score float64) []string {
	var recs []string
	if perf.FailureRate > 0.2 {
		recs = append(recs, fmt.Sprintf("failure rate %.0f%%: inspect recent errors before adding capacity", perf.FailureRate*100))
	}
	if stats.OldestPendingSeconds > 600 {
		recs = append(recs, fmt.Sprintf("oldest pending job has waited %.0fs, consider raising worker count", stats.OldestPendingSeconds))
	}
	if perf.P95Seconds > 0 && perf.P99Seconds > 3*perf.P95Seconds {
		recs = append(recs, "p99 far above p95: a few outlier files dominate processing time")
	}
	if score < 0.4 {
		recs = append(recs, "health critical: drain or rebalance this queue")
	}
	return recs
}
