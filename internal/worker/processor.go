package worker

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/models"
	"excel-analysis-scheduler/internal/queue"
	"excel-analysis-scheduler/internal/store"
	"excel-analysis-scheduler/internal/telemetry"
	"excel-analysis-scheduler/internal/tiers"
)

// Handler runs one spreadsheet analysis. Implementations must respect ctx and
// return a Result describing what the analysis produced.
type Handler interface {
	Analyze(ctx context.Context, job models.AnalysisJob) (Result, error)
}

// Result is the outcome of a completed analysis.
type Result struct {
	AITier    int
	ReportKey string
	Findings  int
}

// Processor drives the worker execution loop: it claims analyses from the
// tier queues, runs the handler, and records the outcome.
type Processor struct {
	cfg      config.Config
	queue    *queue.RedisQueue
	store    *store.Store
	handler  Handler
	workerID string
}

func NewProcessor(cfg config.Config, q *queue.RedisQueue, st *store.Store, handler Handler) *Processor {
	return NewProcessorWithID(cfg, q, st, handler, "")
}

// NewProcessorWithID creates a processor with a specific worker ID for audit
// attribution.
func NewProcessorWithID(cfg config.Config, q *queue.RedisQueue, st *store.Store, handler Handler, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		handler:  handler,
		workerID: workerID,
	}
}

// Run starts the worker loops until context cancellation: one maintenance
// loop promoting scheduled analyses and reclaiming expired leases, plus
// WorkerCount execution loops.
func (p *Processor) Run(ctx context.Context) error {
	n := p.cfg.WorkerCount
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintenanceLoop(ctx)
	}()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.executeLoop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) maintenanceLoop(ctx context.Context) {
	interval := p.cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize))

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			for _, id := range reclaimed {
				if job, err := p.store.GetJob(ctx, id); err == nil {
					_ = p.store.UpdateJobStatus(ctx, id, models.StatusQueued, job.Attempts, time.Now(), job.LastError)
				}
			}
		}

		if depths, err := p.queue.TierDepths(ctx); err == nil {
			for t, n := range depths {
				telemetry.QueueDepthGauge.WithLabelValues(t.String()).Set(float64(n))
			}
		}
	}
}

func (p *Processor) executeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}
		p.process(ctx, jobID)
	}
}

func (p *Processor) process(ctx context.Context, jobID string) {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		_ = p.queue.Ack(ctx, jobID)
		return
	}
	if job.Status == models.StatusCancelled {
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	// A crash after the lease write but before execution leaves a leased row
	// for the reclaim scan to reset.
	_ = p.store.UpdateJobStatus(ctx, job.ID, models.StatusLeased, job.Attempts, job.NextRunAt, nil)

	// Long tiers get their lease stretched to the tier timeout up front so a
	// slow scan does not get reclaimed mid-run.
	t := jobTier(job)
	if tc, ok := tiers.Get(t); ok && tc.Timeout > p.cfg.VisibilityTimeout {
		_ = p.queue.ExtendLease(ctx, job.ID, tc.Timeout)
	}

	_ = p.store.UpdateJobStatus(ctx, job.ID, models.StatusInProgress, job.Attempts, job.NextRunAt, nil)
	telemetry.InFlightGauge.Inc()

	started := time.Now()
	result, err := p.handler.Analyze(ctx, job)
	elapsed := time.Since(started).Milliseconds()

	if err == nil {
		aiTier := result.AITier
		if aiTier == 0 {
			aiTier = aiTierFor(job.Complexity)
		}
		_ = p.queue.Ack(ctx, job.ID)
		_ = p.store.MarkSuccess(ctx, job.ID, aiTier, elapsed)
		_ = p.store.AppendAudit(ctx, job.ID, "succeeded", p.auditDetail(fmt.Sprintf("report=%s findings=%d ms=%d", result.ReportKey, result.Findings, elapsed)))
		telemetry.WorkerSuccess.Inc()
		telemetry.InFlightGauge.Dec()
		return
	}

	attempts := job.Attempts + 1
	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	nextRun := time.Now().Add(backoff)
	_ = p.store.UpdateAttempts(ctx, job.ID, attempts, nextRun, err.Error())

	if attempts >= job.MaxAttempts || attempts >= p.cfg.MaxAttempts {
		_ = p.store.MarkDeadLetter(ctx, job.ID, err.Error())
		_ = p.queue.Ack(ctx, job.ID)
		_ = p.queue.DLQPush(ctx, job.ID)
		_ = p.store.AppendAudit(ctx, job.ID, "dead_letter", p.auditDetail(err.Error()))
		telemetry.WorkerDeadLetter.Inc()
		telemetry.InFlightGauge.Dec()
		return
	}

	_ = p.queue.Ack(ctx, job.ID)
	_ = p.queue.Schedule(ctx, job.ID, t, job.Priority, nextRun)
	_ = p.store.AppendAudit(ctx, job.ID, "retry_scheduled", p.auditDetail(fmt.Sprintf("next_run=%s attempts=%d", nextRun.UTC().Format(time.RFC3339), attempts)))
	telemetry.WorkerFailures.Inc()
	telemetry.InFlightGauge.Dec()
}

func (p *Processor) auditDetail(detail string) string {
	if p.workerID == "" {
		return detail
	}
	return fmt.Sprintf("worker=%s %s", p.workerID, detail)
}

// jobTier maps the persisted queue name back to a tier, defaulting to
// standard_processing for rows written before a tier rename.
func jobTier(job models.AnalysisJob) tiers.Tier {
	t := tiers.Tier(job.Queue)
	if !t.Valid() {
		return tiers.Standard
	}
	return t
}

// aiTierFor picks the model tier an analysis needs from its complexity
// score. The recorded value feeds future complexity estimates for files of
// similar size.
func aiTierFor(complexity float64) int {
	switch {
	case complexity < 0.4:
		return 1
	case complexity < 0.7:
		return 2
	default:
		return 3
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	half := wait / 2
	if half <= 0 {
		// rand.Int63n panics on a non-positive bound; degenerate bases skip
		// the jitter.
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(half)))
	return half + jitter
}
