package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"excel-analysis-scheduler/internal/models"
)

// SimulationHandler fakes analyses for load testing without real files. File
// names containing "simulate-fail" error out; otherwise the handler sleeps
// proportionally to the estimated complexity and reports the mapped AI tier.
type SimulationHandler struct {
	// SleepPerComplexity is how long a complexity of 1.0 takes. Zero means
	// 100ms.
	SleepPerComplexity time.Duration
}

func (h SimulationHandler) Analyze(ctx context.Context, job models.AnalysisJob) (Result, error) {
	if strings.Contains(job.FileName, "simulate-fail") {
		return Result{}, errors.New("simulated failure requested by file name")
	}

	unit := h.SleepPerComplexity
	if unit == 0 {
		unit = 100 * time.Millisecond
	}
	sleep := time.Duration(job.Complexity * float64(unit))
	if sleep > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return Result{AITier: aiTierFor(job.Complexity)}, nil
}
