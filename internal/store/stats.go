package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"excel-analysis-scheduler/internal/models"
)

// CountJobs counts analyses on one queue. A nil statuses slice counts every
// status; a zero since counts all time, otherwise rows updated since the
// given instant.
func (s *Store) CountJobs(ctx context.Context, queue string, statuses []string, since time.Time) (int64, error) {
	q := `SELECT COUNT(*) FROM analysis_jobs WHERE queue = $1`
	args := []any{queue}
	if len(statuses) > 0 {
		args = append(args, statuses)
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if !since.IsZero() {
		args = append(args, since)
		q += fmt.Sprintf(" AND updated_at >= $%d", len(args))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs for %s: %w", queue, err)
	}
	return n, nil
}

// OldestPendingAge reports how long the oldest waiting analysis on the queue
// has been sitting. An empty queue reports zero.
func (s *Store) OldestPendingAge(ctx context.Context, queue string) (time.Duration, error) {
	var seconds pgtype.Float8
	err := s.pool.QueryRow(ctx, `
		SELECT EXTRACT(EPOCH FROM (NOW() - MIN(created_at)))::double precision
		FROM analysis_jobs
		WHERE queue = $1 AND status = ANY($2)
	`, queue, []string{models.StatusQueued, models.StatusLeased}).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("oldest pending for %s: %w", queue, err)
	}
	if !seconds.Valid || seconds.Float64 < 0 {
		return 0, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), nil
}

// AvgProcessingSeconds averages recorded processing times on the queue, in
// seconds. Queues with no completed work report zero.
func (s *Store) AvgProcessingSeconds(ctx context.Context, queue string) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(processing_ms) / 1000.0, 0)::double precision
		FROM analysis_jobs
		WHERE queue = $1 AND processing_ms IS NOT NULL
	`, queue).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg processing for %s: %w", queue, err)
	}
	return avg, nil
}

// ProcessingPercentiles computes p50/p95/p99 processing time in seconds for
// completed analyses on the queue, optionally restricted to rows updated
// since the given instant.
func (s *Store) ProcessingPercentiles(ctx context.Context, queue string, since time.Time) (float64, float64, float64, error) {
	q := `
		SELECT
			COALESCE(percentile_cont(0.50) WITHIN GROUP (ORDER BY processing_ms), 0) / 1000.0,
			COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY processing_ms), 0) / 1000.0,
			COALESCE(percentile_cont(0.99) WITHIN GROUP (ORDER BY processing_ms), 0) / 1000.0
		FROM analysis_jobs
		WHERE queue = $1 AND processing_ms IS NOT NULL`
	args := []any{queue}
	if !since.IsZero() {
		args = append(args, since)
		q += ` AND updated_at >= $2`
	}

	var p50, p95, p99 float64
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&p50, &p95, &p99); err != nil {
		return 0, 0, 0, fmt.Errorf("processing percentiles for %s: %w", queue, err)
	}
	return p50, p95, p99, nil
}

// SimilarFileHistory returns the user's most recent completed analyses whose
// file size falls within ±20% of the incoming file. The complexity estimator
// uses the model tier those runs needed as a difficulty signal.
func (s *Store) SimilarFileHistory(ctx context.Context, userID string, fileSize int64, limit int) ([]models.FileHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	lo := int64(float64(fileSize) * 0.8)
	hi := int64(float64(fileSize) * 1.2)

	rows, err := s.pool.Query(ctx, `
		SELECT file_size, ai_tier
		FROM analysis_jobs
		WHERE user_id = $1 AND status = $2 AND ai_tier IS NOT NULL
		  AND file_size BETWEEN $3 AND $4
		ORDER BY created_at DESC
		LIMIT $5
	`, userID, models.StatusSucceeded, lo, hi, limit)
	if err != nil {
		return nil, fmt.Errorf("query file history: %w", err)
	}
	defer rows.Close()

	var out []models.FileHistory
	for rows.Next() {
		var h models.FileHistory
		if err := rows.Scan(&h.FileSize, &h.AITier); err != nil {
			return nil, fmt.Errorf("scan file history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
