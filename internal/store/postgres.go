package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"excel-analysis-scheduler/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects the admission outcome to persist for a new
// analysis.
type CreateJobParams struct {
	FileName          string
	FileKey           string
	FileSize          int64
	UserID            string
	UserTier          models.UserTier
	RequestedPriority models.RequestedPriority
	Queue             string
	Priority          int
	Complexity        float64
	DelaySeconds      int
	Estimate          string
	IdempotencyKey    string
	RunAt             time.Time
	MaxAttempts       int
	IdempotencyTTL    time.Duration
}

// CreateJob inserts an analysis row, honoring idempotency if provided. It
// returns the job and a boolean indicating whether an existing job was reused
// via the idempotency key.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.AnalysisJob, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}

	// If an idempotency key already exists, short-circuit before creating
	// anything.
	if p.IdempotencyKey != "" {
		if existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
			return models.AnalysisJob{}, false, err
		} else if found {
			return existing, true, nil
		}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO analysis_jobs (
			id, file_name, file_key, file_size, user_id, user_tier, requested_priority,
			queue, priority, complexity, delay_seconds, estimate,
			status, attempts, max_attempts, next_run_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 0, $14, $15, $16, $16)
	`, id, p.FileName, p.FileKey, p.FileSize, p.UserID, string(p.UserTier), string(p.RequestedPriority),
		p.Queue, p.Priority, p.Complexity, p.DelaySeconds, p.Estimate,
		models.StatusQueued, p.MaxAttempts, p.RunAt, now)
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("insert analysis job: %w", err)
	}

	if p.IdempotencyKey != "" {
		expires := now.Add(p.IdempotencyTTL)
		tag, err := tx.Exec(ctx, `
			INSERT INTO idempotency_keys (key, job_id, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING
		`, p.IdempotencyKey, id, expires)
		if err != nil {
			return models.AnalysisJob{}, false, fmt.Errorf("insert idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Someone else claimed the key after our initial check; return
			// the existing job.
			if err := tx.Rollback(ctx); err != nil {
				return models.AnalysisJob{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
			}
			existing, found, err := s.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if err != nil {
				return models.AnalysisJob{}, false, err
			}
			if !found {
				return models.AnalysisJob{}, false, errors.New("idempotency conflict but no existing job found")
			}
			return existing, true, nil
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.AnalysisJob{
		ID:                id,
		FileName:          p.FileName,
		FileKey:           p.FileKey,
		FileSize:          p.FileSize,
		UserID:            p.UserID,
		UserTier:          p.UserTier,
		RequestedPriority: p.RequestedPriority,
		Queue:             p.Queue,
		Priority:          p.Priority,
		Complexity:        p.Complexity,
		DelaySeconds:      p.DelaySeconds,
		Estimate:          p.Estimate,
		Status:            models.StatusQueued,
		Attempts:          0,
		MaxAttempts:       p.MaxAttempts,
		NextRunAt:         p.RunAt,
		IdempotencyKey:    emptyToNil(p.IdempotencyKey),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, false, nil
}

// FindByIdempotencyKey returns the job mapped to the key if present and
// unexpired.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (models.AnalysisJob, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisJob{}, false, nil
	}
	if err != nil {
		return models.AnalysisJob{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return models.AnalysisJob{}, false, err
	}
	return job, true, nil
}

// GetJob fetches an analysis by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.AnalysisJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, file_name, file_key, file_size, user_id, user_tier, requested_priority,
		       queue, priority, complexity, delay_seconds, estimate, ai_tier, processing_ms,
		       status, attempts, max_attempts, next_run_at, last_error, idempotency_key,
		       created_at, updated_at
		FROM analysis_jobs WHERE id = $1
	`, id)

	var job models.AnalysisJob
	var userTier, requestedPriority string
	var aiTier pgtype.Int4
	var processingMS pgtype.Int8
	var lastErr pgtype.Text
	var idem pgtype.Text

	if err := row.Scan(
		&job.ID, &job.FileName, &job.FileKey, &job.FileSize, &job.UserID, &userTier, &requestedPriority,
		&job.Queue, &job.Priority, &job.Complexity, &job.DelaySeconds, &job.Estimate, &aiTier, &processingMS,
		&job.Status, &job.Attempts, &job.MaxAttempts, &job.NextRunAt, &lastErr, &idem,
		&job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AnalysisJob{}, fmt.Errorf("analysis not found: %w", err)
		}
		return models.AnalysisJob{}, fmt.Errorf("scan analysis job: %w", err)
	}

	job.UserTier = models.UserTier(userTier)
	job.RequestedPriority = models.RequestedPriority(requestedPriority)
	if aiTier.Valid {
		job.AITier = int(aiTier.Int32)
	}
	if processingMS.Valid {
		job.ProcessingMS = processingMS.Int64
	}
	job.LastError = textPtr(lastErr)
	job.IdempotencyKey = textPtr(idem)
	return job, nil
}

// UpdateJobStatus sets status, attempts, next_run_at and last_error
// atomically.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status string, attempts int, nextRun time.Time, lastError *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1
	`, id, status, attempts, nextRun, lastError)
	return err
}

// MarkSuccess transitions an analysis to succeeded, recording which model
// tier handled it and how long the run took.
func (s *Store) MarkSuccess(ctx context.Context, id string, aiTier int, processingMS int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, ai_tier = $3, processing_ms = $4, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusSucceeded, aiTier, processingMS)
	return err
}

// MarkCancelled sets status cancelled and clears any last error.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, updated_at = NOW(), last_error = NULL WHERE id = $1
	`, id, models.StatusCancelled)
	return err
}

// MarkDeadLetter flags an analysis as dead_lettered.
func (s *Store) MarkDeadLetter(ctx context.Context, id string, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusDeadLetter, lastError)
	return err
}

// UpdateAttempts re-queues an analysis after a failure, bumping attempts and
// the next run time.
func (s *Store) UpdateAttempts(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE analysis_jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusQueued, attempts, nextRun, lastErr)
	return err
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
