package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/restolabs/possync/internal/models"
)

var (
	ErrJobNotFound    = errors.New("sync job not found")
	ErrNoPendingJobs  = errors.New("no pending sync jobs")
	ErrNotCancellable = errors.New("job is not pending")

	// ErrLeaseLost means another actor (the stale sweeper) took the job
	// back while this worker held it. The worker must stop mutating it.
	ErrLeaseLost = errors.New("job lease lost")
)

const DefaultMaxAttempts = 3

// SyncJobRepository is the durable, shared-store-backed job queue. The
// conditional UPDATE in ClaimNext is the single atomic operation the whole
// pipeline's claim exclusivity rests on.
type SyncJobRepository struct {
	db       *gorm.DB
	leaseTTL time.Duration
}

func NewSyncJobRepository(db *gorm.DB, leaseTTL time.Duration) *SyncJobRepository {
	return &SyncJobRepository{db: db, leaseTTL: leaseTTL}
}

// Enqueue persists a new pending job. Submitting an id that already exists
// returns the existing job unchanged, making re-submission idempotent.
func (r *SyncJobRepository) Enqueue(ctx context.Context, job models.SyncJob) (*models.SyncJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	job.Status = models.JobStatusPending
	job.Attempts = 0
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	if existing, err := r.GetByID(ctx, job.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrJobNotFound) {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetByID(ctx, job.ID)
		}
		return nil, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return &job, nil
}

// ClaimNext leases the oldest pending job for this worker: flip to
// processing, bump attempts, stamp the lease — all in one conditional
// update so two workers can never claim the same job. Returns
// ErrNoPendingJobs when the queue is empty or the race was lost.
func (r *SyncJobRepository) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusPending).
		Order("created_at ASC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPendingJobs
		}
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}

	now := time.Now()
	lease := now.Add(r.leaseTTL)
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":           models.JobStatusProcessing,
			"attempts":         gorm.Expr("attempts + 1"),
			"started_at":       gorm.Expr("COALESCE(started_at, ?)", now),
			"lease_expires_at": lease,
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Another worker won the claim between the select and the update.
		return nil, ErrNoPendingJobs
	}

	return r.GetByID(ctx, job.ID)
}

// UpdateProgress overwrites the job's progress snapshot and extends the
// lease. Only valid while the job is processing; if the sweeper has
// reclaimed it the caller gets ErrLeaseLost and must abandon the job.
func (r *SyncJobRepository) UpdateProgress(ctx context.Context, jobID string, progress models.SyncProgress) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"progress":         progress,
			"lease_expires_at": now.Add(r.leaseTTL),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update job progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Complete finalizes a job with its result summary.
func (r *SyncJobRepository) Complete(ctx context.Context, jobID string, result models.SyncResult) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(map[string]interface{}{
			"status":           models.JobStatusCompleted,
			"result":           result,
			"last_error":       nil,
			"error_code":       nil,
			"error_at":         nil,
			"lease_expires_at": nil,
			"completed_at":     now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Requeue returns a job to the pending pool after a retryable failure. The
// error stays visible on the record between retries.
func (r *SyncJobRepository) Requeue(ctx context.Context, jobID, errMsg, errCode string) error {
	return r.release(ctx, jobID, models.JobStatusPending, errMsg, errCode, false)
}

// Fail marks a job terminally failed (attempts exhausted or a
// non-retryable error).
func (r *SyncJobRepository) Fail(ctx context.Context, jobID, errMsg, errCode string) error {
	return r.release(ctx, jobID, models.JobStatusFailed, errMsg, errCode, true)
}

func (r *SyncJobRepository) release(ctx context.Context, jobID string, to models.SyncJobStatus, errMsg, errCode string, terminal bool) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":           to,
		"last_error":       errMsg,
		"error_code":       errCode,
		"error_at":         now,
		"lease_expires_at": nil,
		"updated_at":       now,
	}
	if terminal {
		updates["completed_at"] = now
	}

	res := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to release job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Cancel marks a pending job failed with a cancelled reason. Processing
// jobs cannot be cancelled mid-flight.
func (r *SyncJobRepository) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ?", jobID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"last_error":   "cancelled by caller",
			"error_code":   models.ErrCodeCancelled,
			"error_at":     now,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel job: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, jobID); err != nil {
			return err
		}
		return ErrNotCancellable
	}
	return nil
}

// RequeueStale returns processing jobs with an expired lease to the pending
// pool. This is the crash-recovery path for workers that died mid-job; the
// importer's idempotency makes the re-run safe.
func (r *SyncJobRepository) RequeueStale(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("status = ? AND lease_expires_at < ?", models.JobStatusProcessing, now).
		Updates(map[string]interface{}{
			"status":           models.JobStatusPending,
			"last_error":       "lease expired, worker presumed dead",
			"error_at":         now,
			"lease_expires_at": nil,
			"updated_at":       now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteTerminalBefore garbage-collects completed and failed jobs older
// than the retention cutoff.
func (r *SyncJobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []models.SyncJobStatus{models.JobStatusCompleted, models.JobStatusFailed}, cutoff).
		Delete(&models.SyncJob{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetByID retrieves a job snapshot for status queries.
func (r *SyncJobRepository) GetByID(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	err := r.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}
