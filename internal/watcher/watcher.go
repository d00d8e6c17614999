// Package watcher runs the worker loop: lease one job at a time from the
// shared queue, process it synchronously, finalize it. Multiple worker
// processes may run against the same queue; exclusivity comes entirely
// from the queue's atomic claim.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/service"
)

// JobQueue is the narrow queue interface the worker drives. Injecting it
// (rather than importing a concrete store) keeps the worker testable with
// a fake queue.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*models.SyncJob, error)
	Complete(ctx context.Context, jobID string, result models.SyncResult) error
	Requeue(ctx context.Context, jobID, errMsg, errCode string) error
	Fail(ctx context.Context, jobID, errMsg, errCode string) error
	RequeueStale(ctx context.Context, now time.Time) (int64, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Processor runs one leased job to completion.
type Processor interface {
	Process(ctx context.Context, job *models.SyncJob) (models.SyncResult, error)
}

type Watcher struct {
	queue     JobQueue
	processor Processor

	pollInterval time.Duration
	retention    time.Duration
	gcInterval   time.Duration
	lastGC       time.Time
}

func New(queue JobQueue, processor Processor, pollInterval, retention time.Duration) *Watcher {
	return &Watcher{
		queue:        queue,
		processor:    processor,
		pollInterval: pollInterval,
		retention:    retention,
		gcInterval:   time.Hour,
	}
}

// Start begins polling for sync jobs until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info().Dur("poll_interval", w.pollInterval).Msg("starting sync job watcher")

	// Catch up on work left over from previous runs
	w.tick(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("watcher shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick recovers stale leases, garbage-collects old terminal jobs, and
// drains the pending pool one job at a time.
func (w *Watcher) tick(ctx context.Context) {
	if n, err := w.queue.RequeueStale(ctx, time.Now()); err != nil {
		log.Error().Err(err).Msg("failed to requeue stale jobs")
	} else if n > 0 {
		log.Warn().Int64("requeued", n).Msg("requeued jobs with expired leases")
	}

	if time.Since(w.lastGC) >= w.gcInterval {
		w.lastGC = time.Now()
		cutoff := time.Now().Add(-w.retention)
		if n, err := w.queue.DeleteTerminalBefore(ctx, cutoff); err != nil {
			log.Error().Err(err).Msg("failed to garbage-collect terminal jobs")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("garbage-collected terminal jobs")
		}
	}

	for ctx.Err() == nil {
		job, err := w.queue.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, repository.ErrNoPendingJobs) {
				log.Error().Err(err).Msg("failed to claim job")
			}
			return
		}
		w.processJob(ctx, job)
	}
}

// processJob runs one claimed job and finalizes it: completed on success,
// back to pending while attempts remain on a retryable error, failed
// terminally otherwise.
func (w *Watcher) processJob(ctx context.Context, job *models.SyncJob) {
	log.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Msg("processing sync job")

	result, err := w.processor.Process(ctx, job)
	if err == nil {
		if err := w.queue.Complete(ctx, job.ID, result); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("failed to finalize completed job")
			return
		}
		log.Info().
			Str("job_id", job.ID).
			Int("imported", result.RecordsImported).
			Int("skipped", result.RecordsSkipped).
			Int("failed", result.RecordsFailed).
			Int64("duration_ms", result.DurationMs).
			Msg("sync job completed")
		return
	}

	if errors.Is(err, repository.ErrLeaseLost) {
		// The sweeper reclaimed this job; another worker owns it now.
		log.Warn().Str("job_id", job.ID).Msg("job lease lost mid-processing, abandoning")
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-job: leave it processing, the lease sweeper will
		// hand it to the next worker.
		log.Warn().Str("job_id", job.ID).Msg("shutdown during job, leaving for lease recovery")
		return
	}

	retryable := service.Retryable(err)
	if retryable && job.Attempts < job.MaxAttempts {
		log.Warn().Err(err).
			Str("job_id", job.ID).
			Int("attempt", job.Attempts).
			Msg("sync job failed, requeueing for retry")
		if qErr := w.queue.Requeue(ctx, job.ID, err.Error(), service.ErrorCode(err)); qErr != nil {
			log.Error().Err(qErr).Str("job_id", job.ID).Msg("failed to requeue job")
		}
		return
	}

	errMsg := err.Error()
	errCode := service.ErrorCode(err)
	if retryable {
		errMsg = fmt.Sprintf("failed after %d attempts: %s", job.Attempts, errMsg)
		errCode = models.ErrCodeMaxAttempts
	}
	log.Error().Err(err).
		Str("job_id", job.ID).
		Int("attempts", job.Attempts).
		Bool("retryable", retryable).
		Msg("sync job failed terminally")
	if qErr := w.queue.Fail(ctx, job.ID, errMsg, errCode); qErr != nil {
		log.Error().Err(qErr).Str("job_id", job.ID).Msg("failed to mark job failed")
	}
}
