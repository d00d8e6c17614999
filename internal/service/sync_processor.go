package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/planner"
	"github.com/restolabs/possync/internal/toast"
	"github.com/restolabs/possync/internal/vault"
)

// Pipeline tunables. Inter-window delay is distinct from the client's
// intra-window pagination delay because one window may issue many page
// requests.
const (
	DefaultMaxWindow        = 30 * 24 * time.Hour
	DefaultInterWindowDelay = 5 * time.Second
	DefaultBackfill         = 90 * 24 * time.Hour
)

// VendorClient is the slice of the vendor API the processor drives. The
// concrete implementation lives in the toast package.
type VendorClient interface {
	Authenticate(ctx context.Context, creds toast.Credentials) (string, error)
	FetchWindow(ctx context.Context, token, locationID string, start, end time.Time) ([]toast.RawOrder, error)
}

// CredentialSource resolves stored (still encrypted) tenant credentials.
type CredentialSource interface {
	GetByTenant(ctx context.Context, tenantID, vendorType string) (*models.TenantCredential, error)
}

// ProgressWriter is the narrow slice of the job queue the processor may
// touch: it reports progress for the job it holds the lease on, nothing
// else. Finalization stays with the worker loop.
type ProgressWriter interface {
	UpdateProgress(ctx context.Context, jobID string, progress models.SyncProgress) error
}

// SyncProcessor drives one sync job: plan windows, then per window fetch,
// normalize, import, report. Windows run strictly in planned order so
// progress stays monotonic.
type SyncProcessor struct {
	creds    CredentialSource
	vendor   VendorClient
	importer *Importer
	queue    ProgressWriter
	key      []byte

	maxWindow        time.Duration
	interWindowDelay time.Duration
	defaultBackfill  time.Duration
}

func NewSyncProcessor(creds CredentialSource, vendor VendorClient, importer *Importer, queue ProgressWriter, key []byte) *SyncProcessor {
	return &SyncProcessor{
		creds:            creds,
		vendor:           vendor,
		importer:         importer,
		queue:            queue,
		key:              key,
		maxWindow:        DefaultMaxWindow,
		interWindowDelay: DefaultInterWindowDelay,
		defaultBackfill:  DefaultBackfill,
	}
}

// SetTiming overrides window sizing and pacing (tests use millisecond
// delays).
func (p *SyncProcessor) SetTiming(maxWindow, interWindowDelay time.Duration) {
	p.maxWindow = maxWindow
	p.interWindowDelay = interWindowDelay
}

// Process runs one leased job to completion and returns its result
// summary. Any error aborts the remaining windows for this attempt; the
// caller decides retry vs. terminal failure.
func (p *SyncProcessor) Process(ctx context.Context, job *models.SyncJob) (models.SyncResult, error) {
	startedAt := time.Now()

	rangeStart, rangeEnd := p.resolveRange(job)

	cred, err := p.creds.GetByTenant(ctx, job.TenantID, job.VendorType)
	if err != nil {
		return models.SyncResult{}, err
	}

	// Decrypted only transiently, for the duration of this attempt.
	secret, err := vault.Decrypt(cred.EncryptedSecret, p.key)
	if err != nil {
		return models.SyncResult{}, err
	}
	vendorCreds := toast.Credentials{
		ClientID:     cred.ClientID,
		ClientSecret: secret,
		LocationID:   cred.LocationID,
	}

	windows := planner.Plan(rangeStart, rangeEnd, p.maxWindow)
	progress := models.SyncProgress{WindowsTotal: len(windows)}
	if err := p.queue.UpdateProgress(ctx, job.ID, progress); err != nil {
		return models.SyncResult{}, err
	}

	log.Info().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Int("windows", len(windows)).
		Time("range_start", rangeStart).
		Time("range_end", rangeEnd).
		Msg("starting sync")

	for i, window := range windows {
		if i > 0 {
			select {
			case <-ctx.Done():
				return models.SyncResult{}, ctx.Err()
			case <-time.After(p.interWindowDelay):
			}
		}

		imported, skipped, failed, err := p.processWindow(ctx, job, vendorCreds, window)
		if err != nil {
			return models.SyncResult{}, fmt.Errorf("window %s..%s: %w",
				window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly), err)
		}

		ws, we := window.Start, window.End
		progress.WindowsDone = i + 1
		progress.CurrentWindowStart = &ws
		progress.CurrentWindowEnd = &we
		progress.RecordsImported += imported
		progress.RecordsSkipped += skipped
		progress.RecordsFailed += failed
		if err := p.queue.UpdateProgress(ctx, job.ID, progress); err != nil {
			return models.SyncResult{}, err
		}
	}

	return models.SyncResult{
		RecordsImported:  progress.RecordsImported,
		RecordsSkipped:   progress.RecordsSkipped,
		RecordsFailed:    progress.RecordsFailed,
		WindowsProcessed: len(windows),
		DurationMs:       time.Since(startedAt).Milliseconds(),
		RangeStart:       rangeStart,
		RangeEnd:         rangeEnd,
	}, nil
}

// processWindow re-authenticates (tokens are short-lived), fetches one
// window with internal pagination, normalizes, and imports. Records that
// fail normalization are skipped and counted, not fatal.
func (p *SyncProcessor) processWindow(ctx context.Context, job *models.SyncJob, creds toast.Credentials, window planner.Window) (imported, skipped, failed int, err error) {
	token, err := p.vendor.Authenticate(ctx, creds)
	if err != nil {
		return 0, 0, 0, err
	}

	raws, err := p.vendor.FetchWindow(ctx, token, creds.LocationID, window.Start, window.End)
	if err != nil {
		return 0, 0, 0, err
	}

	txns := make([]models.Transaction, 0, len(raws))
	for _, raw := range raws {
		txn, err := toast.Normalize(raw, job.TenantID, creds.LocationID)
		if err != nil {
			if errors.Is(err, toast.ErrMalformedOrder) {
				failed++
				log.Warn().Err(err).Str("job_id", job.ID).Msg("skipping malformed vendor order")
				continue
			}
			return 0, 0, failed, err
		}
		txns = append(txns, txn)
	}

	result, err := p.importer.ImportBatch(ctx, job.TenantID, txns)
	if err != nil {
		return 0, 0, failed, err
	}
	return result.Inserted, result.Skipped, failed, nil
}

// resolveRange applies the default backfill range when the caller gave
// none: the trailing defaultBackfill up to enqueue time.
func (p *SyncProcessor) resolveRange(job *models.SyncJob) (time.Time, time.Time) {
	end := job.CreatedAt
	if end.IsZero() {
		end = time.Now()
	}
	start := end.Add(-p.defaultBackfill)

	if job.RangeStart != nil {
		start = *job.RangeStart
	}
	if job.RangeEnd != nil {
		end = *job.RangeEnd
	}
	return start, end
}
