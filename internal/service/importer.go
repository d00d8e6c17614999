package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/models"
)

// ImportBatchSize bounds memory and statement size for one bulk insert.
const ImportBatchSize = 1000

// ErrStoreUnavailable marks a systemic import failure. It aborts the
// current job attempt and routes to the retry policy.
var ErrStoreUnavailable = errors.New("import store unavailable")

// TransactionStore is the importer's only contract with the transaction
// schema: insert-if-absent keyed by (tenant_id, vendor_record_id).
type TransactionStore interface {
	BulkInsertIgnoreDuplicates(ctx context.Context, txns []models.Transaction) (int64, error)
}

type ImportResult struct {
	Inserted int
	Skipped  int
}

// Importer persists normalized transactions idempotently: importing the
// same batch twice inserts nothing the second time, which is what makes
// job retries and webhook re-deliveries safe.
type Importer struct {
	store     TransactionStore
	batchSize int
}

func NewImporter(store TransactionStore) *Importer {
	return &Importer{store: store, batchSize: ImportBatchSize}
}

// ImportBatch upserts txns in bounded chunks. Duplicates are skipped, never
// overwritten. A store error is systemic and propagates so the job retry
// policy can take over.
func (im *Importer) ImportBatch(ctx context.Context, tenantID string, txns []models.Transaction) (ImportResult, error) {
	var result ImportResult

	for start := 0; start < len(txns); start += im.batchSize {
		end := start + im.batchSize
		if end > len(txns) {
			end = len(txns)
		}
		chunk := txns[start:end]

		inserted, err := im.store.BulkInsertIgnoreDuplicates(ctx, chunk)
		if err != nil {
			return result, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		result.Inserted += int(inserted)
		result.Skipped += len(chunk) - int(inserted)
	}

	if result.Skipped > 0 {
		log.Debug().
			Str("tenant_id", tenantID).
			Int("inserted", result.Inserted).
			Int("skipped", result.Skipped).
			Msg("skipped already-imported transactions")
	}
	return result, nil
}
