package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/toast"
	"github.com/restolabs/possync/internal/vault"
)

var (
	// ErrInvalidSignature means the delivery failed HMAC verification and
	// must be rejected before any payload parsing.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNoWebhookSecret means the tenant has no webhook secret on file.
	ErrNoWebhookSecret = errors.New("tenant has no webhook secret configured")
)

// WebhookResult summarizes one verified delivery.
type WebhookResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// WebhookProcessor is the alternate ingestion path: vendor-pushed orders
// enter through the same idempotent importer as batch sync, so a record
// delivered by webhook and later re-fetched by backfill is stored once.
type WebhookProcessor struct {
	creds    CredentialSource
	importer *Importer
	key      []byte
}

func NewWebhookProcessor(creds CredentialSource, importer *Importer, key []byte) *WebhookProcessor {
	return &WebhookProcessor{creds: creds, importer: importer, key: key}
}

// HandleDelivery verifies the vendor signature against the tenant's
// webhook secret, then normalizes and imports the payload. Verification
// failures reject the whole delivery; per-record normalization failures
// are counted and skipped.
func (w *WebhookProcessor) HandleDelivery(ctx context.Context, tenantID, signature string, payload []byte) (WebhookResult, error) {
	cred, err := w.creds.GetByTenant(ctx, tenantID, models.VendorToast)
	if err != nil {
		return WebhookResult{}, err
	}
	if cred.EncryptedWebhookSecret == nil {
		return WebhookResult{}, ErrNoWebhookSecret
	}

	secret, err := vault.Decrypt(*cred.EncryptedWebhookSecret, w.key)
	if err != nil {
		return WebhookResult{}, err
	}
	if !vault.VerifySignature(payload, signature, secret) {
		return WebhookResult{}, ErrInvalidSignature
	}

	var raws []toast.RawOrder
	if err := json.Unmarshal(payload, &raws); err != nil {
		return WebhookResult{}, fmt.Errorf("malformed webhook payload: %w", err)
	}

	var result WebhookResult
	txns := make([]models.Transaction, 0, len(raws))
	for _, raw := range raws {
		txn, err := toast.Normalize(raw, tenantID, cred.LocationID)
		if err != nil {
			result.Failed++
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("skipping malformed webhook order")
			continue
		}
		txns = append(txns, txn)
	}

	imported, err := w.importer.ImportBatch(ctx, tenantID, txns)
	if err != nil {
		return result, err
	}
	result.Inserted = imported.Inserted
	result.Skipped = imported.Skipped

	log.Info().
		Str("tenant_id", tenantID).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("processed webhook delivery")
	return result, nil
}
