package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/restolabs/possync/internal/models"
)

func makeTxn(tenantID, vendorRecordID string) models.Transaction {
	return models.Transaction{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		VendorRecordID: vendorRecordID,
		VendorType:     models.VendorToast,
		LocationID:     "loc-1",
		OpenedAt:       time.Now().UTC(),
		TotalAmount:    10.50,
	}
}

func TestBulkInsertIgnoresDuplicates(t *testing.T) {
	repo := NewTransactionRepository(newTestDB(t))
	ctx := context.Background()

	first := []models.Transaction{
		makeTxn("tenant-1", "order-1"),
		makeTxn("tenant-1", "order-2"),
	}
	n, err := repo.BulkInsertIgnoreDuplicates(ctx, first)
	if err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted, got %d", n)
	}

	// Re-fetching a window overlaps already imported records; only the new
	// one lands.
	second := []models.Transaction{
		makeTxn("tenant-1", "order-2"),
		makeTxn("tenant-1", "order-3"),
	}
	n, err = repo.BulkInsertIgnoreDuplicates(ctx, second)
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 inserted on overlap, got %d", n)
	}

	count, err := repo.CountByTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("CountByTenant failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows total, got %d", count)
	}
}

func TestBulkInsertScopedByTenant(t *testing.T) {
	repo := NewTransactionRepository(newTestDB(t))
	ctx := context.Background()

	// The same vendor record id under two tenants is two distinct rows.
	n, err := repo.BulkInsertIgnoreDuplicates(ctx, []models.Transaction{
		makeTxn("tenant-a", "order-1"),
		makeTxn("tenant-b", "order-1"),
	})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 inserted across tenants, got %d", n)
	}
}

func TestBulkInsertEmptyBatch(t *testing.T) {
	repo := NewTransactionRepository(newTestDB(t))

	n, err := repo.BulkInsertIgnoreDuplicates(context.Background(), nil)
	if err != nil {
		t.Fatalf("empty insert failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 inserted, got %d", n)
	}
}
