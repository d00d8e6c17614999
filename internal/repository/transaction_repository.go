package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/restolabs/possync/internal/models"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// BulkInsertIgnoreDuplicates inserts transactions that are not already
// present, keyed by (tenant_id, vendor_record_id). Existing rows are left
// untouched, which is what makes re-fetching a partially imported window
// safe. Returns the number of rows actually inserted.
func (r *TransactionRepository) BulkInsertIgnoreDuplicates(ctx context.Context, txns []models.Transaction) (int64, error) {
	if len(txns) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "vendor_record_id"}},
		DoNothing: true,
	}).Create(&txns)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to bulk insert transactions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountByTenant reports how many transactions a tenant has imported.
func (r *TransactionRepository) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
