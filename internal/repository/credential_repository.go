package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/restolabs/possync/internal/models"
)

var ErrCredentialsNotFound = errors.New("tenant credentials not found")

type CredentialRepository struct {
	db *gorm.DB
}

func NewCredentialRepository(db *gorm.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// GetByTenant retrieves one tenant's credentials for a vendor. Secrets come
// back still encrypted; decryption happens at the point of use.
func (r *CredentialRepository) GetByTenant(ctx context.Context, tenantID, vendorType string) (*models.TenantCredential, error) {
	var cred models.TenantCredential
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND vendor_type = ?", tenantID, vendorType).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return &cred, nil
}

// Upsert inserts or replaces a tenant's credentials. Callers must pass
// secrets already encrypted.
func (r *CredentialRepository) Upsert(ctx context.Context, cred models.TenantCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "vendor_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "encrypted_secret", "location_id", "encrypted_webhook_secret", "updated_at",
		}),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("failed to upsert credentials: %w", err)
	}
	return nil
}
