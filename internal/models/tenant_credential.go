package models

import "time"

// TenantCredential holds one tenant's vendor API credentials. The client
// secret and webhook secret are stored only as AES-GCM envelopes; client id
// and location id are not sensitive and stay in clear.
type TenantCredential struct {
	ID                     string    `gorm:"column:id;primaryKey"`
	TenantID               string    `gorm:"column:tenant_id;uniqueIndex:idx_tenant_credential_tenant_vendor"`
	VendorType             string    `gorm:"column:vendor_type;uniqueIndex:idx_tenant_credential_tenant_vendor"`
	ClientID               string    `gorm:"column:client_id"`
	EncryptedSecret        string    `gorm:"column:encrypted_secret"`
	LocationID             string    `gorm:"column:location_id"`
	EncryptedWebhookSecret *string   `gorm:"column:encrypted_webhook_secret"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (TenantCredential) TableName() string {
	return "tenant_credential"
}
