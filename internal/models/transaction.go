package models

import "time"

// Transaction is one normalized point-of-sale order. Uniquely identified
// within a tenant by (tenant_id, vendor_record_id); the importer never
// inserts a second row for the same pair and never overwrites an existing
// row's vendor id mapping.
type Transaction struct {
	ID             string     `gorm:"column:id;primaryKey"`
	TenantID       string     `gorm:"column:tenant_id;uniqueIndex:idx_transaction_tenant_vendor_record"`
	VendorRecordID string     `gorm:"column:vendor_record_id;uniqueIndex:idx_transaction_tenant_vendor_record"`
	VendorType     string     `gorm:"column:vendor_type"`
	LocationID     string     `gorm:"column:location_id"`
	OpenedAt       time.Time  `gorm:"column:opened_at;index"`
	ClosedAt       *time.Time `gorm:"column:closed_at"`
	BusinessDate   *time.Time `gorm:"column:business_date"`
	TotalAmount    float64    `gorm:"column:total_amount"`
	TaxAmount      float64    `gorm:"column:tax_amount"`
	TipAmount      float64    `gorm:"column:tip_amount"`
	DiscountAmount float64    `gorm:"column:discount_amount"`
	GuestCount     int        `gorm:"column:guest_count"`
	DiningOption   *string    `gorm:"column:dining_option"`
	Source         *string    `gorm:"column:source"`
	Voided         bool       `gorm:"column:voided"`
	Metadata       JSONB      `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transaction"
}
