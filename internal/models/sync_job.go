package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type SyncJobStatus string

const (
	JobStatusPending    SyncJobStatus = "pending"    // Enqueued or eligible for retry
	JobStatusProcessing SyncJobStatus = "processing" // Claimed by exactly one worker
	JobStatusCompleted  SyncJobStatus = "completed"  // Terminal, result populated
	JobStatusFailed     SyncJobStatus = "failed"     // Terminal, error populated
)

// Vendor type constants
const (
	VendorToast = "toast"
)

// Job error codes surfaced to status queries
const (
	ErrCodeAuthFailed  = "AUTH_FAILED"
	ErrCodeDecrypt     = "DECRYPT_FAILED"
	ErrCodeVendor      = "VENDOR_ERROR"
	ErrCodeStore       = "STORE_ERROR"
	ErrCodeCancelled   = "CANCELLED"
	ErrCodeMaxAttempts = "MAX_ATTEMPTS"
)

// SyncProgress is a mutable snapshot overwritten after each window.
// Only the worker holding the job lease writes it.
type SyncProgress struct {
	WindowsTotal       int        `json:"windowsTotal"`
	WindowsDone        int        `json:"windowsDone"`
	CurrentWindowStart *time.Time `json:"currentWindowStart,omitempty"`
	CurrentWindowEnd   *time.Time `json:"currentWindowEnd,omitempty"`
	RecordsImported    int        `json:"recordsImported"`
	RecordsSkipped     int        `json:"recordsSkipped"`
	RecordsFailed      int        `json:"recordsFailed"`
}

// Value implements driver.Valuer for SyncProgress
func (p SyncProgress) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for SyncProgress
func (p *SyncProgress) Scan(value interface{}) error {
	if value == nil {
		*p = SyncProgress{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("unsupported source type for SyncProgress")
	}
}

// SyncResult summarizes a completed job. The zero value means "not set"
// and is stored as NULL.
type SyncResult struct {
	RecordsImported  int       `json:"recordsImported"`
	RecordsSkipped   int       `json:"recordsSkipped"`
	RecordsFailed    int       `json:"recordsFailed"`
	WindowsProcessed int       `json:"windowsProcessed"`
	DurationMs       int64     `json:"durationMs"`
	RangeStart       time.Time `json:"rangeStart"`
	RangeEnd         time.Time `json:"rangeEnd"`
}

// Value implements driver.Valuer for SyncResult
func (r SyncResult) Value() (driver.Value, error) {
	if r == (SyncResult{}) {
		return nil, nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for SyncResult
func (r *SyncResult) Scan(value interface{}) error {
	if value == nil {
		*r = SyncResult{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return errors.New("unsupported source type for SyncResult")
	}
}

// SyncJob is one unit of sync work. Invariants: Attempts <= MaxAttempts;
// status transitions pending -> processing -> {completed | pending | failed};
// Progress and Result are written only by the current leaseholder.
type SyncJob struct {
	ID             string        `gorm:"column:id;primaryKey" json:"jobId"`
	TenantID       string        `gorm:"column:tenant_id;index" json:"tenantId"`
	VendorType     string        `gorm:"column:vendor_type" json:"vendorType"`
	Status         SyncJobStatus `gorm:"column:status;index" json:"status"`
	RangeStart     *time.Time    `gorm:"column:range_start" json:"rangeStart,omitempty"`
	RangeEnd       *time.Time    `gorm:"column:range_end" json:"rangeEnd,omitempty"`
	Attempts       int           `gorm:"column:attempts" json:"attempts"`
	MaxAttempts    int           `gorm:"column:max_attempts" json:"maxAttempts"`
	Progress       SyncProgress  `gorm:"column:progress;type:jsonb" json:"progress"`
	Result         SyncResult    `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	LastError      *string       `gorm:"column:last_error" json:"error,omitempty"`
	ErrorCode      *string       `gorm:"column:error_code" json:"errorCode,omitempty"`
	ErrorAt        *time.Time    `gorm:"column:error_at" json:"errorAt,omitempty"`
	LeaseExpiresAt *time.Time    `gorm:"column:lease_expires_at" json:"-"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"createdAt"`
	StartedAt      *time.Time    `gorm:"column:started_at" json:"startedAt,omitempty"`
	CompletedAt    *time.Time    `gorm:"column:completed_at" json:"completedAt,omitempty"`
	UpdatedAt      time.Time     `gorm:"column:updated_at" json:"-"`
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_job"
}

// Terminal reports whether the job has reached a final state.
func (j *SyncJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
