package models

import "time"

const (
	AlertSeverityWarning = "warning"
	AlertSeverityHigh    = "high"
)

const (
	AlertStatusOpen     = "open"
	AlertStatusResolved = "resolved"
)

const (
	AlertTypeMissingUserID    = "webhook_missing_user_id"
	AlertTypeAmountMismatch   = "webhook_amount_mismatch"
	AlertTypeDoublePayment    = "double_payment_suspected"
	AlertTypeUnknownStatus    = "webhook_unknown_status"
	AlertTypeAckFailed        = "transaction_ack_failed"
	AlertTypeSignatureInvalid = "webhook_signature_invalid"
)

// AdminAlert is write-only for the engine; operators resolve alerts through
// separate tooling.
type AdminAlert struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"type:varchar(50);not null;index" json:"type"`
	UserID    *uint     `gorm:"index" json:"user_id,omitempty"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Metadata  string    `gorm:"type:longtext" json:"metadata"`
	Severity  string    `gorm:"type:varchar(20);not null;default:'info';index" json:"severity"`
	Status    string    `gorm:"type:varchar(20);not null;default:'open';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
