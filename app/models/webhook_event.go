package models

import "time"

const (
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusCompleted  = "completed"
	WebhookEventStatusFailed     = "failed"
)

// WebhookEvent is the idempotency ledger for inbound processor notifications.
// The unique index on IdempotencyKey is the only concurrency gate the engine
// relies on: whichever request inserts the row first owns the event. Rows are
// never deleted.
type WebhookEvent struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	IdempotencyKey       string     `gorm:"type:varchar(191);uniqueIndex:ux_webhook_events_idempotency_key;not null" json:"idempotency_key"`
	Source               string     `gorm:"type:varchar(50);not null;index" json:"source"`
	Status               string     `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	RequiresManualReview bool       `gorm:"not null;default:false" json:"requires_manual_review"`
	Result               string     `gorm:"type:longtext" json:"result"`
	ReceivedAt           time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt          *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether processing for this key already finished.
func (e *WebhookEvent) IsTerminal() bool {
	return e.Status == WebhookEventStatusCompleted || e.Status == WebhookEventStatusFailed
}
