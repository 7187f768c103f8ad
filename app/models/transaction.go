package models

import "time"

const (
	TransactionStatusCompleted     = "completed"
	TransactionStatusPendingReview = "pending_review"
)

// Transaction is the append-only record of a processor payment notification.
// Rows are never mutated after creation; manual-review resolution happens in
// out-of-scope admin tooling.
type Transaction struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"not null;index" json:"user_id"`
	User          User   `gorm:"foreignKey:UserID" json:"-"`
	TransactionID string `gorm:"type:varchar(191);uniqueIndex;not null" json:"transaction_id"`
	ProcessID     int64  `gorm:"not null;index" json:"process_id"`
	Amount        int64  `gorm:"not null" json:"amount"`
	PaymentMethod string `gorm:"type:varchar(50)" json:"payment_method"`
	CardSuffix    string `gorm:"type:varchar(10)" json:"-"`
	CardBrand     string `gorm:"type:varchar(30)" json:"-"`

	Status     string    `gorm:"type:varchar(20);not null;default:'completed';index" json:"status"`
	RawPayload string    `gorm:"type:longtext" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
