package models

import "time"

const (
	CheckoutStatusPending    = "pending"
	CheckoutStatusCompleted  = "completed"
	CheckoutStatusSuperseded = "superseded"
	CheckoutStatusAbandoned  = "abandoned"
)

// CheckoutSession correlates an outbound payment process with the user and
// plan it was created for. At most one session per user is pending at a time.
type CheckoutSession struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"not null;index:idx_checkout_sessions_user_status,priority:1" json:"user_id"`
	User          User   `gorm:"foreignKey:UserID" json:"-"`
	PlanCode      string `gorm:"type:varchar(50);not null" json:"plan_code"`
	PlanSnapshot  string `gorm:"type:longtext" json:"plan_snapshot"`
	BillingPeriod string `gorm:"type:varchar(10);not null" json:"billing_period"`
	Amount        int64  `gorm:"not null" json:"amount"`
	Installments  int    `gorm:"not null;default:1" json:"installments"`
	CreditDays    int    `gorm:"not null;default:0" json:"credit_days"`

	ProcessID    int64  `gorm:"not null;index" json:"process_id"`
	ProcessToken string `gorm:"type:varchar(191);not null" json:"-"`

	Status      string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_checkout_sessions_user_status,priority:2;index" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt   time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	CompletedAt *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the session's fixed TTL has elapsed.
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
