package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PaymentStatusNone        = "none"
	PaymentStatusActive      = "active"
	PaymentStatusGracePeriod = "grace_period"
	PaymentStatusExpired     = "expired"
)

type User struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	UUID  string `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid" validate:"required,uuid4"`
	Name  string `gorm:"type:varchar(150)" json:"name" validate:"required,min=2,max=150"`
	Email string `gorm:"uniqueIndex;type:varchar(200) CHARACTER SET utf8 COLLATE utf8_bin" json:"email" validate:"required,email,min=5,max=200"`
	Phone string `gorm:"type:varchar(30);default:null" json:"phone"`

	PlanID *uint `gorm:"index" json:"plan_id"`
	Plan   *Plan `gorm:"foreignKey:PlanID" json:"-"`

	PaymentStatus     string     `gorm:"type:varchar(20);not null;default:'none';index" json:"payment_status" validate:"oneof=none active grace_period expired"`
	SubscriptionStart *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end,omitempty"`
	GracePeriodStart  *time.Time `gorm:"type:timestamp;default:null" json:"grace_period_start,omitempty"`
	GracePeriodEnd    *time.Time `gorm:"type:timestamp;default:null;index" json:"grace_period_end,omitempty"`
	GraceReason       string     `gorm:"type:varchar(100)" json:"-"`

	ProcessorSubscriptionRef string `gorm:"type:varchar(191);default:''" json:"-"`
	LastPaymentMethod        string `gorm:"type:varchar(50)" json:"-"`
	LastCardFingerprint      string `gorm:"type:varchar(100)" json:"-"`

	// Daily checkout quota bookkeeping, reset at the local-day boundary.
	CheckoutCount     int        `gorm:"not null;default:0" json:"-"`
	CheckoutCountDate *time.Time `gorm:"type:timestamp;default:null" json:"-"`
	PendingProcessID  *int64     `gorm:"default:null" json:"-"`

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewUser builds a user with a fresh public UUID. Callers persist it themselves.
func NewUser(name, email string) (*User, error) {
	u := &User{
		UUID:          uuid.New().String(),
		Name:          name,
		Email:         email,
		PaymentStatus: PaymentStatusNone,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// HasValidSubscription reports whether the user currently holds a paid
// subscription period that has not yet ended.
func (u *User) HasValidSubscription(now time.Time) bool {
	if u.PaymentStatus != PaymentStatusActive && u.PaymentStatus != PaymentStatusGracePeriod {
		return false
	}
	return u.SubscriptionEnd != nil && u.SubscriptionEnd.After(now)
}

// RemainingSubscriptionDays returns the whole days left on the current
// subscription period, floored at zero.
func (u *User) RemainingSubscriptionDays(now time.Time) int {
	if u.SubscriptionEnd == nil || !u.SubscriptionEnd.After(now) {
		return 0
	}
	return int(u.SubscriptionEnd.Sub(now).Hours() / 24)
}

// CheckoutsToday returns the daily counter, treating a counter from an
// earlier local day as already reset.
func (u *User) CheckoutsToday(now time.Time) int {
	if u.CheckoutCountDate == nil {
		return 0
	}
	y1, m1, d1 := u.CheckoutCountDate.In(time.Local).Date()
	y2, m2, d2 := now.In(time.Local).Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		return 0
	}
	return u.CheckoutCount
}
