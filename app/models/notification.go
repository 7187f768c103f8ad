package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	NotificationTypePaymentSuccess = "payment_success"
	NotificationTypePaymentFailed  = "payment_failed"
	NotificationTypeDowngraded     = "subscription_downgraded"
)

type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"index" json:"user_id"`
	User      User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type      string         `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment_success payment_failed subscription_downgraded"`
	Metadata  string         `gorm:"type:longtext" json:"metadata"`
	IsRead    bool           `gorm:"default:false" json:"is_read"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// CreateNotification persists a new notification row for a user.
func CreateNotification(db *gorm.DB, userID uint, notificationType string, metadata string) error {
	notification := Notification{
		UserID:   userID,
		Type:     notificationType,
		Metadata: metadata,
		IsRead:   false,
	}

	return db.Create(&notification).Error
}
