// Package notify dispatches user-facing notifications. The engine treats the
// dispatcher as fire-and-forget: a failed notification never fails a payment
// flow.
package notify

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
)

// Dispatcher delivers a notification to a user.
type Dispatcher interface {
	SendNotification(userID uint, notificationType string, metadata map[string]interface{}) error
}

type dbDispatcher struct {
	db *gorm.DB
}

// NewDispatcher creates a notification dispatcher backed by the notifications
// outbox table.
func NewDispatcher(db *gorm.DB) Dispatcher {
	return &dbDispatcher{db: db}
}

func (d *dbDispatcher) SendNotification(userID uint, notificationType string, metadata map[string]interface{}) error {
	meta := ""
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			log.Errorf("[Notify] could not marshal metadata for %s: %v", notificationType, err)
		} else {
			meta = string(raw)
		}
	}

	return models.CreateNotification(d.db, userID, notificationType, meta)
}
