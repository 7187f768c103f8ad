// Package alerts writes admin alerts raised by the payment engine. Alerts are
// resolved by separate operator tooling; this side only appends.
package alerts

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
)

// Sink accepts admin alerts. The DB implementation is the default; tests use
// in-memory fakes.
type Sink interface {
	Raise(alertType string, userID *uint, title, severity string, metadata map[string]interface{}) error
}

type dbSink struct {
	db *gorm.DB
}

// NewSink creates an alert sink backed by the admin_alerts table.
func NewSink(db *gorm.DB) Sink {
	return &dbSink{db: db}
}

func (s *dbSink) Raise(alertType string, userID *uint, title, severity string, metadata map[string]interface{}) error {
	meta := ""
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			log.Errorf("[Alerts] could not marshal metadata for %s: %v", alertType, err)
		} else {
			meta = string(raw)
		}
	}

	alert := &models.AdminAlert{
		Type:     alertType,
		UserID:   userID,
		Title:    title,
		Metadata: meta,
		Severity: severity,
		Status:   models.AlertStatusOpen,
	}
	if err := s.db.Create(alert).Error; err != nil {
		log.Errorf("[Alerts] could not persist alert %s: %v", alertType, err)
		return err
	}
	return nil
}
