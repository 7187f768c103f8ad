package webhook

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/formlio/paygate/app/models"
)

// Repository provides DB operations used by the ingestion engine. The ledger
// operations are the engine's only concurrency primitive.
type Repository interface {
	InsertProcessingEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	ReclaimFailedEvent(idempotencyKey string) (bool, *models.WebhookEvent, error)
	MarkEventCompleted(id uint, result string, manualReview bool) error
	MarkEventFailed(id uint, result string) error
	GetSessionByProcessID(processID int64) (*models.CheckoutSession, error)
	GetUserByUUID(userUUID string) (*models.User, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a webhook repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// InsertProcessingEvent inserts the ledger row with DO NOTHING on the unique
// idempotency key. The returned bool tells the caller whether it won the
// insert race and owns the event.
func (r *gormRepository) InsertProcessingEvent(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("idempotency_key = ?", event.IdempotencyKey).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

// ReclaimFailedEvent flips a failed ledger row back to processing so a
// legitimate retry can run. The conditional update keeps this atomic: only
// one retry wins the reclaim.
func (r *gormRepository) ReclaimFailedEvent(idempotencyKey string) (bool, *models.WebhookEvent, error) {
	tx := r.db.Model(&models.WebhookEvent{}).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, models.WebhookEventStatusFailed).
		Updates(map[string]interface{}{
			"status":       models.WebhookEventStatusProcessing,
			"processed_at": nil,
			"result":       "",
		})
	if tx.Error != nil {
		return false, nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return false, nil, nil
	}

	var stored models.WebhookEvent
	if err := r.db.Where("idempotency_key = ?", idempotencyKey).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return true, &stored, nil
}

func (r *gormRepository) MarkEventCompleted(id uint, result string, manualReview bool) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                 models.WebhookEventStatusCompleted,
		"result":                 result,
		"requires_manual_review": manualReview,
		"processed_at":           &now,
	}).Error
}

func (r *gormRepository) MarkEventFailed(id uint, result string) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.WebhookEventStatusFailed,
		"result":       result,
		"processed_at": &now,
	}).Error
}

func (r *gormRepository) GetSessionByProcessID(processID int64) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := r.db.Where("process_id = ?", processID).Order("created_at DESC").First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gormRepository) GetUserByUUID(userUUID string) (*models.User, error) {
	var user models.User
	err := r.db.Preload("Plan").Where("uuid = ?", userUUID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}
