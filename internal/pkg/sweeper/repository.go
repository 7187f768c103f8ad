package sweeper

import (
	"time"

	"github.com/formlio/paygate/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the periodic sweeps.
type Repository interface {
	ListExpiredGraceUsers(now time.Time) ([]models.User, error)
	GetFreePlan(code string) (*models.Plan, error)
	DowngradeUser(user *models.User, freePlanID uint) error
	ListExpiredPendingSessions(now time.Time) ([]models.CheckoutSession, error)
	HasTransactionForProcess(processID int64) (bool, error)
	AbandonSession(sessionID, userID uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a sweeper repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) ListExpiredGraceUsers(now time.Time) ([]models.User, error) {
	var users []models.User
	err := r.db.
		Where("payment_status = ? AND grace_period_end IS NOT NULL AND grace_period_end < ?", models.PaymentStatusGracePeriod, now).
		Find(&users).Error
	return users, err
}

func (r *gormRepository) GetFreePlan(code string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("code = ? AND is_active = ?", code, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// DowngradeUser reassigns a user to the free plan in its own transaction, so
// a failure mid-cohort never leaves a half-downgraded user.
func (r *gormRepository) DowngradeUser(user *models.User, freePlanID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Model(user).Updates(map[string]interface{}{
			"plan_id":                    freePlanID,
			"payment_status":             models.PaymentStatusExpired,
			"grace_period_start":         nil,
			"grace_period_end":           nil,
			"grace_reason":               "",
			"processor_subscription_ref": "",
		}).Error
	})
}

func (r *gormRepository) ListExpiredPendingSessions(now time.Time) ([]models.CheckoutSession, error) {
	var sessions []models.CheckoutSession
	err := r.db.
		Where("status = ? AND expires_at < ?", models.CheckoutStatusPending, now).
		Find(&sessions).Error
	return sessions, err
}

func (r *gormRepository) HasTransactionForProcess(processID int64) (bool, error) {
	var count int64
	err := r.db.Model(&models.Transaction{}).Where("process_id = ?", processID).Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) AbandonSession(sessionID, userID uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CheckoutSession{}).
			Where("id = ?", sessionID).
			Update("status", models.CheckoutStatusAbandoned).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("pending_process_id", nil).Error
	})
}
