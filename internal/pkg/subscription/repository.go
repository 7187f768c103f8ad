package subscription

import (
	"time"

	"github.com/formlio/paygate/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the activation state machine.
type Repository interface {
	GetPlanByCode(code string) (*models.Plan, error)
	CountCompletedTransactionsSince(userID uint, since time.Time) (int64, error)
	CreateTransaction(tx *models.Transaction) error
	SaveUser(user *models.User) error
	CompleteSession(sessionID uint, completedAt time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates an activation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetPlanByCode(code string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("code = ?", code).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) CountCompletedTransactionsSince(userID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&models.Transaction{}).
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, models.TransactionStatusCompleted, since).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CreateTransaction(tx *models.Transaction) error {
	return r.db.Create(tx).Error
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) CompleteSession(sessionID uint, completedAt time.Time) error {
	return r.db.Model(&models.CheckoutSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":       models.CheckoutStatusCompleted,
			"completed_at": completedAt,
		}).Error
}
