package checkout

import (
	"time"

	"github.com/formlio/paygate/app/models"
	"gorm.io/gorm"
)

// Repository provides DB operations used by the checkout service.
type Repository interface {
	GetUserByUUID(userUUID string) (*models.User, error)
	GetActivePlanByCode(code string) (*models.Plan, error)
	SupersedePendingSessions(userID uint) error
	CreateSession(session *models.CheckoutSession) error
	RecordSessionBookkeeping(user *models.User, processID int64, now time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a checkout repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetUserByUUID(userUUID string) (*models.User, error) {
	var user models.User
	err := r.db.Preload("Plan").Where("uuid = ?", userUUID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetActivePlanByCode(code string) (*models.Plan, error) {
	var plan models.Plan
	err := r.db.Where("code = ? AND is_active = ?", code, true).First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *gormRepository) SupersedePendingSessions(userID uint) error {
	return r.db.Model(&models.CheckoutSession{}).
		Where("user_id = ? AND status = ?", userID, models.CheckoutStatusPending).
		Update("status", models.CheckoutStatusSuperseded).Error
}

func (r *gormRepository) CreateSession(session *models.CheckoutSession) error {
	return r.db.Create(session).Error
}

func (r *gormRepository) RecordSessionBookkeeping(user *models.User, processID int64, now time.Time) error {
	count := user.CheckoutsToday(now) + 1
	return r.db.Model(user).Updates(map[string]interface{}{
		"checkout_count":      count,
		"checkout_count_date": now,
		"pending_process_id":  processID,
	}).Error
}
