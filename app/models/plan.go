package models

import "time"

const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

// Plan is immutable reference data; the engine only reads it.
type Plan struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Code            string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"`
	Name            string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceMonthly    int64     `gorm:"not null;default:0" json:"price_monthly"`
	PriceYearly     int64     `gorm:"not null;default:0" json:"price_yearly"`
	MaxInstallments int       `gorm:"not null;default:1" json:"max_installments"`
	FeaturesJSON    string    `gorm:"type:longtext" json:"features_json"`
	IsActive        bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PriceFor returns the price in the smallest currency unit for the given
// billing period. Unknown periods price at zero, which checkout rejects.
func (p *Plan) PriceFor(billingPeriod string) int64 {
	switch billingPeriod {
	case BillingPeriodMonthly:
		return p.PriceMonthly
	case BillingPeriodYearly:
		return p.PriceYearly
	default:
		return 0
	}
}

// IsFree reports whether the plan has no billable price at all.
func (p *Plan) IsFree() bool {
	return p.PriceMonthly <= 0 && p.PriceYearly <= 0
}
