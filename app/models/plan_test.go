package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanPriceFor(t *testing.T) {
	p := Plan{PriceMonthly: 4900, PriceYearly: 49000}

	assert.Equal(t, int64(4900), p.PriceFor(BillingPeriodMonthly))
	assert.Equal(t, int64(49000), p.PriceFor(BillingPeriodYearly))
	assert.Equal(t, int64(0), p.PriceFor("weekly"))
}

func TestPlanIsFree(t *testing.T) {
	assert.True(t, (&Plan{}).IsFree())
	assert.False(t, (&Plan{PriceMonthly: 100}).IsFree())
	assert.False(t, (&Plan{PriceYearly: 100}).IsFree())
}
