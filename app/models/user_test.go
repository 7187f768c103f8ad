package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	user, err := NewUser("Dana Levi", "dana@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, user.UUID)
	assert.Equal(t, PaymentStatusNone, user.PaymentStatus)

	_, err = NewUser("D", "not-an-email")
	require.Error(t, err)
}

func TestHasValidSubscription(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name   string
		status string
		end    *time.Time
		want   bool
	}{
		{name: "active with future end", status: PaymentStatusActive, end: &future, want: true},
		{name: "grace with future end", status: PaymentStatusGracePeriod, end: &future, want: true},
		{name: "active but ended", status: PaymentStatusActive, end: &past, want: false},
		{name: "active without end", status: PaymentStatusActive, end: nil, want: false},
		{name: "expired", status: PaymentStatusExpired, end: &future, want: false},
		{name: "none", status: PaymentStatusNone, end: &future, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := User{PaymentStatus: tt.status, SubscriptionEnd: tt.end}
			assert.Equal(t, tt.want, u.HasValidSubscription(now))
		})
	}
}

func TestRemainingSubscriptionDays(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	end := now.Add(10*24*time.Hour + 23*time.Hour)
	u := User{SubscriptionEnd: &end}
	assert.Equal(t, 10, u.RemainingSubscriptionDays(now), "partial days are floored")

	past := now.Add(-time.Hour)
	u = User{SubscriptionEnd: &past}
	assert.Equal(t, 0, u.RemainingSubscriptionDays(now))

	u = User{}
	assert.Equal(t, 0, u.RemainingSubscriptionDays(now))
}

func TestCheckoutsToday(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.Local)

	u := User{}
	assert.Equal(t, 0, u.CheckoutsToday(now))

	sameDay := now.Add(-3 * time.Hour)
	u = User{CheckoutCount: 4, CheckoutCountDate: &sameDay}
	assert.Equal(t, 4, u.CheckoutsToday(now))

	yesterday := now.AddDate(0, 0, -1)
	u = User{CheckoutCount: 4, CheckoutCountDate: &yesterday}
	assert.Equal(t, 0, u.CheckoutsToday(now), "counter from an earlier day reads as reset")
}
