package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
)

var activationNow = time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

type fakeRepo struct {
	mu           sync.Mutex
	plans        map[string]*models.Plan
	recentCount  int64
	transactions []*models.Transaction
	savedUsers   []*models.User
	completed    []uint
	saveErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{plans: map[string]*models.Plan{
		"pro": {ID: 2, Code: "pro", PriceMonthly: 4900, PriceYearly: 49000, MaxInstallments: 12},
	}}
}

func (r *fakeRepo) GetPlanByCode(code string) (*models.Plan, error) {
	plan, ok := r.plans[code]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *plan
	return &copied, nil
}

func (r *fakeRepo) CountCompletedTransactionsSince(uint, time.Time) (int64, error) {
	return r.recentCount, nil
}

func (r *fakeRepo) CreateTransaction(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, tx)
	return nil
}

func (r *fakeRepo) SaveUser(user *models.User) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *user
	r.savedUsers = append(r.savedUsers, &copied)
	return nil
}

func (r *fakeRepo) CompleteSession(sessionID uint, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, sessionID)
	return nil
}

type fakeAcker struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (a *fakeAcker) ApproveTransaction(_ context.Context, processID int64, _ string, _ int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, processID)
	return a.err
}

func (a *fakeAcker) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeSink struct {
	mu     sync.Mutex
	raised []string
}

func (s *fakeSink) Raise(alertType string, _ *uint, _, _ string, _ map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raised = append(s.raised, alertType)
	return nil
}

func (s *fakeSink) has(alertType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raised := range s.raised {
		if raised == alertType {
			return true
		}
	}
	return false
}

type fakeDispatcher struct {
	mu    sync.Mutex
	types []string
}

func (d *fakeDispatcher) SendNotification(_ uint, notificationType string, _ map[string]interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.types = append(d.types, notificationType)
	return nil
}

func newTestService(repo *fakeRepo, acker *fakeAcker, sink *fakeSink, dispatcher *fakeDispatcher) *Service {
	svc := NewService(repo, acker, sink, dispatcher, Config{GracePeriodDays: 7})
	svc.now = func() time.Time { return activationNow }
	return svc
}

func paidInput(user *models.User) PaidInput {
	return PaidInput{
		User:          user,
		TransactionID: "tx-1",
		ProcessID:     555,
		ProcessToken:  "tok-555",
		Amount:        4900,
		PaymentMethod: "CreditCard",
		CardSuffix:    "4242",
		CardBrand:     "Visa",
		PlanCode:      "pro",
		BillingPeriod: models.BillingPeriodMonthly,
	}
}

func graceUser() *models.User {
	start := activationNow.AddDate(0, 0, -3)
	end := activationNow.AddDate(0, 0, 4)
	return &models.User{
		ID:               9,
		UUID:             "b7f9d8a0-1111-4222-8333-444455556666",
		PaymentStatus:    models.PaymentStatusGracePeriod,
		GracePeriodStart: &start,
		GracePeriodEnd:   &end,
		GraceReason:      "payment_failed",
	}
}

func TestApplyPaidActivatesMonthly(t *testing.T) {
	repo := newFakeRepo()
	acker := &fakeAcker{}
	sink := &fakeSink{}
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, acker, sink, dispatcher)

	user := graceUser()
	outcome, err := svc.ApplyPaid(context.Background(), paidInput(user))

	require.NoError(t, err)
	assert.False(t, outcome.ManualReview)

	require.Len(t, repo.savedUsers, 1)
	saved := repo.savedUsers[0]
	assert.Equal(t, models.PaymentStatusActive, saved.PaymentStatus)
	assert.Equal(t, activationNow, *saved.SubscriptionStart)
	assert.Equal(t, activationNow.AddDate(0, 1, 0), *saved.SubscriptionEnd)
	assert.Nil(t, saved.GracePeriodStart, "activation clears the grace period")
	assert.Nil(t, saved.GracePeriodEnd)
	assert.Empty(t, saved.GraceReason)
	assert.Nil(t, saved.PendingProcessID)
	assert.Equal(t, "555", saved.ProcessorSubscriptionRef)
	assert.Equal(t, "Visa:4242", saved.LastCardFingerprint)

	require.Len(t, repo.transactions, 1)
	assert.Equal(t, models.TransactionStatusCompleted, repo.transactions[0].Status)
	assert.Equal(t, []string{models.NotificationTypePaymentSuccess}, dispatcher.types)
}

func TestApplyPaidYearlyWithCreditDays(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, &fakeDispatcher{})

	in := paidInput(graceUser())
	in.BillingPeriod = models.BillingPeriodYearly
	in.CreditDays = 23
	in.Amount = 49000

	_, err := svc.ApplyPaid(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, repo.savedUsers, 1)
	want := activationNow.AddDate(0, 12, 0).AddDate(0, 0, 23)
	assert.Equal(t, want, *repo.savedUsers[0].SubscriptionEnd)
}

func TestApplyPaidFallsBackToSession(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, &fakeDispatcher{})

	in := paidInput(graceUser())
	in.PlanCode = ""
	in.BillingPeriod = ""
	in.CreditDays = 0
	in.Session = &models.CheckoutSession{
		ID:            12,
		PlanCode:      "pro",
		BillingPeriod: models.BillingPeriodYearly,
		CreditDays:    5,
	}

	_, err := svc.ApplyPaid(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, repo.savedUsers, 1)
	want := activationNow.AddDate(0, 12, 0).AddDate(0, 0, 5)
	assert.Equal(t, want, *repo.savedUsers[0].SubscriptionEnd)
	assert.Equal(t, []uint{12}, repo.completed, "originating session is completed")
}

func TestApplyPaidDefaultsToMonthlyWithoutSession(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, &fakeDispatcher{})

	in := paidInput(graceUser())
	in.BillingPeriod = ""

	_, err := svc.ApplyPaid(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, activationNow.AddDate(0, 1, 0), *repo.savedUsers[0].SubscriptionEnd)
}

func TestApplyPaidUnknownPlan(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, &fakeDispatcher{})

	in := paidInput(graceUser())
	in.PlanCode = "ghost"

	_, err := svc.ApplyPaid(context.Background(), in)
	require.Error(t, err)
	assert.Empty(t, repo.savedUsers)
	assert.Empty(t, repo.transactions)
}

func TestApplyPaidDoublePaymentWithheld(t *testing.T) {
	repo := newFakeRepo()
	repo.recentCount = 1
	sink := &fakeSink{}
	acker := &fakeAcker{}
	svc := newTestService(repo, acker, sink, &fakeDispatcher{})

	outcome, err := svc.ApplyPaid(context.Background(), paidInput(graceUser()))

	require.NoError(t, err)
	assert.True(t, outcome.ManualReview)
	assert.Empty(t, repo.savedUsers, "withheld payment must not touch the subscription")
	require.Len(t, repo.transactions, 1)
	assert.Equal(t, models.TransactionStatusPendingReview, repo.transactions[0].Status)
	assert.True(t, sink.has(models.AlertTypeDoublePayment))
	assert.Equal(t, 0, acker.callCount(), "withheld payment is not acknowledged")
}

func TestApplyPaidAcknowledgesAsync(t *testing.T) {
	repo := newFakeRepo()
	acker := &fakeAcker{}
	svc := newTestService(repo, acker, &fakeSink{}, &fakeDispatcher{})

	_, err := svc.ApplyPaid(context.Background(), paidInput(graceUser()))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return acker.callCount() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestApplyPaidAckFailureRaisesAlertOnly(t *testing.T) {
	repo := newFakeRepo()
	acker := &fakeAcker{err: errors.New("processor down")}
	sink := &fakeSink{}
	svc := newTestService(repo, acker, sink, &fakeDispatcher{})

	outcome, err := svc.ApplyPaid(context.Background(), paidInput(graceUser()))
	require.NoError(t, err, "ack failure must never fail the activation")
	assert.False(t, outcome.ManualReview)

	require.Eventually(t, func() bool { return sink.has(models.AlertTypeAckFailed) },
		2*time.Second, 10*time.Millisecond)

	require.Len(t, repo.savedUsers, 1)
	assert.Equal(t, models.PaymentStatusActive, repo.savedUsers[0].PaymentStatus,
		"activation stays committed when the ack fails")
}

func TestEnterGracePeriod(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, dispatcher)

	user := &models.User{ID: 4, PaymentStatus: models.PaymentStatusActive}
	err := svc.EnterGracePeriod(user, "payment_failed")

	require.NoError(t, err)
	require.Len(t, repo.savedUsers, 1)
	saved := repo.savedUsers[0]
	assert.Equal(t, models.PaymentStatusGracePeriod, saved.PaymentStatus)
	assert.Equal(t, activationNow, *saved.GracePeriodStart)
	assert.Equal(t, activationNow.AddDate(0, 0, 7), *saved.GracePeriodEnd)
	assert.Equal(t, "payment_failed", saved.GraceReason)
	assert.Equal(t, []string{models.NotificationTypePaymentFailed}, dispatcher.types)
}

func TestEnterGracePeriodSaveError(t *testing.T) {
	repo := newFakeRepo()
	repo.saveErr = errors.New("db gone")
	dispatcher := &fakeDispatcher{}
	svc := newTestService(repo, &fakeAcker{}, &fakeSink{}, dispatcher)

	err := svc.EnterGracePeriod(&models.User{ID: 4}, "payment_failed")
	require.Error(t, err)
	assert.Empty(t, dispatcher.types, "no notification when the state change did not persist")
}
