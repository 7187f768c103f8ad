package sweeper

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
)

var sweepNow = time.Date(2025, 5, 20, 3, 0, 0, 0, time.UTC)

type fakeRepo struct {
	freePlan      *models.Plan
	graceUsers    []models.User
	sessions      []models.CheckoutSession
	paidProcesses map[int64]bool

	downgraded    []uint
	downgradeErr  map[uint]error
	abandoned     []uint
	clearedUsers  []uint
	transactionEr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		freePlan:      &models.Plan{ID: 1, Code: "free", IsActive: true},
		paidProcesses: make(map[int64]bool),
		downgradeErr:  make(map[uint]error),
	}
}

func (r *fakeRepo) ListExpiredGraceUsers(time.Time) ([]models.User, error) {
	return r.graceUsers, nil
}

func (r *fakeRepo) GetFreePlan(string) (*models.Plan, error) {
	if r.freePlan == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return r.freePlan, nil
}

func (r *fakeRepo) DowngradeUser(user *models.User, _ uint) error {
	if err := r.downgradeErr[user.ID]; err != nil {
		return err
	}
	r.downgraded = append(r.downgraded, user.ID)
	return nil
}

func (r *fakeRepo) ListExpiredPendingSessions(time.Time) ([]models.CheckoutSession, error) {
	return r.sessions, nil
}

func (r *fakeRepo) HasTransactionForProcess(processID int64) (bool, error) {
	if r.transactionEr != nil {
		return false, r.transactionEr
	}
	return r.paidProcesses[processID], nil
}

func (r *fakeRepo) AbandonSession(sessionID, userID uint) error {
	r.abandoned = append(r.abandoned, sessionID)
	r.clearedUsers = append(r.clearedUsers, userID)
	return nil
}

type fakeDispatcher struct {
	sent []uint
	err  error
}

func (d *fakeDispatcher) SendNotification(userID uint, _ string, _ map[string]interface{}) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, userID)
	return nil
}

func graceUser(id uint) models.User {
	end := sweepNow.Add(-time.Hour)
	return models.User{ID: id, PaymentStatus: models.PaymentStatusGracePeriod, GracePeriodEnd: &end}
}

func TestGraceExpiryPassDowngradesAndNotifies(t *testing.T) {
	repo := newFakeRepo()
	repo.graceUsers = []models.User{graceUser(1), graceUser(2)}
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunGraceExpiryPass(sweepNow))

	assert.Equal(t, []uint{1, 2}, repo.downgraded)
	assert.Equal(t, []uint{1, 2}, dispatcher.sent)
}

func TestGraceExpiryPassAbortsWithoutFreePlan(t *testing.T) {
	repo := newFakeRepo()
	repo.freePlan = nil
	repo.graceUsers = []models.User{graceUser(1)}
	s := New(repo, &fakeDispatcher{}, Config{FreePlanCode: "free"})

	err := s.RunGraceExpiryPass(sweepNow)

	require.Error(t, err)
	assert.Empty(t, repo.downgraded, "nobody is touched when the target plan is missing")
}

func TestGraceExpiryPassContinuesAfterPerUserFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.graceUsers = []models.User{graceUser(1), graceUser(2), graceUser(3)}
	repo.downgradeErr[2] = errors.New("lock timeout")
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunGraceExpiryPass(sweepNow))

	assert.Equal(t, []uint{1, 3}, repo.downgraded)
	assert.Equal(t, []uint{1, 3}, dispatcher.sent, "no notification for the user that stayed on grace")
}

func TestGraceExpiryPassNotificationFailureDoesNotStopPass(t *testing.T) {
	repo := newFakeRepo()
	repo.graceUsers = []models.User{graceUser(1), graceUser(2)}
	dispatcher := &fakeDispatcher{err: errors.New("mail down")}
	s := New(repo, dispatcher, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunGraceExpiryPass(sweepNow))
	assert.Equal(t, []uint{1, 2}, repo.downgraded)
}

func TestAbandonedCheckoutPass(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions = []models.CheckoutSession{
		{ID: 10, UserID: 1, ProcessID: 100, Status: models.CheckoutStatusPending},
		{ID: 11, UserID: 2, ProcessID: 101, Status: models.CheckoutStatusPending},
	}
	s := New(repo, &fakeDispatcher{}, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunAbandonedCheckoutPass(sweepNow))

	assert.Equal(t, []uint{10, 11}, repo.abandoned)
	assert.Equal(t, []uint{1, 2}, repo.clearedUsers)
}

func TestAbandonedCheckoutPassSkipsPaidSessions(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions = []models.CheckoutSession{
		{ID: 10, UserID: 1, ProcessID: 100, Status: models.CheckoutStatusPending},
		{ID: 11, UserID: 2, ProcessID: 101, Status: models.CheckoutStatusPending},
	}
	repo.paidProcesses[100] = true
	s := New(repo, &fakeDispatcher{}, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunAbandonedCheckoutPass(sweepNow))

	assert.Equal(t, []uint{11}, repo.abandoned,
		"a session with a transaction may have paid with the webhook lost")
}

func TestAbandonedCheckoutPassSkipsOnLookupError(t *testing.T) {
	repo := newFakeRepo()
	repo.sessions = []models.CheckoutSession{
		{ID: 10, UserID: 1, ProcessID: 100, Status: models.CheckoutStatusPending},
	}
	repo.transactionEr = errors.New("db gone")
	s := New(repo, &fakeDispatcher{}, Config{FreePlanCode: "free"})

	require.NoError(t, s.RunAbandonedCheckoutPass(sweepNow))
	assert.Empty(t, repo.abandoned)
}
