// Package subscription applies validated payment outcomes to user state:
// activation with double-payment defense, grace-period entry and the
// detached post-activation acknowledgment.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
	"github.com/formlio/paygate/internal/pkg/alerts"
	"github.com/formlio/paygate/internal/pkg/env"
	"github.com/formlio/paygate/internal/pkg/notify"
)

const doublePaymentWindow = time.Hour

// Acker is the slice of the gateway client used for the post-activation
// acknowledgment call.
type Acker interface {
	ApproveTransaction(ctx context.Context, processID int64, processToken string, amount int64) error
}

type Config struct {
	GracePeriodDays int
	AckTimeout      time.Duration
}

func ConfigFromEnv() Config {
	days, _ := strconv.Atoi(env.GetEnv("GRACE_PERIOD_DAYS", "7"))
	return Config{GracePeriodDays: days}
}

type Service struct {
	repo   Repository
	acker  Acker
	alerts alerts.Sink
	notify notify.Dispatcher
	cfg    Config

	now func() time.Time
}

func NewService(repo Repository, acker Acker, sink alerts.Sink, dispatcher notify.Dispatcher, cfg Config) *Service {
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = 7
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 30 * time.Second
	}
	return &Service{repo: repo, acker: acker, alerts: sink, notify: dispatcher, cfg: cfg, now: time.Now}
}

// PaidInput is a validated "paid" notification plus its resolved context.
// Plan fields come from the processor's echoed custom fields; Session (when
// present) is the fallback source.
type PaidInput struct {
	User    *models.User
	Session *models.CheckoutSession

	TransactionID string
	ProcessID     int64
	ProcessToken  string
	Amount        int64
	PaymentMethod string
	CardSuffix    string
	CardBrand     string
	RawPayload    string

	PlanCode      string
	BillingPeriod string
	CreditDays    int
}

// PaidOutcome reports what ApplyPaid did with the notification.
type PaidOutcome struct {
	ManualReview bool
}

// ApplyPaid activates a subscription for a paid notification, unless the
// double-payment defense withholds it for manual review.
func (s *Service) ApplyPaid(ctx context.Context, in PaidInput) (*PaidOutcome, error) {
	now := s.now()

	recent, err := s.repo.CountCompletedTransactionsSince(in.User.ID, now.Add(-doublePaymentWindow))
	if err != nil {
		return nil, err
	}
	if recent > 0 {
		return s.withholdForReview(in, now)
	}

	planCode, billingPeriod, creditDays := s.resolveActivation(in)

	plan, err := s.repo.GetPlanByCode(planCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("paid notification references unknown plan %q", planCode)
		}
		return nil, err
	}

	end := now.AddDate(0, 1, 0)
	if billingPeriod == models.BillingPeriodYearly {
		end = now.AddDate(0, 12, 0)
	}
	end = end.AddDate(0, 0, creditDays)

	user := in.User
	user.PlanID = &plan.ID
	user.PaymentStatus = models.PaymentStatusActive
	user.SubscriptionStart = &now
	user.SubscriptionEnd = &end
	user.GracePeriodStart = nil
	user.GracePeriodEnd = nil
	user.GraceReason = ""
	user.ProcessorSubscriptionRef = strconv.FormatInt(in.ProcessID, 10)
	user.PendingProcessID = nil
	user.LastPaymentMethod = in.PaymentMethod
	user.LastCardFingerprint = cardFingerprint(in.CardBrand, in.CardSuffix)
	if err := s.repo.SaveUser(user); err != nil {
		return nil, err
	}

	if in.Session != nil {
		if err := s.repo.CompleteSession(in.Session.ID, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateTransaction(&models.Transaction{
		UserID:        user.ID,
		TransactionID: in.TransactionID,
		ProcessID:     in.ProcessID,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		CardSuffix:    in.CardSuffix,
		CardBrand:     in.CardBrand,
		Status:        models.TransactionStatusCompleted,
		RawPayload:    in.RawPayload,
	}); err != nil {
		return nil, err
	}

	if err := s.notify.SendNotification(user.ID, models.NotificationTypePaymentSuccess, map[string]interface{}{
		"plan_code":        plan.Code,
		"billing_period":   billingPeriod,
		"subscription_end": end,
	}); err != nil {
		log.Warnf("[Subscription] success notification for user %d failed: %v", user.ID, err)
	}

	s.acknowledgeAsync(user.ID, in.TransactionID, in.ProcessID, in.ProcessToken, in.Amount)

	return &PaidOutcome{}, nil
}

// resolveActivation prefers the processor's echoed custom fields and falls
// back to the originating checkout session.
func (s *Service) resolveActivation(in PaidInput) (string, string, int) {
	planCode := in.PlanCode
	billingPeriod := in.BillingPeriod
	creditDays := in.CreditDays

	if in.Session != nil {
		if planCode == "" {
			planCode = in.Session.PlanCode
		}
		if billingPeriod == "" {
			billingPeriod = in.Session.BillingPeriod
		}
		if creditDays == 0 {
			creditDays = in.Session.CreditDays
		}
	}
	if billingPeriod == "" {
		billingPeriod = models.BillingPeriodMonthly
	}
	return planCode, billingPeriod, creditDays
}

// withholdForReview records the transaction without activating. An automatic
// double charge must never silently extend a subscription twice.
func (s *Service) withholdForReview(in PaidInput, now time.Time) (*PaidOutcome, error) {
	if err := s.repo.CreateTransaction(&models.Transaction{
		UserID:        in.User.ID,
		TransactionID: in.TransactionID,
		ProcessID:     in.ProcessID,
		Amount:        in.Amount,
		PaymentMethod: in.PaymentMethod,
		CardSuffix:    in.CardSuffix,
		CardBrand:     in.CardBrand,
		Status:        models.TransactionStatusPendingReview,
		RawPayload:    in.RawPayload,
	}); err != nil {
		return nil, err
	}

	userID := in.User.ID
	s.alerts.Raise(models.AlertTypeDoublePayment, &userID,
		"second paid notification within one hour withheld from activation",
		models.AlertSeverityHigh,
		map[string]interface{}{
			"transaction_id": in.TransactionID,
			"process_id":     in.ProcessID,
			"amount":         in.Amount,
			"received_at":    now,
		})

	return &PaidOutcome{ManualReview: true}, nil
}

// EnterGracePeriod moves a user into the grace period after a failed or
// canceled payment.
func (s *Service) EnterGracePeriod(user *models.User, reason string) error {
	now := s.now()
	end := now.AddDate(0, 0, s.cfg.GracePeriodDays)

	user.PaymentStatus = models.PaymentStatusGracePeriod
	user.GracePeriodStart = &now
	user.GracePeriodEnd = &end
	user.GraceReason = reason
	if err := s.repo.SaveUser(user); err != nil {
		return err
	}

	if err := s.notify.SendNotification(user.ID, models.NotificationTypePaymentFailed, map[string]interface{}{
		"reason":           reason,
		"grace_period_end": end,
	}); err != nil {
		log.Warnf("[Subscription] payment-failed notification for user %d failed: %v", user.ID, err)
	}
	return nil
}

// acknowledgeAsync confirms the transaction to the processor without blocking
// the activation response. The error channel feeds the alerting path only;
// the activation is already committed and is never reversed.
func (s *Service) acknowledgeAsync(userID uint, transactionID string, processID int64, processToken string, amount int64) {
	errCh := make(chan error, 1)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AckTimeout)
		defer cancel()
		errCh <- s.acker.ApproveTransaction(ctx, processID, processToken, amount)
	}()

	go func() {
		if err := <-errCh; err != nil {
			log.Errorf("[Subscription] transaction ack for %s failed: %v", transactionID, err)
			s.alerts.Raise(models.AlertTypeAckFailed, &userID,
				"transaction acknowledgment to processor failed",
				models.AlertSeverityWarning,
				map[string]interface{}{
					"transaction_id": transactionID,
					"process_id":     processID,
					"error":          err.Error(),
				})
		}
	}()
}

func cardFingerprint(brand, suffix string) string {
	if brand == "" && suffix == "" {
		return ""
	}
	return brand + ":" + suffix
}
