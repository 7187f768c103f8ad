// Package webhook authenticates, deduplicates and routes inbound payment
// notifications. The ledger's unique idempotency key is the only concurrency
// gate: simultaneous deliveries of the same transaction id are serialized by
// whichever request wins the insert.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
	"github.com/formlio/paygate/internal/pkg/alerts"
	"github.com/formlio/paygate/internal/pkg/apperrors"
	"github.com/formlio/paygate/internal/pkg/env"
	"github.com/formlio/paygate/internal/pkg/subscription"
)

// Result codes reported back to the processor-facing endpoint.
const (
	ResultProcessed      = "processed"
	ResultDuplicate      = "already_processed"
	ResultRateLimited    = "rate_limited"
	ResultAwaitingFinal  = "awaiting_final_status"
	ResultManualReview   = "requires_manual_review"
	ResultGracePeriod    = "grace_period_started"
	ResultSessionExpired = "session_expired"
	ResultRejected       = "rejected"
)

// Activator is the slice of the subscription state machine the engine routes
// into.
type Activator interface {
	ApplyPaid(ctx context.Context, in subscription.PaidInput) (*subscription.PaidOutcome, error)
	EnterGracePeriod(user *models.User, reason string) error
}

type Config struct {
	Secret     string
	Production bool
	Source     string

	RatePerMinute int
}

func ConfigFromEnv() Config {
	rate, _ := strconv.Atoi(env.GetEnv("WEBHOOK_RATE_LIMIT_PER_MIN", "100"))
	return Config{
		Secret:        strings.TrimSpace(env.GetEnv("WEBHOOK_SECRET", "")),
		Production:    !env.IsDev(),
		Source:        env.GetEnv("PROCESSOR_SOURCE", "payproc"),
		RatePerMinute: rate,
	}
}

// Result is what the engine tells the processor. The webhook endpoint always
// answers promptly; alerting and bookkeeping happen out of band.
type Result struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	ManualReview bool   `json:"manual_review,omitempty"`
}

type Service struct {
	repo      Repository
	activator Activator
	alerts    alerts.Sink
	limiter   Limiter
	cfg       Config

	now func() time.Time
}

func NewService(repo Repository, activator Activator, sink alerts.Sink, limiter Limiter, cfg Config) *Service {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 100
	}
	if limiter == nil {
		limiter = NewSlidingWindow(cfg.RatePerMinute, time.Minute)
	}
	return &Service{repo: repo, activator: activator, alerts: sink, limiter: limiter, cfg: cfg, now: time.Now}
}

// Process runs one notification through the full pipeline: rate gate,
// signature, identity, idempotency gate, session/amount validation and
// status routing.
func (s *Service) Process(ctx context.Context, rawBody []byte, signature string) (*Result, error) {
	now := s.now()

	if !s.limiter.Allow(now) {
		return &Result{Code: ResultRateLimited, Message: "too many notifications"}, nil
	}

	if err := s.authenticate(rawBody, signature); err != nil {
		return nil, err
	}

	notification, err := ParseNotification(rawBody)
	if err != nil {
		return nil, &apperrors.SecurityRejection{Reason: err.Error()}
	}

	user, result, err := s.extractIdentity(notification)
	if err != nil || result != nil {
		return result, err
	}

	event, result, err := s.idempotencyGate(notification)
	if err != nil || result != nil {
		return result, err
	}

	result, err = s.validateAndRoute(ctx, notification, user, event, rawBody)
	if err != nil && event != nil {
		// A failed ledger row can be reclaimed by a later legitimate retry.
		if markErr := s.repo.MarkEventFailed(event.ID, err.Error()); markErr != nil {
			log.Errorf("[Webhook] could not mark event %d failed: %v", event.ID, markErr)
		}
	}
	return result, err
}

// authenticate applies the deployment-mode signature policy. Production
// requires a configured secret and a valid signature; non-production accepts
// an absent secret with a warning but still rejects a bad signature when a
// secret is set.
func (s *Service) authenticate(rawBody []byte, signature string) error {
	if s.cfg.Secret == "" {
		if s.cfg.Production {
			return &apperrors.SecurityRejection{Reason: "webhook secret is not configured"}
		}
		log.Warn("[Webhook] no webhook secret configured, accepting unsigned notification (non-production only)")
		return nil
	}

	if strings.TrimSpace(signature) == "" {
		return &apperrors.SecurityRejection{Reason: "missing signature"}
	}
	if !VerifySignature(rawBody, signature, s.cfg.Secret) {
		// A present-but-wrong signature indicates tampering, not a
		// misconfigured caller.
		s.alerts.Raise(models.AlertTypeSignatureInvalid, nil,
			"webhook notification carried an invalid signature",
			models.AlertSeverityWarning,
			map[string]interface{}{"body_bytes": len(rawBody)})
		return &apperrors.SecurityRejection{Reason: "invalid signature"}
	}
	return nil
}

// extractIdentity resolves the user carried in the custom-field channel. A
// missing id is routed to manual review; a malformed one is rejected outright
// since the field is attacker controlled.
func (s *Service) extractIdentity(n *Notification) (*models.User, *Result, error) {
	userUUID := strings.TrimSpace(n.Data.UserUUID)
	if userUUID == "" {
		s.alerts.Raise(models.AlertTypeMissingUserID, nil,
			"payment notification without user identification",
			models.AlertSeverityHigh,
			map[string]interface{}{
				"transaction_id": n.Data.TransactionID,
				"process_id":     n.Data.ProcessID,
			})
		return nil, &Result{Code: ResultManualReview, Message: "missing user identification"}, nil
	}

	if _, err := uuid.Parse(userUUID); err != nil {
		return nil, nil, &apperrors.SecurityRejection{Reason: "malformed user identifier"}
	}

	user, err := s.repo.GetUserByUUID(userUUID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			userRef := userUUID
			s.alerts.Raise(models.AlertTypeMissingUserID, nil,
				"payment notification for unknown user",
				models.AlertSeverityHigh,
				map[string]interface{}{
					"user_uuid":      userRef,
					"transaction_id": n.Data.TransactionID,
				})
			return nil, &Result{Code: ResultManualReview, Message: "unknown user"}, nil
		}
		return nil, nil, err
	}
	return user, nil, nil
}

// idempotencyGate claims the transaction id in the ledger. Returns a non-nil
// event only when this request owns the notification.
func (s *Service) idempotencyGate(n *Notification) (*models.WebhookEvent, *Result, error) {
	key := strings.TrimSpace(n.Data.TransactionID)
	if key == "" {
		// Nothing to deduplicate on; process without a ledger entry.
		return nil, nil, nil
	}

	created, stored, err := s.repo.InsertProcessingEvent(&models.WebhookEvent{
		IdempotencyKey: key,
		Source:         s.cfg.Source,
		Status:         models.WebhookEventStatusProcessing,
	})
	if err != nil {
		return nil, nil, err
	}
	if created {
		return stored, nil, nil
	}

	if stored.Status == models.WebhookEventStatusFailed {
		reclaimed, event, err := s.repo.ReclaimFailedEvent(key)
		if err != nil {
			return nil, nil, err
		}
		if reclaimed {
			return event, nil, nil
		}
		// A concurrent retry reclaimed it first.
		return nil, &Result{Code: ResultDuplicate, Message: "already being processed"}, nil
	}
	if stored.IsTerminal() {
		return nil, &Result{Code: ResultDuplicate, Message: "already processed"}, nil
	}
	return nil, &Result{Code: ResultDuplicate, Message: "already being processed"}, nil
}

// validateAndRoute performs session/amount validation and dispatches on the
// processor status code. Ledger finalization for error paths happens in
// Process.
func (s *Service) validateAndRoute(ctx context.Context, n *Notification, user *models.User, event *models.WebhookEvent, rawBody []byte) (*Result, error) {
	session, err := s.resolveSession(n.Data.ProcessID)
	if err != nil {
		return nil, err
	}

	amount, amountErr := n.Data.AmountCents()

	if session != nil {
		if session.IsExpired(s.now()) {
			s.finalizeFailed(event, "checkout session expired")
			return &Result{Code: ResultSessionExpired, Message: "checkout session expired"}, nil
		}
		if amountErr == nil && amount != session.Amount {
			userID := user.ID
			s.alerts.Raise(models.AlertTypeAmountMismatch, &userID,
				"notified amount disagrees with checkout session",
				models.AlertSeverityHigh,
				map[string]interface{}{
					"transaction_id":  n.Data.TransactionID,
					"process_id":      n.Data.ProcessID,
					"notified_amount": amount,
					"session_amount":  session.Amount,
				})
			s.finalizeFailed(event, "amount mismatch")
			return &Result{Code: ResultRejected, Message: "amount mismatch"}, nil
		}
	}

	switch n.Data.StatusCode {
	case StatusCodePending:
		s.finalizeCompleted(event, "awaiting final status", false)
		return &Result{Code: ResultAwaitingFinal, Message: "awaiting final status"}, nil

	case StatusCodeFailed, StatusCodeCanceled:
		reason := "payment_failed"
		if n.Data.StatusCode == StatusCodeCanceled {
			reason = "payment_canceled"
		}
		if err := s.activator.EnterGracePeriod(user, reason); err != nil {
			return nil, err
		}
		s.finalizeCompleted(event, "grace period started", false)
		return &Result{Code: ResultGracePeriod, Message: "notification sent"}, nil

	case StatusCodePaid:
		if amountErr != nil {
			return nil, amountErr
		}
		outcome, err := s.activator.ApplyPaid(ctx, subscription.PaidInput{
			User:          user,
			Session:       session,
			TransactionID: n.Data.TransactionID,
			ProcessID:     n.Data.ProcessID,
			ProcessToken:  n.Data.ProcessToken,
			Amount:        amount,
			PaymentMethod: n.Data.PaymentType,
			CardSuffix:    n.Data.CardSuffix,
			CardBrand:     n.Data.CardBrand,
			RawPayload:    string(rawBody),
			PlanCode:      strings.TrimSpace(n.Data.PlanCode),
			BillingPeriod: strings.TrimSpace(n.Data.BillingPeriod),
			CreditDays:    n.Data.CreditDaysInt(),
		})
		if err != nil {
			return nil, err
		}
		if outcome.ManualReview {
			s.finalizeCompleted(event, "withheld for manual review (double payment)", true)
			return &Result{Code: ResultManualReview, Message: "withheld for manual review", ManualReview: true}, nil
		}
		s.finalizeCompleted(event, "subscription activated", false)
		return &Result{Code: ResultProcessed, Message: "subscription activated"}, nil

	default:
		userID := user.ID
		s.alerts.Raise(models.AlertTypeUnknownStatus, &userID,
			fmt.Sprintf("unrecognized processor status code %q", n.Data.StatusCode),
			models.AlertSeverityWarning,
			map[string]interface{}{
				"transaction_id": n.Data.TransactionID,
				"status_code":    n.Data.StatusCode,
			})
		s.finalizeCompleted(event, "unrecognized status code", true)
		return &Result{Code: ResultManualReview, Message: "requires manual review", ManualReview: true}, nil
	}
}

func (s *Service) resolveSession(processID int64) (*models.CheckoutSession, error) {
	if processID == 0 {
		return nil, nil
	}
	session, err := s.repo.GetSessionByProcessID(processID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return session, nil
}

func (s *Service) finalizeCompleted(event *models.WebhookEvent, result string, manualReview bool) {
	if event == nil {
		return
	}
	if err := s.repo.MarkEventCompleted(event.ID, result, manualReview); err != nil {
		log.Errorf("[Webhook] could not mark event %d completed: %v", event.ID, err)
	}
}

func (s *Service) finalizeFailed(event *models.WebhookEvent, result string) {
	if event == nil {
		return
	}
	if err := s.repo.MarkEventFailed(event.ID, result); err != nil {
		log.Errorf("[Webhook] could not mark event %d failed: %v", event.ID, err)
	}
}
