// Package checkout builds outbound payment requests: business-rule
// validation, proration credit, session supersession and persistence.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/formlio/paygate/app/models"
	"github.com/formlio/paygate/internal/pkg/apperrors"
	"github.com/formlio/paygate/internal/pkg/env"
	"github.com/formlio/paygate/internal/pkg/gateway"
)

const maxInstallmentCeiling = 12

var validate = newValidator()

// newValidator reports failed fields by their json names, so validation
// errors speak the API's language.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// GatewayClient is the slice of the outbound client the checkout service needs.
type GatewayClient interface {
	CreatePaymentProcess(ctx context.Context, req gateway.ProcessRequest) (*gateway.ProcessResult, error)
}

type Config struct {
	DailyLimit           int
	SessionTTL           time.Duration
	AllowedRedirectHosts []string
}

func ConfigFromEnv() Config {
	limit, _ := strconv.Atoi(env.GetEnv("CHECKOUT_DAILY_LIMIT", "10"))
	ttlMin, _ := strconv.Atoi(env.GetEnv("CHECKOUT_SESSION_TTL_MIN", "60"))
	hosts := strings.Split(env.GetEnv("CHECKOUT_REDIRECT_HOSTS", ""), ",")

	cleaned := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h = strings.TrimSpace(h); h != "" {
			cleaned = append(cleaned, strings.ToLower(h))
		}
	}

	return Config{
		DailyLimit:           limit,
		SessionTTL:           time.Duration(ttlMin) * time.Minute,
		AllowedRedirectHosts: cleaned,
	}
}

type Service struct {
	repo Repository
	gw   GatewayClient
	cfg  Config

	now func() time.Time
}

func NewService(repo Repository, gw GatewayClient, cfg Config) *Service {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 10
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	return &Service{repo: repo, gw: gw, cfg: cfg, now: time.Now}
}

type CreateInput struct {
	UserUUID      string `json:"user_id" validate:"required,uuid4"`
	PlanCode      string `json:"plan_code" validate:"required"`
	BillingPeriod string `json:"billing_period" validate:"required,oneof=monthly yearly"`
	Installments  int    `json:"installments" validate:"min=0,max=12"`
	SuccessURL    string `json:"success_url" validate:"required,url"`
	CancelURL     string `json:"cancel_url" validate:"required,url"`
}

type CreateResult struct {
	CheckoutURL  string `json:"checkout_url"`
	ProcessID    int64  `json:"process_id"`
	ProcessToken string `json:"process_token"`
	CreditDays   int    `json:"credit_days"`
}

// CreateCheckoutProcess validates the request, supersedes any previous
// pending session, obtains a hosted checkout URL from the processor and
// persists the new session.
func (s *Service) CreateCheckoutProcess(ctx context.Context, in CreateInput) (*CreateResult, error) {
	now := s.now()

	if err := validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, apperrors.NewValidation(fe.Field(), "failed the "+fe.Tag()+" rule")
		}
		return nil, apperrors.NewValidation("", err.Error())
	}

	user, err := s.repo.GetUserByUUID(strings.TrimSpace(in.UserUUID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Entity: "user", Key: in.UserUUID}
		}
		return nil, err
	}

	if user.CheckoutsToday(now) >= s.cfg.DailyLimit {
		return nil, &apperrors.RateLimitError{Scope: "checkout per day", Limit: s.cfg.DailyLimit}
	}

	plan, err := s.repo.GetActivePlanByCode(strings.TrimSpace(in.PlanCode))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &apperrors.NotFoundError{Entity: "plan", Key: in.PlanCode}
		}
		return nil, err
	}

	amount := plan.PriceFor(in.BillingPeriod)
	if amount <= 0 {
		return nil, &apperrors.InvalidPlanError{PlanCode: plan.Code, Reason: "free plans cannot be checked out"}
	}

	installments, err := s.validateInstallments(plan, in.BillingPeriod, in.Installments)
	if err != nil {
		return nil, err
	}

	if err := s.validateRedirect("success_url", in.SuccessURL); err != nil {
		return nil, err
	}
	if err := s.validateRedirect("cancel_url", in.CancelURL); err != nil {
		return nil, err
	}

	creditDays := s.creditDays(user, now)

	// At most one pending session per user; older ones must never be honored.
	if err := s.repo.SupersedePendingSessions(user.ID); err != nil {
		return nil, err
	}

	result, err := s.gw.CreatePaymentProcess(ctx, gateway.ProcessRequest{
		Amount:        amount,
		SuccessURL:    in.SuccessURL,
		CancelURL:     in.CancelURL,
		Description:   fmt.Sprintf("%s (%s)", plan.Name, in.BillingPeriod),
		FullName:      user.Name,
		Email:         user.Email,
		UserUUID:      user.UUID,
		PlanCode:      plan.Code,
		BillingPeriod: in.BillingPeriod,
		Installments:  installments,
		CreditDays:    creditDays,
	})
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("marshaling plan snapshot: %w", err)
	}

	session := &models.CheckoutSession{
		UserID:        user.ID,
		PlanCode:      plan.Code,
		PlanSnapshot:  string(snapshot),
		BillingPeriod: in.BillingPeriod,
		Amount:        amount,
		Installments:  installments,
		CreditDays:    creditDays,
		ProcessID:     result.ProcessID,
		ProcessToken:  result.ProcessToken,
		Status:        models.CheckoutStatusPending,
		ExpiresAt:     now.Add(s.cfg.SessionTTL),
	}
	if err := s.repo.CreateSession(session); err != nil {
		return nil, err
	}

	if err := s.repo.RecordSessionBookkeeping(user, result.ProcessID, now); err != nil {
		return nil, err
	}

	return &CreateResult{
		CheckoutURL:  result.URL,
		ProcessID:    result.ProcessID,
		ProcessToken: result.ProcessToken,
		CreditDays:   creditDays,
	}, nil
}

func (s *Service) validateInstallments(plan *models.Plan, billingPeriod string, installments int) (int, error) {
	if installments <= 1 {
		return 1, nil
	}
	if billingPeriod != models.BillingPeriodYearly {
		return 0, apperrors.NewValidation("installments", "only available for yearly billing")
	}
	ceiling := plan.MaxInstallments
	if ceiling > maxInstallmentCeiling {
		ceiling = maxInstallmentCeiling
	}
	if ceiling < 1 {
		ceiling = 1
	}
	if installments > ceiling {
		return 0, apperrors.NewValidation("installments", fmt.Sprintf("must be between 1 and %d", ceiling))
	}
	return installments, nil
}

// validateRedirect enforces the redirect host allow-list (exact or dot-suffix
// match) so checkout cannot be abused as an open redirect.
func (s *Service) validateRedirect(field, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return apperrors.NewValidation(field, "must be an absolute http(s) URL")
	}

	host := strings.ToLower(u.Hostname())
	for _, allowed := range s.cfg.AllowedRedirectHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return apperrors.NewValidation(field, "host is not on the redirect allow-list")
}

// creditDays computes the whole days remaining on a still-valid paid
// subscription. The value rides along as a custom field so activation can
// extend the new period by exactly this many days.
func (s *Service) creditDays(user *models.User, now time.Time) int {
	if user.Plan == nil || user.Plan.IsFree() {
		return 0
	}
	if !user.HasValidSubscription(now) {
		return 0
	}
	return user.RemainingSubscriptionDays(now)
}
