// Package gateway implements the outbound client for the external payment
// processor: payment process creation with bounded retry/backoff and the
// best-effort post-activation acknowledgment call.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/formlio/paygate/internal/pkg/apperrors"
	"github.com/formlio/paygate/internal/pkg/env"
)

const (
	endpointCreateProcess      = "/api/light/server/1.0/createPaymentProcess"
	endpointApproveTransaction = "/api/light/server/1.0/approveTransaction"
)

// Processor error ids that are worth another attempt. Everything else aborts
// immediately.
var retryableErrorIDs = map[string]struct{}{
	"server_error":            {},
	"rate_limited":            {},
	"temporarily_unavailable": {},
}

type Config struct {
	BaseURL   string
	PageCode  string
	APIKey    string
	NotifyURL string

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	cfg Config

	HTTPClient *http.Client
}

// ProcessRequest carries everything the processor needs to render a checkout
// page. The five custom fields round-trip through the processor and come back
// on the webhook.
type ProcessRequest struct {
	Amount      int64
	SuccessURL  string
	CancelURL   string
	Description string
	FullName    string
	Email       string

	UserUUID      string
	PlanCode      string
	BillingPeriod string
	Installments  int
	CreditDays    int
}

// ProcessResult is the processor's handle for a created payment process.
type ProcessResult struct {
	URL          string
	ProcessID    int64
	ProcessToken string
}

type apiError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type apiResponse struct {
	Status string          `json:"status"`
	Err    *apiError       `json:"err,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// transportFailure wraps non-2xx and malformed-body failures, which are
// always retryable.
type transportFailure struct {
	cause error
}

func (t *transportFailure) Error() string { return t.cause.Error() }
func (t *transportFailure) Unwrap() error { return t.cause }

// processorFailure is a processor-level rejection carried in the response
// envelope.
type processorFailure struct {
	id      string
	message string
}

func (p *processorFailure) Error() string {
	return fmt.Sprintf("processor error %s: %s", p.id, p.message)
}

func (p *processorFailure) retryable() bool {
	_, ok := retryableErrorIDs[p.id]
	return ok
}

func NewClient(cfg Config) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func NewClientFromEnv() *Client {
	return NewClient(Config{
		BaseURL:   strings.TrimRight(env.GetEnv("PROCESSOR_BASE_URL", "https://secure.payproc.example"), "/"),
		PageCode:  strings.TrimSpace(env.GetEnv("PROCESSOR_PAGE_CODE", "")),
		APIKey:    strings.TrimSpace(env.GetEnv("PROCESSOR_API_KEY", "")),
		NotifyURL: strings.TrimSpace(env.GetEnv("PROCESSOR_NOTIFY_URL", "")),
	})
}

// CreatePaymentProcess asks the processor for a hosted checkout URL. The call
// is stateless on our side and safe to retry.
func (c *Client) CreatePaymentProcess(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if strings.TrimSpace(c.cfg.PageCode) == "" {
		return nil, errors.New("PROCESSOR_PAGE_CODE is not configured")
	}

	form := url.Values{}
	form.Set("pageCode", c.cfg.PageCode)
	form.Set("apiKey", c.cfg.APIKey)
	form.Set("sum", formatAmount(req.Amount))
	form.Set("successUrl", req.SuccessURL)
	form.Set("cancelUrl", req.CancelURL)
	form.Set("notifyUrl", c.cfg.NotifyURL)
	form.Set("description", req.Description)
	form.Set("maxPayments", strconv.Itoa(maxInt(req.Installments, 1)))
	form.Set("pageField[fullName]", req.FullName)
	form.Set("pageField[email]", req.Email)
	form.Set("cField1", req.UserUUID)
	form.Set("cField2", req.PlanCode)
	form.Set("cField3", req.BillingPeriod)
	form.Set("cField4", strconv.Itoa(req.Installments))
	form.Set("cField5", strconv.Itoa(req.CreditDays))

	data, err := c.callWithRetry(ctx, endpointCreateProcess, form)
	if err != nil {
		return nil, err
	}

	var payload struct {
		URL          string `json:"url"`
		ProcessID    int64  `json:"processId"`
		ProcessToken string `json:"processToken"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding createPaymentProcess data: %w", err)
	}
	if payload.URL == "" || payload.ProcessID == 0 {
		return nil, errors.New("processor returned an incomplete payment process")
	}

	return &ProcessResult{
		URL:          payload.URL,
		ProcessID:    payload.ProcessID,
		ProcessToken: payload.ProcessToken,
	}, nil
}

// ApproveTransaction confirms receipt of a paid notification. Single shot:
// activation has already committed by the time this runs, so the caller turns
// a failure into an admin alert instead of retrying forever.
func (c *Client) ApproveTransaction(ctx context.Context, processID int64, processToken string, amount int64) error {
	form := url.Values{}
	form.Set("pageCode", c.cfg.PageCode)
	form.Set("processId", strconv.FormatInt(processID, 10))
	form.Set("processToken", processToken)
	form.Set("sum", formatAmount(amount))

	_, err := c.call(ctx, endpointApproveTransaction, form)
	return err
}

// callWithRetry performs up to MaxAttempts calls with exponential backoff.
// Non-retryable processor errors abort immediately; exhaustion surfaces as a
// GatewayError carrying the last cause.
func (c *Client) callWithRetry(ctx context.Context, endpoint string, form url.Values) (json.RawMessage, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		data, err := c.call(ctx, endpoint, form)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var pf *processorFailure
		if errors.As(err, &pf) && !pf.retryable() {
			return nil, &apperrors.GatewayError{Endpoint: endpoint, Attempts: attempt, Cause: err, Rejected: true}
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &apperrors.GatewayError{Endpoint: endpoint, Attempts: attempt, Cause: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	return nil, &apperrors.GatewayError{Endpoint: endpoint, Attempts: c.cfg.MaxAttempts, Cause: lastErr}
}

func (c *Client) call(ctx context.Context, endpoint string, form url.Values) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &transportFailure{cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &transportFailure{cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &transportFailure{cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &transportFailure{cause: fmt.Errorf("processor returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &transportFailure{cause: fmt.Errorf("malformed processor response: %w", err)}
	}
	if envelope.Status != "1" {
		pf := &processorFailure{id: "unknown", message: "processor rejected the request"}
		if envelope.Err != nil {
			pf.id = envelope.Err.ID
			pf.message = envelope.Err.Message
		}
		return nil, pf
	}

	return envelope.Data, nil
}

// formatAmount renders a smallest-unit amount as the decimal string the
// processor expects.
func formatAmount(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
