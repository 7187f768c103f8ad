// Package apperrors defines the error taxonomy shared by the payment engine
// components. Callers classify failures with errors.As against these types.
package apperrors

import "fmt"

// ValidationError signals bad caller input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError for a single field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError signals that a per-user or per-endpoint quota was exceeded.
// Callers should back off and retry later.
type RateLimitError struct {
	Scope string
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d)", e.Scope, e.Limit)
}

// NotFoundError signals a missing user, plan or checkout session.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// InvalidPlanError signals a plan that cannot be checked out, e.g. a free
// plan or one priced at zero for the requested billing period.
type InvalidPlanError struct {
	PlanCode string
	Reason   string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("plan %s is not checkout-able: %s", e.PlanCode, e.Reason)
}

// GatewayError signals an outbound processor call that did not succeed.
// Rejected marks a non-retryable processor rejection that aborted without
// further attempts; otherwise the retry budget was exhausted. Cause carries
// the last observed failure.
type GatewayError struct {
	Endpoint string
	Attempts int
	Cause    error
	Rejected bool
}

func (e *GatewayError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("gateway call to %s rejected by processor: %v", e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("gateway call to %s failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Cause)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// SecurityRejection signals a dropped notification: bad signature, missing
// secret or malformed identity. Logged, never alerted unless it indicates
// tampering.
type SecurityRejection struct {
	Reason string
}

func (e *SecurityRejection) Error() string {
	return fmt.Sprintf("security rejection: %s", e.Reason)
}
