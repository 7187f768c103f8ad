package webhook

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Processor status codes carried in the webhook body.
const (
	StatusCodePending  = "1"
	StatusCodePaid     = "2"
	StatusCodeFailed   = "3"
	StatusCodeCanceled = "4"
)

// Notification is the processor's webhook body. The five custom fields echo
// back exactly what checkout smuggled through the processor.
type Notification struct {
	Status string           `json:"status"`
	Err    string           `json:"err"`
	Data   NotificationData `json:"data"`
}

type NotificationData struct {
	TransactionID string `json:"transactionId"`
	ProcessID     int64  `json:"processId"`
	ProcessToken  string `json:"processToken"`
	Sum           string `json:"sum"`
	PaymentType   string `json:"paymentType"`
	StatusCode    string `json:"statusCode"`
	CardSuffix    string `json:"cardSuffix"`
	CardBrand     string `json:"cardBrand"`
	PaymentsNum   int    `json:"paymentsNum"`

	UserUUID      string `json:"cField1"`
	PlanCode      string `json:"cField2"`
	BillingPeriod string `json:"cField3"`
	Installments  string `json:"cField4"`
	CreditDays    string `json:"cField5"`
}

// ParseNotification decodes a raw webhook body.
func ParseNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("malformed webhook body: %w", err)
	}
	return &n, nil
}

// AmountCents parses the decimal sum into the smallest currency unit.
func (d *NotificationData) AmountCents() (int64, error) {
	sum := strings.TrimSpace(d.Sum)
	if sum == "" {
		return 0, fmt.Errorf("notification carries no sum")
	}
	value, err := strconv.ParseFloat(sum, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sum %q: %w", d.Sum, err)
	}
	return int64(math.Round(value * 100)), nil
}

// CreditDaysInt parses the echoed credit-days custom field, tolerating an
// empty or garbled value as zero.
func (d *NotificationData) CreditDaysInt() int {
	days, err := strconv.Atoi(strings.TrimSpace(d.CreditDays))
	if err != nil || days < 0 {
		return 0
	}
	return days
}
