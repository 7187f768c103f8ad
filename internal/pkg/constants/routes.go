package constants

// Static route constants
const (
	HealthRoute = "/health"

	APIV1Prefix         = "/api/v1"
	PlansRoute          = "/plans"
	CheckoutRoute       = "/checkout"
	PaymentWebhookRoute = "/webhooks/payment"
)
