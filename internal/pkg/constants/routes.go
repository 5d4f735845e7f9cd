package constants

// Static route constants
const (
	WebhookRoute  = "/payments/webhook/"
	CheckoutRoute = "/payments/checkout"
	HealthRoute   = "/health"

	// Admin routes are registered relative to the group prefix.
	AdminGroup       = "/admin"
	EntitlementRoute = "/users/:id/entitlement"
)
