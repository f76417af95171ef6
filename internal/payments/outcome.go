// Package payments normalizes what the payment gateway and the manual rail
// report into settlement outcomes.
package payments

import (
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Outcome is the normalized payment result handed to the settlement engine.
type Outcome = settlement.Outcome

// Verdict is the gateway's answer about a payment.
type Verdict = enums.PaymentVerdict

const (
	VerdictSucceeded = enums.PaymentVerdictSucceeded
	VerdictFailed    = enums.PaymentVerdictFailed
	VerdictPending   = enums.PaymentVerdictPending
)

const (
	// WebhookConsumer scopes the Redis guard for gateway deliveries.
	WebhookConsumer = "stripe_webhook"

	manualEventType = "manual_reference"
)
