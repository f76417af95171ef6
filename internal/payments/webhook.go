package payments

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	pkgstripe "github.com/angelmondragon/marketplace-settlement/pkg/stripe"
)

// WebhookEvent is a verified gateway delivery. Outcome is only meaningful
// when Recognized is true; IgnoreReason explains why it is not.
type WebhookEvent struct {
	ID           string
	Type         string
	Recognized   bool
	IgnoreReason string
	Outcome      Outcome
}

// WebhookVerifier checks gateway signatures with the endpoint secret.
type WebhookVerifier struct {
	secret string
}

func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook signing secret required")
	}
	return &WebhookVerifier{secret: secret}, nil
}

// ParseWebhook verifies the signature header and maps payment intent events
// onto outcomes. Nothing is read from the payload before verification passes.
func (v *WebhookVerifier) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "missing stripe signature")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid stripe signature")
	}

	parsed := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	var verdict Verdict
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		verdict = VerdictSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		verdict = VerdictFailed
	default:
		parsed.IgnoreReason = "unhandled event type"
		return parsed, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		parsed.IgnoreReason = "event has no payment intent"
		return parsed, nil
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		parsed.IgnoreReason = "payment intent payload unreadable"
		return parsed, nil
	}
	orderID, err := uuid.Parse(strings.TrimSpace(intent.Metadata[pkgstripe.OrderIDMetadataKey]))
	if err != nil || orderID == uuid.Nil {
		parsed.IgnoreReason = "payment intent carries no order id"
		return parsed, nil
	}

	parsed.Recognized = true
	parsed.Outcome = Outcome{
		OrderID:          orderID,
		Verdict:          verdict,
		GatewayReference: intent.ID,
		RawEventID:       event.ID,
		EventType:        string(event.Type),
	}
	return parsed, nil
}
