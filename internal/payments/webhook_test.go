package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

const testSecret = "whsec_test"

func buildPaymentIntentEvent(t *testing.T, eventType stripe.EventType, intentID string, metadata map[string]string) (string, []byte) {
	t.Helper()
	rawIntent, err := json.Marshal(&stripe.PaymentIntent{
		ID:       intentID,
		Object:   "payment_intent",
		Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("marshal payment intent: %v", err)
	}
	eventID := "evt_" + uuid.NewString()
	payload, err := json.Marshal(&stripe.Event{
		ID:         eventID,
		Type:       eventType,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data:       &stripe.EventData{Raw: rawIntent},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return eventID, payload
}

func signPayload(payload []byte, secret string, ts int64) string {
	signed := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func newVerifier(t *testing.T) *WebhookVerifier {
	t.Helper()
	v, err := NewWebhookVerifier(testSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestParseWebhookMapsSucceededIntent(t *testing.T) {
	orderID := uuid.New()
	eventID, payload := buildPaymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_123", map[string]string{"order_id": orderID.String()})

	event, err := newVerifier(t).ParseWebhook(payload, signPayload(payload, testSecret, time.Now().Unix()))
	require.NoError(t, err)
	require.True(t, event.Recognized)
	require.Equal(t, eventID, event.ID)
	require.Equal(t, orderID, event.Outcome.OrderID)
	require.Equal(t, VerdictSucceeded, event.Outcome.Verdict)
	require.Equal(t, "pi_123", event.Outcome.GatewayReference)
	require.Equal(t, eventID, event.Outcome.RawEventID)
}

func TestParseWebhookMapsFailedIntent(t *testing.T) {
	orderID := uuid.New()
	_, payload := buildPaymentIntentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, "pi_456", map[string]string{"order_id": orderID.String()})

	event, err := newVerifier(t).ParseWebhook(payload, signPayload(payload, testSecret, time.Now().Unix()))
	require.NoError(t, err)
	require.True(t, event.Recognized)
	require.Equal(t, VerdictFailed, event.Outcome.Verdict)
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	_, payload := buildPaymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_1", map[string]string{"order_id": uuid.NewString()})
	verifier := newVerifier(t)

	cases := map[string]string{
		"missing header": "",
		"wrong secret":   signPayload(payload, "whsec_other", time.Now().Unix()),
		"stale":          signPayload(payload, testSecret, time.Now().Add(-time.Hour).Unix()),
		"garbage":        "not-a-signature",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			event, err := verifier.ParseWebhook(payload, header)
			require.Nil(t, event)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignature), "got %v", err)
		})
	}
}

func TestParseWebhookIgnoresUnhandledEvents(t *testing.T) {
	verifier := newVerifier(t)

	_, payload := buildPaymentIntentEvent(t, stripe.EventTypePaymentIntentCreated, "pi_1", map[string]string{"order_id": uuid.NewString()})
	event, err := verifier.ParseWebhook(payload, signPayload(payload, testSecret, time.Now().Unix()))
	require.NoError(t, err)
	require.False(t, event.Recognized)
	require.Equal(t, "unhandled event type", event.IgnoreReason)

	_, payload = buildPaymentIntentEvent(t, stripe.EventTypePaymentIntentSucceeded, "pi_2", nil)
	event, err = verifier.ParseWebhook(payload, signPayload(payload, testSecret, time.Now().Unix()))
	require.NoError(t, err)
	require.False(t, event.Recognized)
	require.Equal(t, "payment intent carries no order id", event.IgnoreReason)
}

func TestNewWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewWebhookVerifier("  "); err == nil {
		t.Fatalf("expected error for blank secret")
	}
}
