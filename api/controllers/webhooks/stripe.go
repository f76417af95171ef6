package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// maxWebhookBody matches the gateway's documented payload ceiling.
const maxWebhookBody = 64 << 10

type StripeWebhookService interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*payments.WebhookResult, error)
}

type webhookAck struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

// StripeWebhook verifies and applies payment intent events. Ignored,
// duplicate and refused deliveries are acknowledged with 200 so the gateway
// stops retrying; only failures that a retry could fix return an error.
func StripeWebhook(svc StripeWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodePayloadTooLarge, err, "webhook body exceeds limit"))
			return
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := svc.HandleWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookAck{
			EventID:   result.EventID,
			EventType: result.EventType,
			Outcome:   outcomeLabel(result),
		})
	}
}

func outcomeLabel(result *payments.WebhookResult) string {
	switch {
	case result.Ignored:
		return "ignored"
	case result.Duplicate:
		return "duplicate"
	case result.Refused:
		return "refused"
	case result.Changed:
		return "applied"
	default:
		return "noop"
	}
}
