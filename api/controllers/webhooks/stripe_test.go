package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

type fakeWebhookService struct {
	result    *payments.WebhookResult
	err       error
	payload   string
	signature string
}

func (f *fakeWebhookService) HandleWebhook(_ context.Context, payload []byte, signature string) (*payments.WebhookResult, error) {
	f.payload = string(payload)
	f.signature = signature
	return f.result, f.err
}

func post(handler http.Handler, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAcknowledgesOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result payments.WebhookResult
		want   string
	}{
		{"applied", payments.WebhookResult{EventID: "evt_1", EventType: "payment_intent.succeeded", Changed: true}, "applied"},
		{"duplicate", payments.WebhookResult{EventID: "evt_1", Duplicate: true}, "duplicate"},
		{"refused", payments.WebhookResult{EventID: "evt_2", Refused: true}, "refused"},
		{"ignored", payments.WebhookResult{EventID: "evt_3", EventType: "charge.refunded", Ignored: true}, "ignored"},
	}
	for _, tt := range tests {
		result := tt.result
		svc := &fakeWebhookService{result: &result}
		rec := post(StripeWebhook(svc, nil), `{"id":"evt"}`, "t=1,v1=abc")

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tt.name, rec.Code)
		}
		var body struct {
			Data webhookAck `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if body.Data.Outcome != tt.want || body.Data.EventID != tt.result.EventID {
			t.Fatalf("%s: unexpected ack %+v", tt.name, body.Data)
		}
		if svc.payload != `{"id":"evt"}` || svc.signature != "t=1,v1=abc" {
			t.Fatalf("%s: payload or signature not forwarded", tt.name)
		}
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeSignature, "invalid stripe signature")}
	rec := post(StripeWebhook(svc, nil), `{}`, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeSignature) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
}

func TestStripeWebhookSurfacesRetryableFailure(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.Wrap(pkgerrors.CodeDependency, context.DeadlineExceeded, "apply outcome")}
	rec := post(StripeWebhook(svc, nil), `{}`, "t=1,v1=abc")

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 so the gateway retries, got %d", rec.Code)
	}
}

func TestStripeWebhookRejectsOversizedBody(t *testing.T) {
	svc := &fakeWebhookService{result: &payments.WebhookResult{EventID: "evt_big", Changed: true}}
	body := `{"id":"evt_big","pad":"` + strings.Repeat("x", maxWebhookBody) + `"}`
	rec := post(StripeWebhook(svc, nil), body, "t=1,v1=abc")

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if svc.payload != "" {
		t.Fatalf("truncated body must not reach the service")
	}
}

func TestStripeWebhookAcceptsBodyAtLimit(t *testing.T) {
	svc := &fakeWebhookService{result: &payments.WebhookResult{EventID: "evt_edge", Changed: true}}
	prefix, suffix := `{"id":"evt_edge","pad":"`, `"}`
	body := prefix + strings.Repeat("x", maxWebhookBody-len(prefix)-len(suffix)) + suffix
	rec := post(StripeWebhook(svc, nil), body, "t=1,v1=abc")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.payload) != maxWebhookBody {
		t.Fatalf("expected full %d byte payload, got %d", maxWebhookBody, len(svc.payload))
	}
}
