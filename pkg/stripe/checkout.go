package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

// OrderIDMetadataKey carries the order id on sessions and payment intents.
const OrderIDMetadataKey = "order_id"

// SessionLine is one purchasable line on a hosted checkout page.
type SessionLine struct {
	Name       string
	ImageURL   string
	UnitAmount int64
	Quantity   int64
}

// SessionRequest describes the hosted checkout page for one order.
type SessionRequest struct {
	OrderID       uuid.UUID
	OrderNumber   string
	CustomerEmail string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Lines         []SessionLine

	// Attempt numbers the session calls for one order. A call that failed
	// without the gateway possibly acting is retired by moving to the next.
	Attempt int
}

// Session is the gateway's answer: where to send the buyer.
type Session struct {
	ID  string
	URL string
}

type createFunc func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// CheckoutSessions creates hosted payment pages.
type CheckoutSessions struct {
	create createFunc
}

// NewCheckoutSessions wraps the configured client. The client must be
// initialized so the package-level key is set.
func NewCheckoutSessions(client *Client) (*CheckoutSessions, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &CheckoutSessions{create: session.New}, nil
}

// Create opens a payment-mode session. Calls for the same attempt reuse the
// idempotency key, so Stripe returns the original session.
func (c *CheckoutSessions) Create(ctx context.Context, req SessionRequest) (*Session, error) {
	params, err := BuildSessionParams(req)
	if err != nil {
		return nil, err
	}
	params.Context = ctx
	created, err := c.create(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if created == nil || created.URL == "" {
		return nil, errors.New("checkout session returned without url")
	}
	return &Session{ID: created.ID, URL: created.URL}, nil
}

// SessionIdempotencyKey derives the gateway idempotency key for one session
// attempt of an order. Stripe replays the stored response of a key, errors
// included, so a failed attempt needs a new key to be retried.
func SessionIdempotencyKey(orderID uuid.UUID, attempt int) string {
	return fmt.Sprintf("checkout:%s:a%d", orderID, attempt)
}

// BuildSessionParams maps a request onto Stripe checkout parameters.
func BuildSessionParams(req SessionRequest) (*stripe.CheckoutSessionParams, error) {
	if req.OrderID == uuid.Nil {
		return nil, errors.New("order id is required")
	}
	if len(req.Lines) == 0 {
		return nil, errors.New("at least one line is required")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, errors.New("currency is required")
	}

	orderID := req.OrderID.String()
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(orderID),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{OrderIDMetadataKey: orderID},
		},
	}
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if req.OrderNumber != "" {
		params.PaymentIntentData.Description = stripe.String(req.OrderNumber)
	}

	for _, line := range req.Lines {
		if line.Quantity < 1 || line.UnitAmount < 0 {
			return nil, fmt.Errorf("invalid line %q", line.Name)
		}
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(line.Name),
		}
		if line.ImageURL != "" {
			product.Images = []*string{stripe.String(line.ImageURL)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(line.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(line.UnitAmount),
				ProductData: product,
			},
		})
	}

	params.AddMetadata(OrderIDMetadataKey, orderID)
	params.SetIdempotencyKey(SessionIdempotencyKey(req.OrderID, req.Attempt))
	return params, nil
}
