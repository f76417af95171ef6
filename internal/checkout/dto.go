package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

type (
	LineItem = helpers.LineItem
	Customer = helpers.Customer
)

// CreateOrderInput is a checkout request. PaymentReference is only read for
// the manual method.
type CreateOrderInput struct {
	Items            []LineItem
	Customer         Customer
	PaymentMethod    enums.PaymentMethod
	PaymentReference string
}

// OrderRef is what the buyer needs after checkout. RedirectURL is set for
// hosted payments.
type OrderRef struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	Total         int64               `json:"total"`
	Currency      string              `json:"currency"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	RedirectURL   *string             `json:"redirect_url,omitempty"`
}

// OrderView is the buyer's read of one order.
type OrderView struct {
	Order     *models.Order             `json:"-"`
	Breakdown settlement.OrderBreakdown `json:"breakdown"`
}

func refFor(order *models.Order) *OrderRef {
	return &OrderRef{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Total:         order.Total,
		Currency:      order.Currency,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		RedirectURL:   order.CheckoutURL,
	}
}
