package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// OrderCreatedEvent announces a freshly persisted order.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	BuyerUserID   *uuid.UUID          `json:"buyer_user_id,omitempty"`
	Total         int64               `json:"total"`
	Currency      string              `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	VendorIDs     []uuid.UUID         `json:"vendor_ids"`
}

// OrderStatusChangedEvent is emitted for every applied order or payment transition.
type OrderStatusChangedEvent struct {
	OrderID           uuid.UUID           `json:"order_id"`
	OrderNumber       string              `json:"order_number"`
	BuyerUserID       *uuid.UUID          `json:"buyer_user_id,omitempty"`
	Action            enums.AuditAction   `json:"action"`
	FromStatus        enums.OrderStatus   `json:"from_status"`
	ToStatus          enums.OrderStatus   `json:"to_status"`
	FromPaymentStatus enums.PaymentStatus `json:"from_payment_status"`
	ToPaymentStatus   enums.PaymentStatus `json:"to_payment_status"`
	OrderVersion      int                 `json:"order_version"`
	ChangedAt         time.Time           `json:"changed_at"`
}

// VendorCommissionChangedEvent is emitted when an admin overrides a vendor rate.
type VendorCommissionChangedEvent struct {
	VendorID     uuid.UUID `json:"vendor_id"`
	Rate         string    `json:"rate"`
	PreviousRate *string   `json:"previous_rate,omitempty"`
}
