package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// ListFilters describe the inputs supported by the admin order list.
type ListFilters struct {
	Status        *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
	PaymentMethod *enums.PaymentMethod
	BuyerUserID   *uuid.UUID
	VendorID      *uuid.UUID
	DateFrom      *time.Time
	DateTo        *time.Time
	// Query matches the order number prefix or the customer phone.
	Query string
}

// OrderSummary is one row of the admin order list.
type OrderSummary struct {
	ID            uuid.UUID           `json:"id"`
	OrderNumber   string              `json:"order_number"`
	BuyerUserID   *uuid.UUID          `json:"buyer_user_id,omitempty"`
	CustomerName  string              `json:"customer_name"`
	CustomerPhone string              `json:"customer_phone"`
	Total         int64               `json:"total"`
	Currency      string              `json:"currency"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalItems    int                 `json:"total_items"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// PaymentFields are the channel details written outside a status change.
// Nil fields are left untouched.
type PaymentFields struct {
	PaymentReference  *string
	CheckoutSessionID *string
	CheckoutURL       *string
}

func (f PaymentFields) updates() map[string]any {
	updates := map[string]any{}
	if f.PaymentReference != nil {
		updates["payment_reference"] = *f.PaymentReference
	}
	if f.CheckoutSessionID != nil {
		updates["checkout_session_id"] = *f.CheckoutSessionID
	}
	if f.CheckoutURL != nil {
		updates["checkout_url"] = *f.CheckoutURL
	}
	return updates
}

// ChangeCursor positions a scan over orders by last change. The zero value
// starts from the beginning.
type ChangeCursor struct {
	UpdatedAt time.Time
	ID        uuid.UUID
}

// After reports whether c sorts after other.
func (c ChangeCursor) After(other ChangeCursor) bool {
	if !c.UpdatedAt.Equal(other.UpdatedAt) {
		return c.UpdatedAt.After(other.UpdatedAt)
	}
	return c.ID.String() > other.ID.String()
}
