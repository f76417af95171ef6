package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

type orderItemResponse struct {
	ID              uuid.UUID `json:"id"`
	ProductID       uuid.UUID `json:"product_id"`
	ProductName     string    `json:"product_name"`
	ProductImageURL *string   `json:"product_image_url,omitempty"`
	VendorID        uuid.UUID `json:"vendor_id"`
	UnitPrice       int64     `json:"unit_price"`
	Quantity        int       `json:"quantity"`
	LineTotal       int64     `json:"line_total"`
}

type customerResponse struct {
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Phone   string  `json:"phone"`
	Address string  `json:"address"`
	City    string  `json:"city"`
}

// orderResponse is the public JSON shape of an order. It is shared by the
// buyer and admin handlers.
type orderResponse struct {
	ID               uuid.UUID                  `json:"id"`
	OrderNumber      string                     `json:"order_number"`
	BuyerUserID      *uuid.UUID                 `json:"buyer_user_id,omitempty"`
	Customer         customerResponse           `json:"customer"`
	Subtotal         int64                      `json:"subtotal"`
	Total            int64                      `json:"total"`
	Currency         string                     `json:"currency"`
	Status           enums.OrderStatus          `json:"status"`
	PaymentStatus    enums.PaymentStatus        `json:"payment_status"`
	PaymentMethod    enums.PaymentMethod        `json:"payment_method"`
	PaymentReference *string                    `json:"payment_reference,omitempty"`
	CheckoutURL      *string                    `json:"checkout_url,omitempty"`
	Version          int                        `json:"version"`
	Items            []orderItemResponse        `json:"items"`
	Breakdown        *settlement.OrderBreakdown `json:"breakdown,omitempty"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

func newOrderResponse(order *models.Order, breakdown *settlement.OrderBreakdown) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:              item.ID,
			ProductID:       item.ProductID,
			ProductName:     item.ProductName,
			ProductImageURL: item.ProductImageURL,
			VendorID:        item.VendorID,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			LineTotal:       item.LineTotal,
		})
	}
	return orderResponse{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerUserID: order.BuyerUserID,
		Customer: customerResponse{
			Name:    order.CustomerName,
			Email:   order.CustomerEmail,
			Phone:   order.CustomerPhone,
			Address: order.DeliveryAddress,
			City:    order.DeliveryCity,
		},
		Subtotal:         order.Subtotal,
		Total:            order.Total,
		Currency:         order.Currency,
		Status:           order.Status,
		PaymentStatus:    order.PaymentStatus,
		PaymentMethod:    order.PaymentMethod,
		PaymentReference: order.PaymentReference,
		CheckoutURL:      order.CheckoutURL,
		Version:          order.Version,
		Items:            items,
		Breakdown:        breakdown,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

type auditResponse struct {
	ID                uuid.UUID            `json:"id"`
	Action            enums.AuditAction    `json:"action"`
	ActorUserID       *uuid.UUID           `json:"actor_user_id,omitempty"`
	ActorRole         string               `json:"actor_role,omitempty"`
	Source            enums.ActorSource    `json:"source"`
	FromStatus        *enums.OrderStatus   `json:"from_status,omitempty"`
	ToStatus          *enums.OrderStatus   `json:"to_status,omitempty"`
	FromPaymentStatus *enums.PaymentStatus `json:"from_payment_status,omitempty"`
	ToPaymentStatus   *enums.PaymentStatus `json:"to_payment_status,omitempty"`
	Note              *string              `json:"note,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
}

func newAuditResponses(events []models.OrderAuditEvent) []auditResponse {
	out := make([]auditResponse, 0, len(events))
	for _, event := range events {
		out = append(out, auditResponse{
			ID:                event.ID,
			Action:            event.Action,
			ActorUserID:       event.ActorUserID,
			ActorRole:         event.ActorRole,
			Source:            event.Source,
			FromStatus:        event.FromStatus,
			ToStatus:          event.ToStatus,
			FromPaymentStatus: event.FromPaymentStatus,
			ToPaymentStatus:   event.ToPaymentStatus,
			Note:              event.Note,
			CreatedAt:         event.CreatedAt,
		})
	}
	return out
}
