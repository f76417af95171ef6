package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Name      string    `json:"name" validate:"max=200"`
	ImageURL  string    `json:"image_url" validate:"omitempty,url"`
	UnitPrice *int64    `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	Quantity  int       `json:"quantity" validate:"gte=1"`
}

type checkoutCustomerRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone" validate:"required,max=40"`
	Address string `json:"address" validate:"required,max=500"`
	City    string `json:"city" validate:"required,max=120"`
}

type checkoutRequest struct {
	Items            []checkoutItemRequest   `json:"items" validate:"required,min=1,dive"`
	Customer         checkoutCustomerRequest `json:"customer"`
	PaymentMethod    enums.PaymentMethod     `json:"payment_method" validate:"required,oneof=hosted manual"`
	PaymentReference string                  `json:"payment_reference" validate:"max=200"`
}

func (c checkoutRequest) input() checkoutsvc.CreateOrderInput {
	items := make([]checkoutsvc.LineItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, checkoutsvc.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	return checkoutsvc.CreateOrderInput{
		Items: items,
		Customer: checkoutsvc.Customer{
			Name:    c.Customer.Name,
			Email:   c.Customer.Email,
			Phone:   c.Customer.Phone,
			Address: c.Customer.Address,
			City:    c.Customer.City,
		},
		PaymentMethod:    c.PaymentMethod,
		PaymentReference: c.PaymentReference,
	}
}

// Checkout creates an order for a guest or signed-in buyer. Hosted payments
// answer with the gateway redirect URL.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ref, err := svc.CreateOrder(r.Context(), middleware.ActorFromContext(r.Context()), payload.input())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, ref)
	}
}

// RetryPaymentSession opens a new hosted checkout session for an order whose
// first attempt failed.
func RetryPaymentSession(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ref, err := svc.RetryPaymentSession(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ref)
	}
}

// BuyerOrder returns one order with its commission breakdown.
func BuyerOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetOrder(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		breakdown := view.Breakdown
		responses.WriteSuccess(w, newOrderResponse(view.Order, &breakdown))
	}
}
