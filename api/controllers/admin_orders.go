package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/admin"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

const maxNoteLength = 1000

type paymentStatusRequest struct {
	Status enums.PaymentStatus `json:"status" validate:"required"`
}

type orderStatusRequest struct {
	Status enums.OrderStatus `json:"status" validate:"required"`
}

type forceReleaseRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type adminOrderDetail struct {
	orderResponse
	Audit []auditResponse `json:"audit"`
}

// AdminOrders lists orders newest first with optional filters.
func AdminOrders(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := parseListFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		list, err := svc.ListOrders(r.Context(), middleware.ActorFromContext(r.Context()), filters, page)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// AdminOrderDetail returns an order with its breakdown and audit trail.
func AdminOrderDetail(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}

		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail, err := svc.GetOrder(r.Context(), middleware.ActorFromContext(r.Context()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		breakdown := detail.Breakdown
		responses.WriteSuccess(w, adminOrderDetail{
			orderResponse: newOrderResponse(detail.Order, &breakdown),
			Audit:         newAuditResponses(detail.Audit),
		})
	}
}

func AdminSetPaymentStatus(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return adminAction(svc, logg, func(r *http.Request, actorSvc admin.Service) (*models.Order, error) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			return nil, err
		}
		var payload paymentStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		if !payload.Status.IsValid() {
			return nil, invalidStatus(string(payload.Status))
		}
		return actorSvc.SetPaymentStatus(r.Context(), middleware.ActorFromContext(r.Context()), orderID, payload.Status)
	})
}

func AdminSetOrderStatus(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return adminAction(svc, logg, func(r *http.Request, actorSvc admin.Service) (*models.Order, error) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			return nil, err
		}
		var payload orderStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		if !payload.Status.IsValid() {
			return nil, invalidStatus(string(payload.Status))
		}
		return actorSvc.SetOrderStatus(r.Context(), middleware.ActorFromContext(r.Context()), orderID, payload.Status)
	})
}

// AdminForceRelease marks an order paid and delivered in one step.
func AdminForceRelease(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return adminAction(svc, logg, func(r *http.Request, actorSvc admin.Service) (*models.Order, error) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			return nil, err
		}
		var payload forceReleaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		note := validators.SanitizeString(payload.Note, maxNoteLength)
		return actorSvc.ForceRelease(r.Context(), middleware.ActorFromContext(r.Context()), orderID, note)
	})
}

// AdminCancelOrder cancels an order and refunds or fails its payment.
func AdminCancelOrder(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return adminAction(svc, logg, func(r *http.Request, actorSvc admin.Service) (*models.Order, error) {
		orderID, err := validators.ParsePathUUID(r, "orderId")
		if err != nil {
			return nil, err
		}
		var payload cancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		reason := validators.SanitizeString(payload.Reason, maxNoteLength)
		return actorSvc.CancelAndRefund(r.Context(), middleware.ActorFromContext(r.Context()), orderID, reason)
	})
}

func adminAction(svc admin.Service, logg *logger.Logger, run func(*http.Request, admin.Service) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		order, err := run(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, nil))
	}
}

func invalidStatus(value string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "unknown status").WithDetails(map[string]any{"status": value})
}

func parseListFilters(r *http.Request) (orders.ListFilters, error) {
	query := r.URL.Query()
	filters := orders.ListFilters{Query: strings.TrimSpace(query.Get("q"))}

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("payment_status")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_status filter")
		}
		filters.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(query.Get("payment_method")); raw != "" {
		method, err := enums.ParsePaymentMethod(raw)
		if err != nil {
			return filters, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_method filter")
		}
		filters.PaymentMethod = &method
	}

	var err error
	if filters.BuyerUserID, err = validators.ParseQueryUUID(r, "buyer_user_id"); err != nil {
		return filters, err
	}
	if filters.VendorID, err = validators.ParseQueryUUID(r, "vendor_id"); err != nil {
		return filters, err
	}
	if filters.DateFrom, err = validators.ParseQueryTime(r, "from", false); err != nil {
		return filters, err
	}
	if filters.DateTo, err = validators.ParseQueryTime(r, "to", true); err != nil {
		return filters, err
	}
	return filters, nil
}
