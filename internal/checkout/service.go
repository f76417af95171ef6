// Package checkout turns a cart into a persisted order and opens its payment channel.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/internal/catalog"
	"github.com/angelmondragon/marketplace-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/payments"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	pkgcheckout "github.com/angelmondragon/marketplace-settlement/pkg/checkout"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

const (
	orderNumberConstraint = "ux_orders_order_number"
	orderNumberAttempts   = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type manualRecorder interface {
	RecordManualReference(ctx context.Context, tx *gorm.DB, order *models.Order, reference string) (payments.Outcome, error)
}

type breakdownSource interface {
	Breakdown(ctx context.Context, order models.Order) (settlement.OrderBreakdown, error)
}

// Service executes checkout orchestration.
type Service interface {
	CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*OrderRef, error)
	RetryPaymentSession(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderRef, error)
	GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderView, error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Tx         txRunner
	Orders     orders.Repository
	Catalog    catalog.Resolver
	Payments   manualRecorder
	Sessions   payments.SessionCreator
	Audit      audit.Recorder
	Outbox     outbox.Emitter
	Breakdowns breakdownSource
	Currency   string
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	tx         txRunner
	orders     orders.Repository
	catalog    catalog.Resolver
	payments   manualRecorder
	sessions   payments.SessionCreator
	audit      audit.Recorder
	outbox     outbox.Emitter
	breakdowns breakdownSource
	currency   string
	logg       *logger.Logger
	now        func() time.Time
	retries    singleflight.Group
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("manual payment recorder required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session creator required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Breakdowns == nil {
		return nil, fmt.Errorf("breakdown source required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		return nil, fmt.Errorf("currency required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:         params.Tx,
		orders:     params.Orders,
		catalog:    params.Catalog,
		payments:   params.Payments,
		sessions:   params.Sessions,
		audit:      params.Audit,
		outbox:     params.Outbox,
		breakdowns: params.Breakdowns,
		currency:   currency,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// CreateOrder validates the cart, persists the order with its items, audit
// row and outbox event in one transaction, then opens the payment channel.
// A hosted session failure leaves the order in place and returns
// PAYMENT_CHANNEL_ERROR carrying the order id.
func (s *service) CreateOrder(ctx context.Context, actor auth.Actor, input CreateOrderInput) (*OrderRef, error) {
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]string{"payment_method": "must be hosted or manual"})
	}
	customer := helpers.NormalizeCustomer(input.Customer)
	if err := helpers.ValidateLines(input.Items); err != nil {
		return nil, err
	}
	if err := helpers.ValidateCustomer(customer, input.PaymentMethod); err != nil {
		return nil, err
	}
	reference := helpers.NormalizeReference(input.PaymentReference)
	if input.PaymentMethod == enums.PaymentMethodManual && reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required").
			WithDetails(map[string]string{"payment_reference": "is required for manual payment"})
	}

	products, err := s.catalog.Resolve(ctx, helpers.ProductIDs(input.Items))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve products")
	}
	orderID := uuid.New()
	items, subtotal, err := helpers.BuildItems(orderID, input.Items, products)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:              orderID,
		BuyerUserID:     actor.UserID,
		CustomerName:    customer.Name,
		CustomerPhone:   customer.Phone,
		DeliveryAddress: customer.Address,
		DeliveryCity:    customer.City,
		Subtotal:        subtotal,
		Total:           subtotal,
		Currency:        s.currency,
		Status:          enums.OrderStatusPending,
		PaymentStatus:   enums.PaymentStatusPending,
		PaymentMethod:   input.PaymentMethod,
		Version:         1,
	}
	if customer.Email != "" {
		order.CustomerEmail = &customer.Email
	}
	if input.PaymentMethod == enums.PaymentMethodManual {
		order.PaymentStatus = enums.PaymentStatusPendingVerification
	}

	if err := s.persist(ctx, actor, order, items, reference); err != nil {
		return nil, err
	}
	order.Items = items
	s.info(ctx, order, "order created")

	if input.PaymentMethod == enums.PaymentMethodManual {
		return refFor(order), nil
	}
	return s.openSession(ctx, actor, order)
}

func (s *service) persist(ctx context.Context, actor auth.Actor, order *models.Order, items []models.OrderItem, reference string) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.OrderNumber = pkgcheckout.NewOrderNumber(s.now())
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.orders.WithTx(tx)
			if _, err := repo.Create(ctx, order); err != nil {
				return err
			}
			if err := repo.CreateItems(ctx, items); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
			}
			orderID := order.ID
			if _, err := s.audit.Record(ctx, tx, audit.Entry{
				OrderID:         &orderID,
				Action:          enums.AuditActionOrderCreated,
				Actor:           actor,
				ToStatus:        &order.Status,
				ToPaymentStatus: &order.PaymentStatus,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit")
			}
			if order.PaymentMethod == enums.PaymentMethodManual {
				if _, err := s.payments.RecordManualReference(ctx, tx, order, reference); err != nil {
					return err
				}
			}
			if err := s.outbox.Emit(ctx, tx, createdEvent(actor, order, items)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order created event")
			}
			return nil
		})
		if err == nil {
			return nil
		}
		if pkgerrors.As(err) == nil && db.IsUniqueViolation(err, orderNumberConstraint) {
			order.PaymentReference = nil
			continue
		}
		break
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
}

func createdEvent(actor auth.Actor, order *models.Order, items []models.OrderItem) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor: &outbox.ActorRef{
			UserID: actor.UserID,
			Role:   string(actor.Role),
			Source: string(actor.Source),
		},
		Data: payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			BuyerUserID:   order.BuyerUserID,
			Total:         order.Total,
			Currency:      order.Currency,
			PaymentMethod: order.PaymentMethod,
			PaymentStatus: order.PaymentStatus,
			VendorIDs:     helpers.VendorIDs(items),
		},
	}
}

// openSession asks the gateway for a hosted page and stores it on the order.
// Failing to store the session is logged only: the buyer can still pay and
// the webhook finds the order through the session metadata.
func (s *service) openSession(ctx context.Context, actor auth.Actor, order *models.Order) (*OrderRef, error) {
	session, err := s.sessions.CreateSession(ctx, order)
	if err != nil {
		if !payments.SessionMayExist(err) {
			s.retireSessionAttempt(ctx, order)
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodePaymentChannel) {
			err = pkgerrors.Wrap(pkgerrors.CodePaymentChannel, err, "payment gateway unavailable").
				WithDetails(map[string]any{"order_id": order.ID.String()})
		}
		return nil, err
	}

	order.CheckoutSessionID = &session.ID
	order.CheckoutURL = &session.URL
	storeErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).UpdatePaymentFields(ctx, order.ID, orders.PaymentFields{
			CheckoutSessionID: &session.ID,
			CheckoutURL:       &session.URL,
		}); err != nil {
			return err
		}
		orderID := order.ID
		_, err := s.audit.Record(ctx, tx, audit.Entry{
			OrderID: &orderID,
			Action:  enums.AuditActionCheckoutSessionCreated,
			Actor:   actor,
			Note:    &session.ID,
		})
		return err
	})
	if storeErr != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "failed to store checkout session", storeErr)
	}
	return refFor(order), nil
}

// retireSessionAttempt moves the order to a fresh gateway idempotency key.
// A timed out attempt is kept: the gateway may have created that session and
// replaying its key returns it.
func (s *service) retireSessionAttempt(ctx context.Context, order *models.Order) {
	if err := s.orders.AdvanceSessionAttempt(ctx, order.ID, order.SessionAttempt); err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "failed to retire checkout session attempt", err)
		}
		return
	}
	order.SessionAttempt++
}

// RetryPaymentSession re-opens the hosted page of an order still awaiting
// payment. Concurrent retries for one order share a single gateway call.
func (s *service) RetryPaymentSession(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderRef, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	value, err, _ := s.retries.Do(orderID.String(), func() (any, error) {
		order, err := s.load(ctx, actor, orderID)
		if err != nil {
			return nil, err
		}
		if order.PaymentMethod != enums.PaymentMethodHosted ||
			order.Status != enums.OrderStatusPending ||
			order.PaymentStatus != enums.PaymentStatusPending {
			return nil, settlement.PaymentConflict(order.ID, order.PaymentStatus, enums.PaymentStatusPending, settlement.ReasonNotAwaitingPayment)
		}
		return s.openSession(ctx, actor, order)
	})
	if err != nil {
		return nil, err
	}
	return value.(*OrderRef), nil
}

// GetOrder returns an order with its current commission split. Registered
// buyers only see their own orders; guest orders are read by id.
func (s *service) GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderView, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.load(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.breakdowns.Breakdown(ctx, *order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute commission")
	}
	return &OrderView{Order: order, Breakdown: breakdown}, nil
}

// load hides orders the actor may not read behind NOT_FOUND.
func (s *service) load(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.BuyerUserID != nil && !actor.IsAdmin() && !actor.Owns(order.BuyerUserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) info(ctx context.Context, order *models.Order, msg string) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{
		"order_number":   order.OrderNumber,
		"payment_method": string(order.PaymentMethod),
		"total":          order.Total,
	})
	s.logg.Info(logCtx, msg)
}
