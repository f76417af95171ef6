// Package admin is the operator surface over settlement: status overrides,
// escrow aggregates and commission management. Writes go through the
// settlement engine only.
package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

type settlementEngine interface {
	SetPaymentStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.PaymentStatus) (*settlement.Result, error)
	SetOrderStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*settlement.Result, error)
	ForceRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, note string) (*settlement.Result, error)
	CancelAndRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*settlement.Result, error)
	Summary(ctx context.Context) (*settlement.Summary, error)
	VendorBalances(ctx context.Context) ([]settlement.VendorBalance, error)
	Breakdown(ctx context.Context, order models.Order) (settlement.OrderBreakdown, error)
}

// OrderDetail is the admin view of one order with its audit trail.
type OrderDetail struct {
	Order     *models.Order             `json:"-"`
	Breakdown settlement.OrderBreakdown `json:"breakdown"`
	Audit     []models.OrderAuditEvent  `json:"-"`
}

// Service exposes admin operations. Every method except DefaultCommission
// requires an admin actor.
type Service interface {
	SetPaymentStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, status enums.PaymentStatus) (*models.Order, error)
	SetOrderStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error)
	ForceRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, note string) (*models.Order, error)
	CancelAndRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error)
	ListOrders(ctx context.Context, actor auth.Actor, filters orders.ListFilters, page pagination.Params) (*orders.OrderList, error)
	GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderDetail, error)
	Summary(ctx context.Context, actor auth.Actor) (*settlement.Summary, error)
	VendorBalances(ctx context.Context, actor auth.Actor) ([]settlement.VendorBalance, error)
	SetVendorCommission(ctx context.Context, actor auth.Actor, vendorID uuid.UUID, rate decimal.Decimal) (*vendors.Rate, error)
	DefaultCommission() decimal.Decimal
}

type service struct {
	engine  settlementEngine
	orders  orders.Repository
	audit   audit.Recorder
	vendors vendors.Service
}

// NewService wires the admin surface.
func NewService(engine settlementEngine, ordersRepo orders.Repository, recorder audit.Recorder, vendorSvc vendors.Service) (Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if vendorSvc == nil {
		return nil, fmt.Errorf("vendor service required")
	}
	return &service{engine: engine, orders: ordersRepo, audit: recorder, vendors: vendorSvc}, nil
}

func requireAdmin(actor auth.Actor) error {
	if !actor.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}

func dependency(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func orderOf(res *settlement.Result, err error) (*models.Order, error) {
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

func (s *service) SetPaymentStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, status enums.PaymentStatus) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return orderOf(s.engine.SetPaymentStatus(ctx, actor, orderID, status))
}

func (s *service) SetOrderStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return orderOf(s.engine.SetOrderStatus(ctx, actor, orderID, status))
}

func (s *service) ForceRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, note string) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return orderOf(s.engine.ForceRelease(ctx, actor, orderID, note))
}

func (s *service) CancelAndRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*models.Order, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return orderOf(s.engine.CancelAndRefund(ctx, actor, orderID, reason))
}

func (s *service) ListOrders(ctx context.Context, actor auth.Actor, filters orders.ListFilters, page pagination.Params) (*orders.OrderList, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := pagination.ParseCursor(page.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").
			WithDetails(map[string]string{"cursor": "is invalid"})
	}
	list, err := s.orders.List(ctx, page, filters)
	if err != nil {
		return nil, dependency(err, "list orders")
	}
	return list, nil
}

func (s *service) GetOrder(ctx context.Context, actor auth.Actor, orderID uuid.UUID) (*OrderDetail, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	breakdown, err := s.engine.Breakdown(ctx, *order)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "compute commission")
	}
	trail, err := s.audit.ListForOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load audit trail")
	}
	return &OrderDetail{Order: order, Breakdown: breakdown, Audit: trail}, nil
}

func (s *service) Summary(ctx context.Context, actor auth.Actor) (*settlement.Summary, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	summary, err := s.engine.Summary(ctx)
	if err != nil {
		return nil, dependency(err, "compute settlement summary")
	}
	return summary, nil
}

func (s *service) VendorBalances(ctx context.Context, actor auth.Actor) ([]settlement.VendorBalance, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	balances, err := s.engine.VendorBalances(ctx)
	if err != nil {
		return nil, dependency(err, "compute vendor balances")
	}
	return balances, nil
}

func (s *service) SetVendorCommission(ctx context.Context, actor auth.Actor, vendorID uuid.UUID, rate decimal.Decimal) (*vendors.Rate, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.vendors.SetRate(ctx, actor, vendorID, rate)
}

// DefaultCommission is the platform rate for vendors without an override.
// It is public: the same number is quoted to vendors at signup.
func (s *service) DefaultCommission() decimal.Decimal {
	return s.vendors.DefaultRate()
}
