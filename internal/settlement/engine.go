// Package settlement owns the order and payment state machine, the
// commission split and the escrow aggregates derived from committed orders.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

type store interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithSnapshot(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type rateSource interface {
	RateBook(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (vendors.RateBook, error)
}

var errDuplicateEvent = errors.New("payment event already applied")

// Outcome is a normalized payment result from the gateway or a manual rail.
type Outcome struct {
	OrderID          uuid.UUID
	Verdict          enums.PaymentVerdict
	GatewayReference string
	RawEventID       string
	EventType        string
}

func (o Outcome) validate() error {
	fields := map[string]string{}
	if o.OrderID == uuid.Nil {
		fields["order_id"] = "required"
	}
	if !o.Verdict.IsValid() {
		fields["verdict"] = "must be succeeded, failed or pending"
	}
	if strings.TrimSpace(o.RawEventID) == "" {
		fields["raw_event_id"] = "required"
	}
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment outcome").WithDetails(fields)
	}
	return nil
}

// Result is the order after an operation. Changed is false for no-ops and
// Duplicate is true when the outcome's event id was already applied.
type Result struct {
	Order     *models.Order
	Changed   bool
	Duplicate bool
}

// Deps wires an Engine.
type Deps struct {
	Store   store
	Orders  orders.Repository
	Events  PaymentEventRepository
	Rates   rateSource
	Audit   audit.Recorder
	Outbox  outbox.Emitter
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
}

// Engine serializes transitions per order through a row lock plus a version
// check; a writer that loses the race is rejected rather than overwriting.
type Engine struct {
	store   store
	orders  orders.Repository
	events  PaymentEventRepository
	rates   rateSource
	audit   audit.Recorder
	outbox  outbox.Emitter
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Events == nil {
		return nil, fmt.Errorf("payment event repository required")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("rate source required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Engine{
		store:   deps.Store,
		orders:  deps.Orders,
		events:  deps.Events,
		rates:   deps.Rates,
		audit:   deps.Audit,
		outbox:  deps.Outbox,
		metrics: deps.Metrics,
		logg:    deps.Logger,
	}, nil
}

type plan struct {
	status           enums.OrderStatus
	payment          enums.PaymentStatus
	paymentReference *string
}

type operation struct {
	action    enums.AuditAction
	actor     auth.Actor
	orderID   uuid.UUID
	note      *string
	auditNoop bool
	decide    func(ctx context.Context, tx *gorm.DB, order *models.Order) (*plan, error)
}

// ApplyOutcome applies a gateway outcome. Replaying an event id is a no-op
// reported with Duplicate set.
func (e *Engine) ApplyOutcome(ctx context.Context, outcome Outcome) (*Result, error) {
	if err := outcome.validate(); err != nil {
		return nil, err
	}
	note := outcome.EventType
	if note == "" {
		note = string(outcome.Verdict)
	}

	result, err := e.run(ctx, operation{
		action:  enums.AuditActionPaymentOutcomeApplied,
		actor:   auth.Gateway(),
		orderID: outcome.OrderID,
		note:    &note,
		decide: func(ctx context.Context, tx *gorm.DB, order *models.Order) (*plan, error) {
			events := e.events.WithTx(tx)
			seen, err := events.Exists(ctx, outcome.RawEventID)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment event")
			}
			if seen {
				return nil, errDuplicateEvent
			}
			row := &models.PaymentEvent{
				EventID:   outcome.RawEventID,
				OrderID:   order.ID,
				EventType: outcome.EventType,
				Verdict:   outcome.Verdict,
			}
			if ref := strings.TrimSpace(outcome.GatewayReference); ref != "" {
				row.GatewayReference = &ref
			}
			if err := events.Insert(ctx, row); err != nil {
				if db.IsUniqueViolation(err, paymentEventConstraint) {
					return nil, errDuplicateEvent
				}
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment event")
			}
			return decideOutcome(order, outcome)
		},
	})
	if errors.Is(err, errDuplicateEvent) {
		order, ferr := e.orders.FindByID(ctx, outcome.OrderID)
		if ferr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ferr, "load order")
		}
		return &Result{Order: order, Duplicate: true}, nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		e.recordRefusal(ctx, outcome, err)
	}
	return result, err
}

// recordRefusal keeps the refused outcome in payment_events and the audit
// trail. The refused transaction rolled back, so this runs in its own. A
// refused capture leaves money at the gateway for an order that will not
// settle, and an admin has to refund it.
func (e *Engine) recordRefusal(ctx context.Context, outcome Outcome, cause error) {
	reason := ConflictReason(cause)
	e.metrics.IncRefusedOutcome(string(outcome.Verdict), reason)

	err := e.store.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := e.orders.WithTx(tx).FindByID(ctx, outcome.OrderID)
		if err != nil {
			return err
		}
		row := &models.PaymentEvent{
			EventID:   outcome.RawEventID,
			OrderID:   order.ID,
			EventType: outcome.EventType,
			Verdict:   outcome.Verdict,
			Refused:   true,
		}
		if reason != "" {
			row.RefusalReason = &reason
		}
		note := fmt.Sprintf("%s refused: %s", outcome.Verdict, reason)
		if ref := strings.TrimSpace(outcome.GatewayReference); ref != "" {
			row.GatewayReference = &ref
			note += " (" + ref + ")"
		}
		if err := e.events.WithTx(tx).Insert(ctx, row); err != nil {
			if db.IsUniqueViolation(err, paymentEventConstraint) {
				return errDuplicateEvent
			}
			return err
		}
		orderID := order.ID
		_, err = e.audit.Record(ctx, tx, audit.Entry{
			OrderID:           &orderID,
			Action:            enums.AuditActionPaymentOutcomeRefused,
			Actor:             auth.Gateway(),
			FromStatus:        &order.Status,
			ToStatus:          &order.Status,
			FromPaymentStatus: &order.PaymentStatus,
			ToPaymentStatus:   &order.PaymentStatus,
			Note:              &note,
		})
		return err
	})
	if e.logg == nil || errors.Is(err, errDuplicateEvent) {
		return
	}
	logCtx := e.logg.WithFields(e.logg.WithOrderID(ctx, outcome.OrderID.String()), map[string]any{
		"event_id":          outcome.RawEventID,
		"verdict":           string(outcome.Verdict),
		"reason":            reason,
		"gateway_reference": outcome.GatewayReference,
	})
	if err != nil {
		e.logg.Error(logCtx, "failed to record refused payment outcome", err)
		return
	}
	if outcome.Verdict == enums.PaymentVerdictSucceeded {
		e.logg.Error(logCtx, "captured payment refused, refund required", cause)
	}
}

func decideOutcome(order *models.Order, outcome Outcome) (*plan, error) {
	current := order.PaymentStatus
	switch outcome.Verdict {
	case enums.PaymentVerdictSucceeded:
		if current.IsCaptured() {
			return nil, nil
		}
		target := enums.PaymentStatusPaid
		if order.Status == enums.OrderStatusCancelled {
			return nil, paymentConflict(order.ID, current, target, ReasonOrderCancelled)
		}
		if current == enums.PaymentStatusPendingVerification {
			return nil, paymentConflict(order.ID, current, target, ReasonManualNeedsApproval)
		}
		if !CanTransitionPayment(current, target) {
			return nil, paymentConflict(order.ID, current, target, ReasonPaymentFinal)
		}
		p := &plan{status: order.Status, payment: target}
		if ref := strings.TrimSpace(outcome.GatewayReference); ref != "" {
			p.paymentReference = &ref
		}
		return p, nil
	case enums.PaymentVerdictFailed:
		target := enums.PaymentStatusFailed
		if current == target {
			return nil, nil
		}
		if !CanTransitionPayment(current, target) {
			return nil, paymentConflict(order.ID, current, target, ReasonPaymentFinal)
		}
		return &plan{status: order.Status, payment: target}, nil
	default:
		return nil, nil
	}
}

// SetPaymentStatus moves the payment of an order. Targets already satisfied
// are no-ops; paid and completed satisfy each other.
func (e *Engine) SetPaymentStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.PaymentStatus) (*Result, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status").
			WithDetails(map[string]any{"status": string(target)})
	}
	return e.run(ctx, operation{
		action:  enums.AuditActionPaymentStatusSet,
		actor:   actor,
		orderID: orderID,
		decide: func(_ context.Context, _ *gorm.DB, order *models.Order) (*plan, error) {
			current := order.PaymentStatus
			if current == target || (current.IsCaptured() && target.IsCaptured()) {
				return nil, nil
			}
			if target == enums.PaymentStatusRefunded {
				return nil, paymentConflict(order.ID, current, target, ReasonRefundNeedsCancel)
			}
			if order.Status == enums.OrderStatusCancelled {
				return nil, paymentConflict(order.ID, current, target, ReasonOrderCancelled)
			}
			if !CanTransitionPayment(current, target) {
				return nil, paymentConflict(order.ID, current, target, ReasonInvalidTransition)
			}
			return &plan{status: order.Status, payment: target}, nil
		},
	})
}

// SetOrderStatus moves an order one step forward, or cancels it.
func (e *Engine) SetOrderStatus(ctx context.Context, actor auth.Actor, orderID uuid.UUID, target enums.OrderStatus) (*Result, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": string(target)})
	}
	if target == enums.OrderStatusCancelled {
		return e.cancel(ctx, actor, orderID, nil)
	}
	return e.run(ctx, operation{
		action:  enums.AuditActionOrderStatusSet,
		actor:   actor,
		orderID: orderID,
		decide: func(_ context.Context, _ *gorm.DB, order *models.Order) (*plan, error) {
			current := order.Status
			if current == target {
				return nil, nil
			}
			switch current {
			case enums.OrderStatusCancelled:
				return nil, orderConflict(order.ID, current, target, ReasonOrderCancelled)
			case enums.OrderStatusDelivered:
				return nil, orderConflict(order.ID, current, target, ReasonOrderDelivered)
			}
			if !CanTransitionOrder(current, target) {
				return nil, orderConflict(order.ID, current, target, ReasonInvalidTransition)
			}
			if target == enums.OrderStatusProcessing && !order.PaymentStatus.IsCaptured() {
				return nil, orderConflict(order.ID, current, target, ReasonPaymentNotCaptured)
			}
			return &plan{status: target, payment: order.PaymentStatus}, nil
		},
	})
}

// ForceRelease marks the payment captured and the order delivered in one
// step, skipping shipped. Every call is audited, including no-ops.
func (e *Engine) ForceRelease(ctx context.Context, actor auth.Actor, orderID uuid.UUID, note string) (*Result, error) {
	return e.run(ctx, operation{
		action:    enums.AuditActionForceRelease,
		actor:     actor,
		orderID:   orderID,
		note:      optionalNote(note),
		auditNoop: true,
		decide: func(_ context.Context, _ *gorm.DB, order *models.Order) (*plan, error) {
			if order.Status == enums.OrderStatusCancelled {
				return nil, orderConflict(order.ID, order.Status, enums.OrderStatusDelivered, ReasonOrderCancelled)
			}
			payment := order.PaymentStatus
			switch payment {
			case enums.PaymentStatusPaid, enums.PaymentStatusCompleted:
			case enums.PaymentStatusPending:
				payment = enums.PaymentStatusPaid
			case enums.PaymentStatusPendingVerification:
				payment = enums.PaymentStatusCompleted
			default:
				return nil, paymentConflict(order.ID, payment, enums.PaymentStatusPaid, ReasonPaymentFinal)
			}
			return &plan{status: enums.OrderStatusDelivered, payment: payment}, nil
		},
	})
}

// CancelAndRefund cancels the order and settles its payment in the same
// transaction: captured funds become refunded, undecided payments fail.
func (e *Engine) CancelAndRefund(ctx context.Context, actor auth.Actor, orderID uuid.UUID, reason string) (*Result, error) {
	return e.cancel(ctx, actor, orderID, optionalNote(reason))
}

func (e *Engine) cancel(ctx context.Context, actor auth.Actor, orderID uuid.UUID, note *string) (*Result, error) {
	return e.run(ctx, operation{
		action:  enums.AuditActionCancelRefund,
		actor:   actor,
		orderID: orderID,
		note:    note,
		decide: func(_ context.Context, _ *gorm.DB, order *models.Order) (*plan, error) {
			switch order.Status {
			case enums.OrderStatusCancelled:
				return nil, nil
			case enums.OrderStatusDelivered:
				return nil, orderConflict(order.ID, order.Status, enums.OrderStatusCancelled, ReasonOrderDelivered)
			}
			return &plan{status: enums.OrderStatusCancelled, payment: cancelledPaymentStatus(order.PaymentStatus)}, nil
		},
	})
}

func (e *Engine) run(ctx context.Context, op operation) (*Result, error) {
	if op.orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var result *Result
	var from models.Order
	err := e.store.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.orders.WithTx(tx)
		order, err := repo.FindForUpdate(ctx, op.orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		from = *order

		next, err := op.decide(ctx, tx, order)
		if err != nil {
			return err
		}
		if next == nil || (next.status == order.Status && next.payment == order.PaymentStatus) {
			if op.auditNoop {
				if err := e.recordAudit(ctx, tx, op, from, order); err != nil {
					return err
				}
			}
			result = &Result{Order: order}
			return nil
		}
		if err := checkInvariants(order.ID, next.status, next.payment); err != nil {
			return err
		}

		updates := map[string]any{
			"status":         next.status,
			"payment_status": next.payment,
		}
		if next.paymentReference != nil && order.PaymentReference == nil {
			updates["payment_reference"] = *next.paymentReference
			order.PaymentReference = next.paymentReference
		}
		writtenAt, applied, err := repo.UpdateVersioned(ctx, order.ID, order.Version, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}
		if !applied {
			return orderConflict(order.ID, order.Status, next.status, ReasonConcurrentUpdate)
		}
		order.Status = next.status
		order.PaymentStatus = next.payment
		order.Version++
		order.UpdatedAt = writtenAt

		if err := e.recordAudit(ctx, tx, op, from, order); err != nil {
			return err
		}
		if err := e.outbox.Emit(ctx, tx, statusChangedEvent(op, from, order)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue status event")
		}
		result = &Result{Order: order, Changed: true}
		return nil
	})
	e.observe(ctx, op, from, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) recordAudit(ctx context.Context, tx *gorm.DB, op operation, from models.Order, to *models.Order) error {
	orderID := to.ID
	entry := audit.Entry{
		OrderID:           &orderID,
		Action:            op.action,
		Actor:             op.actor,
		FromStatus:        &from.Status,
		ToStatus:          &to.Status,
		FromPaymentStatus: &from.PaymentStatus,
		ToPaymentStatus:   &to.PaymentStatus,
		Note:              op.note,
	}
	if _, err := e.audit.Record(ctx, tx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit")
	}
	return nil
}

func statusChangedEvent(op operation, from models.Order, to *models.Order) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   to.ID,
		Actor: &outbox.ActorRef{
			UserID: op.actor.UserID,
			Role:   string(op.actor.Role),
			Source: string(op.actor.Source),
		},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:           to.ID,
			OrderNumber:       to.OrderNumber,
			BuyerUserID:       to.BuyerUserID,
			Action:            op.action,
			FromStatus:        from.Status,
			ToStatus:          to.Status,
			FromPaymentStatus: from.PaymentStatus,
			ToPaymentStatus:   to.PaymentStatus,
			OrderVersion:      to.Version,
			ChangedAt:         to.UpdatedAt,
		},
	}
}

func (e *Engine) observe(ctx context.Context, op operation, from models.Order, result *Result, err error) {
	outcome := "applied"
	switch {
	case errors.Is(err, errDuplicateEvent):
		outcome = "duplicate"
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		outcome = "conflict"
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound), pkgerrors.IsCode(err, pkgerrors.CodeValidation):
		outcome = "rejected"
	case err != nil:
		outcome = "error"
	case result != nil && !result.Changed:
		outcome = "noop"
	}
	e.metrics.IncTransition(string(op.action), outcome)

	if e.logg == nil {
		return
	}
	fields := map[string]any{
		"action":  string(op.action),
		"outcome": outcome,
		"source":  string(op.actor.Source),
	}
	if from.ID != uuid.Nil {
		fields["from_status"] = string(from.Status)
		fields["from_payment_status"] = string(from.PaymentStatus)
	}
	if result != nil && result.Order != nil {
		fields["to_status"] = string(result.Order.Status)
		fields["to_payment_status"] = string(result.Order.PaymentStatus)
	}
	if reason := ConflictReason(err); reason != "" {
		fields["reason"] = reason
	}
	logCtx := e.logg.WithFields(e.logg.WithOrderID(ctx, op.orderID.String()), fields)
	switch outcome {
	case "applied":
		e.logg.Info(logCtx, "settlement transition applied")
	case "error":
		e.logg.Error(logCtx, "settlement transition failed", err)
	case "conflict", "rejected":
		e.logg.Warn(logCtx, "settlement transition refused")
	default:
		e.logg.Debug(logCtx, "settlement transition skipped")
	}
}

func optionalNote(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
