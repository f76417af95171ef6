package settlement

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// Conflict reasons surfaced to admins in error details.
const (
	ReasonInvalidTransition   = "invalid_transition"
	ReasonPaymentNotCaptured  = "payment_not_captured"
	ReasonOrderCancelled      = "order_cancelled"
	ReasonOrderDelivered      = "order_delivered"
	ReasonPaymentFinal        = "payment_final"
	ReasonRefundNeedsCancel   = "refund_requires_cancellation"
	ReasonConcurrentUpdate    = "concurrent_update"
	ReasonInvariantViolation  = "invariant_violation"
	ReasonManualNeedsApproval = "manual_payment_requires_admin"
	ReasonNotAwaitingPayment  = "not_awaiting_payment"
)

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered, enums.OrderStatusCancelled},
}

var paymentTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending:             {enums.PaymentStatusPaid, enums.PaymentStatusCompleted, enums.PaymentStatusFailed},
	enums.PaymentStatusPendingVerification: {enums.PaymentStatusCompleted, enums.PaymentStatusFailed},
	enums.PaymentStatusPaid:                {enums.PaymentStatusRefunded},
	enums.PaymentStatusCompleted:           {enums.PaymentStatusRefunded},
}

// CanTransitionOrder reports whether from -> to is a single allowed step.
func CanTransitionOrder(from, to enums.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether from -> to is a single allowed step.
func CanTransitionPayment(from, to enums.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConflictDetails explains why a transition was refused.
type ConflictDetails struct {
	OrderID uuid.UUID `json:"order_id"`
	Field   string    `json:"field"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Reason  string    `json:"reason"`
}

func orderConflict(orderID uuid.UUID, from, to enums.OrderStatus, reason string) error {
	return conflictError(ConflictDetails{OrderID: orderID, Field: "status", From: string(from), To: string(to), Reason: reason})
}

func paymentConflict(orderID uuid.UUID, from, to enums.PaymentStatus, reason string) error {
	return conflictError(ConflictDetails{OrderID: orderID, Field: "payment_status", From: string(from), To: string(to), Reason: reason})
}

// PaymentConflict builds the STATE_CONFLICT error for a refused payment move.
func PaymentConflict(orderID uuid.UUID, from, to enums.PaymentStatus, reason string) error {
	return paymentConflict(orderID, from, to, reason)
}

func conflictError(details ConflictDetails) error {
	msg := fmt.Sprintf("cannot move %s from %s to %s: %s", details.Field, details.From, details.To, details.Reason)
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).WithDetails(details)
}

// ConflictReason extracts the reason of a transition conflict, or "".
func ConflictReason(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		return ""
	}
	if details, ok := typed.Details().(ConflictDetails); ok {
		return details.Reason
	}
	return ""
}

// checkInvariants is the last gate before a write: fulfilment never runs on
// unconfirmed payment and a cancelled order never shows captured funds.
func checkInvariants(orderID uuid.UUID, status enums.OrderStatus, payment enums.PaymentStatus) error {
	switch status {
	case enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered:
		if !payment.IsCaptured() {
			return orderConflict(orderID, status, status, ReasonPaymentNotCaptured)
		}
	case enums.OrderStatusCancelled:
		if payment != enums.PaymentStatusFailed && payment != enums.PaymentStatusRefunded {
			return paymentConflict(orderID, payment, payment, ReasonInvariantViolation)
		}
	}
	return nil
}

// cancelledPaymentStatus is where a payment lands when its order is cancelled.
func cancelledPaymentStatus(current enums.PaymentStatus) enums.PaymentStatus {
	switch {
	case current.IsCaptured():
		return enums.PaymentStatusRefunded
	case current == enums.PaymentStatusRefunded:
		return enums.PaymentStatusRefunded
	default:
		return enums.PaymentStatusFailed
	}
}
