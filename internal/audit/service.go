// Package audit keeps the append-only trail of who changed an order and when.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Recorder writes audit entries inside the caller's transaction.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.OrderAuditEvent, error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error)
}

// Entry captures one state change. Status pointers are nil when that side of
// the order did not move.
type Entry struct {
	OrderID           *uuid.UUID
	VendorID          *uuid.UUID
	Action            enums.AuditAction
	Actor             auth.Actor
	FromStatus        *enums.OrderStatus
	ToStatus          *enums.OrderStatus
	FromPaymentStatus *enums.PaymentStatus
	ToPaymentStatus   *enums.PaymentStatus
	Note              *string
}

type service struct {
	repo Repository
}

// NewService wires an audit recorder with the provided repository.
func NewService(repo Repository) (Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, entry Entry) (*models.OrderAuditEvent, error) {
	if entry.OrderID == nil && entry.VendorID == nil {
		return nil, fmt.Errorf("audit entry needs an order or vendor id")
	}
	if entry.Action == "" {
		return nil, fmt.Errorf("audit action is required")
	}
	source := entry.Actor.Source
	if source == "" {
		source = enums.ActorSourceSystem
	}

	event := &models.OrderAuditEvent{
		OrderID:           entry.OrderID,
		VendorID:          entry.VendorID,
		Action:            entry.Action,
		ActorUserID:       entry.Actor.UserID,
		ActorRole:         string(entry.Actor.Role),
		Source:            source,
		FromStatus:        entry.FromStatus,
		ToStatus:          entry.ToStatus,
		FromPaymentStatus: entry.FromPaymentStatus,
		ToPaymentStatus:   entry.ToPaymentStatus,
		Note:              entry.Note,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderAuditEvent, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.ListByOrderID(ctx, orderID)
}
