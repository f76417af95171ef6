package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// OrderAuditEvent is an append-only record of who changed an order and when.
type OrderAuditEvent struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	VendorID          *uuid.UUID           `gorm:"column:vendor_id;type:uuid"`
	Action            enums.AuditAction    `gorm:"column:action;not null"`
	ActorUserID       *uuid.UUID           `gorm:"column:actor_user_id;type:uuid"`
	ActorRole         string               `gorm:"column:actor_role"`
	Source            enums.ActorSource    `gorm:"column:source;not null"`
	FromStatus        *enums.OrderStatus   `gorm:"column:from_status"`
	ToStatus          *enums.OrderStatus   `gorm:"column:to_status"`
	FromPaymentStatus *enums.PaymentStatus `gorm:"column:from_payment_status"`
	ToPaymentStatus   *enums.PaymentStatus `gorm:"column:to_payment_status"`
	Note              *string              `gorm:"column:note"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns a primary key when the caller did not.
func (e *OrderAuditEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
