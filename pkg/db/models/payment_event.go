package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// PaymentEvent records a gateway event received for an order. EventID is
// unique. A refused event was not applied; RefusalReason names the conflict.
type PaymentEvent struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	EventID          string               `gorm:"column:event_id;not null;uniqueIndex:ux_payment_events_event_id"`
	OrderID          uuid.UUID            `gorm:"column:order_id;type:uuid;not null;index"`
	EventType        string               `gorm:"column:event_type;not null"`
	Verdict          enums.PaymentVerdict `gorm:"column:verdict;not null"`
	GatewayReference *string              `gorm:"column:gateway_reference"`
	Refused          bool                 `gorm:"column:refused;not null;default:false"`
	RefusalReason    *string              `gorm:"column:refusal_reason"`
	ReceivedAt       time.Time            `gorm:"column:received_at;autoCreateTime"`
}

// BeforeCreate assigns a primary key when the caller did not.
func (e *PaymentEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
