package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Order is one purchase transaction. Rows are never deleted; cancellation is a status.
type Order struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber       string              `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerUserID       *uuid.UUID          `gorm:"column:buyer_user_id;type:uuid"`
	CustomerName      string              `gorm:"column:customer_name;not null"`
	CustomerEmail     *string             `gorm:"column:customer_email"`
	CustomerPhone     string              `gorm:"column:customer_phone;not null"`
	DeliveryAddress   string              `gorm:"column:delivery_address;not null"`
	DeliveryCity      string              `gorm:"column:delivery_city;not null"`
	Subtotal          int64               `gorm:"column:subtotal;not null"`
	Total             int64               `gorm:"column:total;not null"`
	Currency          string              `gorm:"column:currency;not null"`
	Status            enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus     enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	PaymentMethod     enums.PaymentMethod `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentReference  *string             `gorm:"column:payment_reference"`
	CheckoutSessionID *string             `gorm:"column:checkout_session_id"`
	CheckoutURL       *string             `gorm:"column:checkout_url"`
	SessionAttempt    int                 `gorm:"column:session_attempt;not null;default:0"`
	Version           int                 `gorm:"column:version;not null;default:1"`
	Items             []OrderItem         `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns a primary key when the caller did not.
func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsValidSale reports whether the order counts toward settlement aggregates.
func (o Order) IsValidSale() bool {
	return o.PaymentStatus.IsCaptured() && o.Status != enums.OrderStatusCancelled
}
