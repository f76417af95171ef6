package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderItem snapshots one cart line at checkout time. Immutable after insert.
type OrderItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName     string    `gorm:"column:product_name;not null"`
	ProductImageURL *string   `gorm:"column:product_image_url"`
	VendorID        uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	UnitPrice       int64     `gorm:"column:unit_price;not null"`
	Quantity        int       `gorm:"column:quantity;not null"`
	LineTotal       int64     `gorm:"column:line_total;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns a primary key when the caller did not.
func (i *OrderItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
