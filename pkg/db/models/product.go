package models

import "github.com/google/uuid"

// Product is the catalog read model consumed by checkout.
type Product struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	VendorID  *uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	Name      string     `gorm:"column:name;not null"`
	ImageURL  *string    `gorm:"column:image_url"`
	UnitPrice int64      `gorm:"column:unit_price;not null"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
}
