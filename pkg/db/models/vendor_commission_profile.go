package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VendorCommissionProfile overrides the platform default commission for one vendor.
type VendorCommissionProfile struct {
	VendorID       uuid.UUID       `gorm:"column:vendor_id;type:uuid;primaryKey"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	UpdatedBy      *uuid.UUID      `gorm:"column:updated_by;type:uuid"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
