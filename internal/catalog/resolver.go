// Package catalog resolves cart product references against the catalog read model.
package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
)

// Product is what checkout needs to snapshot a cart line.
type Product struct {
	ID        uuid.UUID
	VendorID  uuid.UUID
	Name      string
	ImageURL  *string
	UnitPrice int64
}

// Resolver looks up sellable products by id.
type Resolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error)
}

type repository struct {
	db *gorm.DB
}

// NewResolver returns a Resolver backed by the products table.
func NewResolver(db *gorm.DB) Resolver {
	return &repository{db: db}
}

// Resolve returns the active products among ids that have a vendor. Ids that
// are unknown, inactive or vendorless are absent from the result.
func (r *repository) Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	out := make(map[uuid.UUID]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.Product
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("is_active = ?", true).
		Where("vendor_id IS NOT NULL").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		if row.VendorID == nil || *row.VendorID == uuid.Nil {
			continue
		}
		out[row.ID] = Product{
			ID:        row.ID,
			VendorID:  *row.VendorID,
			Name:      row.Name,
			ImageURL:  row.ImageURL,
			UnitPrice: row.UnitPrice,
		}
	}
	return out, nil
}
