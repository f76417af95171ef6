package vendors

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
)

// Repository manages vendor_commission_profiles rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, vendorID uuid.UUID) (*models.VendorCommissionProfile, error)
	ListByVendorIDs(ctx context.Context, vendorIDs []uuid.UUID) ([]models.VendorCommissionProfile, error)
	Upsert(ctx context.Context, profile *models.VendorCommissionProfile) error
	TouchOrders(ctx context.Context, vendorID uuid.UUID, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission profile repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil, nil when the vendor has no override.
func (r *repository) Find(ctx context.Context, vendorID uuid.UUID) (*models.VendorCommissionProfile, error) {
	var profile models.VendorCommissionProfile
	err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListByVendorIDs returns the overrides for vendorIDs; an empty slice lists every override.
func (r *repository) ListByVendorIDs(ctx context.Context, vendorIDs []uuid.UUID) ([]models.VendorCommissionProfile, error) {
	query := r.db.WithContext(ctx)
	if len(vendorIDs) > 0 {
		query = query.Where("vendor_id IN ?", vendorIDs)
	}
	var rows []models.VendorCommissionProfile
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Upsert(ctx context.Context, profile *models.VendorCommissionProfile) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vendor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"commission_rate", "updated_by", "updated_at"}),
		}).
		Create(profile).Error
}

// TouchOrders stamps updated_at on every order carrying a line of vendorID so
// incremental exports pick up the recomputed commission. Version is untouched.
func (r *repository) TouchOrders(ctx context.Context, vendorID uuid.UUID, at time.Time) (int64, error) {
	items := r.db.Model(&models.OrderItem{}).Select("order_id").Where("vendor_id = ?", vendorID)
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN (?)", items).
		Update("updated_at", at.UTC())
	return res.RowsAffected, res.Error
}
