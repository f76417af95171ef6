package settlement

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
)

const paymentEventConstraint = "ux_payment_events_event_id"

// PaymentEventRepository persists applied gateway events.
type PaymentEventRepository interface {
	WithTx(tx *gorm.DB) PaymentEventRepository
	Exists(ctx context.Context, eventID string) (bool, error)
	Insert(ctx context.Context, event *models.PaymentEvent) error
}

type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository returns a repository bound to db.
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

func (r *paymentEventRepository) WithTx(tx *gorm.DB) PaymentEventRepository {
	if tx == nil {
		return r
	}
	return &paymentEventRepository{db: tx}
}

func (r *paymentEventRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var row models.PaymentEvent
	err := r.db.WithContext(ctx).Select("id").Where("event_id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *paymentEventRepository) Insert(ctx context.Context, event *models.PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}
