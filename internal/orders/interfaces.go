package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

// Repository defines persistence operations for the orders and order_items tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateItems(ctx context.Context, items []models.OrderItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int, updates map[string]any) (time.Time, bool, error)
	AdvanceSessionAttempt(ctx context.Context, id uuid.UUID, current int) error
	UpdatePaymentFields(ctx context.Context, id uuid.UUID, fields PaymentFields) error
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error)
	ListValidSales(ctx context.Context) ([]models.Order, error)
	ListUpdatedSince(ctx context.Context, after ChangeCursor, limit int) ([]models.Order, error)
	ListForExport(ctx context.Context, filters ListFilters, limit int) ([]models.Order, error)
}
