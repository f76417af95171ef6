package orders

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindForUpdate loads the order and its items holding a row lock on the
// order until the surrounding transaction ends. Dialects without row locks
// ignore the clause.
func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var order models.Order
	if err := query.Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}

	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// UpdateVersioned applies updates only when the stored version still equals
// expectedVersion and bumps the version. It returns the updated_at value it
// wrote, and false when another writer got there first.
func (r *repository) UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int, updates map[string]any) (time.Time, bool, error) {
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	writtenAt := time.Now().UTC()
	values["version"] = expectedVersion + 1
	values["updated_at"] = writtenAt

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return time.Time{}, false, res.Error
	}
	if res.RowsAffected != 1 {
		return time.Time{}, false, nil
	}
	return writtenAt, true, nil
}

// AdvanceSessionAttempt retires the hosted session attempt current so the
// next session call uses a fresh gateway idempotency key. It is a no-op when
// another caller already advanced it.
func (r *repository) AdvanceSessionAttempt(ctx context.Context, id uuid.UUID, current int) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND session_attempt = ?", id, current).
		Update("session_attempt", current+1).Error
}

// UpdatePaymentFields records a payment reference or hosted session without
// touching status or version.
func (r *repository) UpdatePaymentFields(ctx context.Context, id uuid.UUID, fields PaymentFields) error {
	updates := fields.updates()
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Order{})
	query = applyListFilters(query, filters)
	if cursor != nil {
		query = query.Where("(orders.created_at < ?) OR (orders.created_at = ? AND orders.id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Preload("Items").
		Order("orders.created_at DESC").
		Order("orders.id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	nextCursor := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		nextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	summaries := make([]OrderSummary, 0, len(rows))
	for _, order := range rows {
		summaries = append(summaries, toSummary(order))
	}
	return &OrderList{Orders: summaries, NextCursor: nextCursor}, nil
}

func applyListFilters(query *gorm.DB, filters ListFilters) *gorm.DB {
	if filters.Status != nil {
		query = query.Where("orders.status = ?", *filters.Status)
	}
	if filters.PaymentStatus != nil {
		query = query.Where("orders.payment_status = ?", *filters.PaymentStatus)
	}
	if filters.PaymentMethod != nil {
		query = query.Where("orders.payment_method = ?", *filters.PaymentMethod)
	}
	if filters.BuyerUserID != nil {
		query = query.Where("orders.buyer_user_id = ?", *filters.BuyerUserID)
	}
	if filters.VendorID != nil {
		query = query.Where("EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = orders.id AND oi.vendor_id = ?)", *filters.VendorID)
	}
	if filters.DateFrom != nil {
		query = query.Where("orders.created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("orders.created_at <= ?", *filters.DateTo)
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		query = query.Where("(orders.order_number LIKE ? OR orders.customer_phone = ?)", strings.ToUpper(q)+"%", q)
	}
	return query
}

func toSummary(order models.Order) OrderSummary {
	items := 0
	for _, item := range order.Items {
		items += item.Quantity
	}
	return OrderSummary{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		BuyerUserID:   order.BuyerUserID,
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
		Total:         order.Total,
		Currency:      order.Currency,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		TotalItems:    items,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

// ListValidSales returns every order whose payment is captured and which is
// not cancelled, with items loaded.
func (r *repository) ListValidSales(ctx context.Context) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("payment_status IN ?", []enums.PaymentStatus{enums.PaymentStatusPaid, enums.PaymentStatusCompleted}).
		Where("status <> ?", enums.OrderStatusCancelled).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUpdatedSince returns orders positioned after the (updated_at, id)
// cursor, oldest change first. Orders sharing the cursor's timestamp are
// ordered by id so a page boundary never skips one.
func (r *repository) ListUpdatedSince(ctx context.Context, after ChangeCursor, limit int) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Preload("Items").
		Where("(updated_at > ?) OR (updated_at = ? AND id > ?)", after.UpdatedAt, after.UpdatedAt, after.ID).
		Order("updated_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListForExport returns the filtered orders with items, newest first. A
// non-positive limit returns every match.
func (r *repository) ListForExport(ctx context.Context, filters ListFilters, limit int) ([]models.Order, error) {
	query := applyListFilters(r.db.WithContext(ctx).Model(&models.Order{}), filters).
		Preload("Items").
		Order("orders.created_at DESC").
		Order("orders.id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.Order
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
