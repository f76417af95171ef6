package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

func seedOrder(t *testing.T, repo Repository, number string, createdAt time.Time, status enums.OrderStatus, payment enums.PaymentStatus, vendorID uuid.UUID) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:              uuid.New(),
		OrderNumber:     number,
		CustomerName:    "Awa",
		CustomerPhone:   "+221770000000",
		DeliveryAddress: "12 Rue Carnot",
		DeliveryCity:    "Dakar",
		Subtotal:        200000,
		Total:           200000,
		Currency:        "xof",
		Status:          status,
		PaymentStatus:   payment,
		PaymentMethod:   enums.PaymentMethodHosted,
		Version:         1,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	ctx := context.Background()
	_, err := repo.Create(ctx, order)
	require.NoError(t, err)
	require.NoError(t, repo.CreateItems(ctx, []models.OrderItem{{
		OrderID:     order.ID,
		ProductID:   uuid.New(),
		ProductName: "Basket",
		VendorID:    vendorID,
		UnitPrice:   100000,
		Quantity:    2,
		LineTotal:   200000,
	}}))
	return order
}

func TestRepositoryFindByIDLoadsItems(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	vendor := uuid.New()
	order := seedOrder(t, repo, "ORD-20260101-AAAAAA", time.Now().UTC(), enums.OrderStatusPending, enums.PaymentStatusPending, vendor)

	found, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 1)
	assert.Equal(t, vendor, found.Items[0].VendorID)
	assert.Equal(t, int64(200000), found.Total)
	assert.Equal(t, 1, found.Version)

	_, err = repo.FindByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryUpdateVersioned(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	order := seedOrder(t, repo, "ORD-20260101-BBBBBB", time.Now().UTC(), enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())
	ctx := context.Background()

	writtenAt, ok, err := repo.UpdateVersioned(ctx, order.ID, 1, map[string]any{"payment_status": enums.PaymentStatusPaid})
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, writtenAt.IsZero())

	_, ok, err = repo.UpdateVersioned(ctx, order.ID, 1, map[string]any{"payment_status": enums.PaymentStatusFailed})
	require.NoError(t, err)
	require.False(t, ok, "stale version must not write")

	var locked *models.Order
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		locked, err = repo.WithTx(tx).FindForUpdate(ctx, order.ID)
		return err
	}))
	assert.Equal(t, enums.PaymentStatusPaid, locked.PaymentStatus)
	assert.Equal(t, 2, locked.Version)
	assert.True(t, writtenAt.Equal(locked.UpdatedAt), "stored %s, returned %s", locked.UpdatedAt, writtenAt)
	assert.Len(t, locked.Items, 1)
}

func TestRepositoryUpdatePaymentFieldsKeepsVersion(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	order := seedOrder(t, repo, "ORD-20260101-CCCCCC", time.Now().UTC(), enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())
	ctx := context.Background()

	sessionID := "cs_test_1"
	url := "https://checkout.stripe.test/cs_test_1"
	require.NoError(t, repo.UpdatePaymentFields(ctx, order.ID, PaymentFields{CheckoutSessionID: &sessionID, CheckoutURL: &url}))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, found.CheckoutSessionID)
	assert.Equal(t, sessionID, *found.CheckoutSessionID)
	assert.Equal(t, url, *found.CheckoutURL)
	assert.Nil(t, found.PaymentReference)
	assert.Equal(t, 1, found.Version)

	err = repo.UpdatePaymentFields(ctx, uuid.New(), PaymentFields{CheckoutURL: &url})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListPaginatesNewestFirst(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	vendor := uuid.New()
	first := seedOrder(t, repo, "ORD-20260201-AAAAAA", base, enums.OrderStatusPending, enums.PaymentStatusPending, vendor)
	second := seedOrder(t, repo, "ORD-20260201-BBBBBB", base.Add(time.Minute), enums.OrderStatusProcessing, enums.PaymentStatusPaid, vendor)
	third := seedOrder(t, repo, "ORD-20260201-CCCCCC", base.Add(2*time.Minute), enums.OrderStatusCancelled, enums.PaymentStatusFailed, uuid.New())

	ctx := context.Background()
	page, err := repo.List(ctx, pagination.Params{Limit: 2}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	assert.Equal(t, third.ID, page.Orders[0].ID)
	assert.Equal(t, second.ID, page.Orders[1].ID)
	assert.Equal(t, 2, page.Orders[0].TotalItems)
	require.NotEmpty(t, page.NextCursor)

	next, err := repo.List(ctx, pagination.Params{Limit: 2, Cursor: page.NextCursor}, ListFilters{})
	require.NoError(t, err)
	require.Len(t, next.Orders, 1)
	assert.Equal(t, first.ID, next.Orders[0].ID)
	assert.Empty(t, next.NextCursor)

	status := enums.PaymentStatusPaid
	filtered, err := repo.List(ctx, pagination.Params{}, ListFilters{PaymentStatus: &status})
	require.NoError(t, err)
	require.Len(t, filtered.Orders, 1)
	assert.Equal(t, second.ID, filtered.Orders[0].ID)

	byVendor, err := repo.List(ctx, pagination.Params{}, ListFilters{VendorID: &vendor})
	require.NoError(t, err)
	assert.Len(t, byVendor.Orders, 2)

	byNumber, err := repo.List(ctx, pagination.Params{}, ListFilters{Query: "ord-20260201-c"})
	require.NoError(t, err)
	require.Len(t, byNumber.Orders, 1)
	assert.Equal(t, third.ID, byNumber.Orders[0].ID)
}

func TestRepositoryListValidSales(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	now := time.Now().UTC()
	vendor := uuid.New()
	paid := seedOrder(t, repo, "ORD-1", now, enums.OrderStatusProcessing, enums.PaymentStatusPaid, vendor)
	completed := seedOrder(t, repo, "ORD-2", now.Add(time.Second), enums.OrderStatusDelivered, enums.PaymentStatusCompleted, vendor)
	seedOrder(t, repo, "ORD-3", now.Add(2*time.Second), enums.OrderStatusPending, enums.PaymentStatusPending, vendor)
	seedOrder(t, repo, "ORD-4", now.Add(3*time.Second), enums.OrderStatusCancelled, enums.PaymentStatusRefunded, vendor)

	rows, err := repo.ListValidSales(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, paid.ID, rows[0].ID)
	assert.Equal(t, completed.ID, rows[1].ID)
	assert.Len(t, rows[0].Items, 1)
}

func TestRepositoryListUpdatedSince(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	seedOrder(t, repo, "ORD-OLD", base, enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())
	recent := seedOrder(t, repo, "ORD-NEW", base.Add(48*time.Hour), enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())

	rows, err := repo.ListUpdatedSince(context.Background(), ChangeCursor{UpdatedAt: base.Add(time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, recent.ID, rows[0].ID)
}

func TestRepositoryListUpdatedSincePagesThroughSharedTimestamp(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, number := range []string{"ORD-TIE-1", "ORD-TIE-2", "ORD-TIE-3"} {
		seedOrder(t, repo, number, at, enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())
	}
	ctx := context.Background()

	first, err := repo.ListUpdatedSince(ctx, ChangeCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	last := first[1]

	rest, err := repo.ListUpdatedSince(ctx, ChangeCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1, "the third order shares the boundary timestamp")

	seen := map[uuid.UUID]bool{first[0].ID: true, first[1].ID: true, rest[0].ID: true}
	assert.Len(t, seen, 3)
}

func TestRepositoryAdvanceSessionAttempt(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	order := seedOrder(t, repo, "ORD-20260101-SESSN1", time.Now().UTC(), enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())
	ctx := context.Background()

	require.NoError(t, repo.AdvanceSessionAttempt(ctx, order.ID, 0))
	// a second caller holding the stale attempt does not skip a key
	require.NoError(t, repo.AdvanceSessionAttempt(ctx, order.ID, 0))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.SessionAttempt)
	assert.Equal(t, 1, found.Version, "session attempts do not touch the version")
}

func TestRepositoryListForExportFiltersByVendor(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	vendor := uuid.New()
	first := seedOrder(t, repo, "ORD-20260301-AAAAAA", base, enums.OrderStatusPending, enums.PaymentStatusPending, vendor)
	second := seedOrder(t, repo, "ORD-20260302-BBBBBB", base.Add(24*time.Hour), enums.OrderStatusShipped, enums.PaymentStatusPaid, vendor)
	seedOrder(t, repo, "ORD-20260303-CCCCCC", base.Add(48*time.Hour), enums.OrderStatusPending, enums.PaymentStatusPending, uuid.New())

	rows, err := repo.ListForExport(context.Background(), ListFilters{VendorID: &vendor}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, first.ID, rows[1].ID)
	require.Len(t, rows[0].Items, 1)

	limited, err := repo.ListForExport(context.Background(), ListFilters{}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
