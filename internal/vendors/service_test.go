package vendors

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *outbox.Repository, audit.Recorder) {
	t.Helper()
	client, conn := dbtest.Client(t)
	recorder, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(conn)
	svc, err := NewService(NewRepository(conn), client, recorder, outbox.NewService(outboxRepo, nil), decimal.NewFromInt(10), nil)
	require.NoError(t, err)
	return svc, outboxRepo, recorder
}

func adminActor() auth.Actor {
	id := uuid.New()
	return auth.Actor{UserID: &id, Role: enums.RoleAdmin, Source: enums.ActorSourceAdmin}
}

func TestValidateRate(t *testing.T) {
	for _, ok := range []string{"0", "15", "99.5", "100"} {
		require.NoError(t, ValidateRate(decimal.RequireFromString(ok)), ok)
	}
	for _, bad := range []string{"-0.01", "100.01", "250"} {
		err := ValidateRate(decimal.RequireFromString(bad))
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), bad)
	}
}

func TestRateBookFallsBackToDefault(t *testing.T) {
	vendor := uuid.New()
	book := NewRateBook(decimal.NewFromInt(10), map[uuid.UUID]decimal.Decimal{vendor: decimal.NewFromInt(15)})

	rate, override := book.RateFor(vendor)
	require.True(t, override)
	require.True(t, rate.Equal(decimal.NewFromInt(15)))

	rate, override = book.RateFor(uuid.New())
	require.False(t, override)
	require.True(t, rate.Equal(decimal.NewFromInt(10)))
}

func TestSetRateAuditsAndEmits(t *testing.T) {
	svc, outboxRepo, _ := newTestService(t)
	ctx := context.Background()
	vendor := uuid.New()

	before, err := svc.GetRate(ctx, vendor)
	require.NoError(t, err)
	require.True(t, before.IsDefault)

	_, err = svc.SetRate(ctx, adminActor(), vendor, decimal.NewFromInt(15))
	require.NoError(t, err)
	_, err = svc.SetRate(ctx, adminActor(), vendor, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	// Same value again is a no-op.
	_, err = svc.SetRate(ctx, adminActor(), vendor, decimal.RequireFromString("12.50"))
	require.NoError(t, err)

	after, err := svc.GetRate(ctx, vendor)
	require.NoError(t, err)
	require.False(t, after.IsDefault)
	require.True(t, after.Rate.Equal(decimal.RequireFromString("12.5")))

	events, err := outboxRepo.ListForAggregate(ctx, vendor)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, enums.EventVendorCommissionChanged, events[0].EventType)

	book, err := svc.RateBook(ctx, nil, []uuid.UUID{vendor})
	require.NoError(t, err)
	rate, _ := book.RateFor(vendor)
	require.True(t, rate.Equal(decimal.RequireFromString("12.5")))
}

func TestSetRateRejectsNonAdminAndOutOfRange(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetRate(ctx, auth.Guest(), uuid.New(), decimal.NewFromInt(5))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.SetRate(ctx, adminActor(), uuid.New(), decimal.NewFromInt(101))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewServiceRejectsInvalidDefault(t *testing.T) {
	client, conn := dbtest.Client(t)
	recorder, _ := audit.NewService(audit.NewRepository(conn))
	_, err := NewService(NewRepository(conn), client, recorder, outbox.NewService(outbox.NewRepository(conn), nil), decimal.NewFromInt(120), nil)
	require.Error(t, err)
}

func TestSetRateTouchesOrdersOfVendor(t *testing.T) {
	client, conn := dbtest.Client(t)
	recorder, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), client, recorder, outbox.NewService(outbox.NewRepository(conn), nil), decimal.NewFromInt(10), nil)
	require.NoError(t, err)
	ctx := context.Background()

	stale := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	vendor, other := uuid.New(), uuid.New()
	seed := func(number string, vendorID uuid.UUID) uuid.UUID {
		order := models.Order{
			ID:              uuid.New(),
			OrderNumber:     number,
			CustomerName:    "Awa",
			CustomerPhone:   "+221770000000",
			DeliveryAddress: "12 Rue Carnot",
			DeliveryCity:    "Dakar",
			Subtotal:        100000,
			Total:           100000,
			Currency:        "xof",
			Status:          enums.OrderStatusDelivered,
			PaymentStatus:   enums.PaymentStatusPaid,
			PaymentMethod:   enums.PaymentMethodHosted,
			Version:         3,
			CreatedAt:       stale,
			UpdatedAt:       stale,
		}
		require.NoError(t, conn.Create(&order).Error)
		require.NoError(t, conn.Create(&models.OrderItem{
			OrderID:     order.ID,
			ProductID:   uuid.New(),
			ProductName: "Basket",
			VendorID:    vendorID,
			UnitPrice:   100000,
			Quantity:    1,
			LineTotal:   100000,
		}).Error)
		return order.ID
	}
	touched := seed("ORD-1", vendor)
	untouched := seed("ORD-2", other)

	_, err = svc.SetRate(ctx, adminActor(), vendor, decimal.NewFromInt(15))
	require.NoError(t, err)

	var got models.Order
	require.NoError(t, conn.First(&got, "id = ?", touched).Error)
	require.True(t, got.UpdatedAt.After(stale))
	require.Equal(t, 3, got.Version)

	require.NoError(t, conn.First(&got, "id = ?", untouched).Error)
	require.True(t, got.UpdatedAt.Equal(stale))
}
