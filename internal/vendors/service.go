package vendors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/audit"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Rate is the effective commission rate of one vendor.
type Rate struct {
	VendorID  uuid.UUID       `json:"vendor_id"`
	Rate      decimal.Decimal `json:"rate"`
	IsDefault bool            `json:"is_default"`
}

// Service reads and overrides vendor commission rates.
type Service interface {
	DefaultRate() decimal.Decimal
	RateBook(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (RateBook, error)
	GetRate(ctx context.Context, vendorID uuid.UUID) (*Rate, error)
	SetRate(ctx context.Context, actor auth.Actor, vendorID uuid.UUID, rate decimal.Decimal) (*Rate, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	audit       audit.Recorder
	outbox      outbox.Emitter
	defaultRate decimal.Decimal
	logg        *logger.Logger
}

// NewService builds the commission service. defaultRate is the single
// platform default used for vendors without an override.
func NewService(repo Repository, tx txRunner, recorder audit.Recorder, emitter outbox.Emitter, defaultRate decimal.Decimal, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if err := ValidateRate(defaultRate); err != nil {
		return nil, fmt.Errorf("default commission: %w", err)
	}
	return &service{
		repo:        repo,
		tx:          tx,
		audit:       recorder,
		outbox:      emitter,
		defaultRate: defaultRate,
		logg:        logg,
	}, nil
}

func (s *service) DefaultRate() decimal.Decimal {
	return s.defaultRate
}

// RateBook loads overrides for vendorIDs using tx when given, so callers
// computing aggregates read rates from the same snapshot as the orders.
func (s *service) RateBook(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (RateBook, error) {
	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	rows, err := repo.ListByVendorIDs(ctx, vendorIDs)
	if err != nil {
		return RateBook{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rates")
	}
	overrides := make(map[uuid.UUID]decimal.Decimal, len(rows))
	for _, row := range rows {
		overrides[row.VendorID] = row.CommissionRate
	}
	return NewRateBook(s.defaultRate, overrides), nil
}

func (s *service) GetRate(ctx context.Context, vendorID uuid.UUID) (*Rate, error) {
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	profile, err := s.repo.Find(ctx, vendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rate")
	}
	if profile == nil {
		return &Rate{VendorID: vendorID, Rate: s.defaultRate, IsDefault: true}, nil
	}
	return &Rate{VendorID: vendorID, Rate: profile.CommissionRate}, nil
}

// SetRate stores a vendor override. The new rate applies retroactively to
// every unsettled order of the vendor since rates are never snapshotted.
func (s *service) SetRate(ctx context.Context, actor auth.Actor, vendorID uuid.UUID, rate decimal.Decimal) (*Rate, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if vendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	if err := ValidateRate(rate); err != nil {
		return nil, err
	}
	rate = rate.Round(2)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		previous, err := repo.Find(ctx, vendorID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rate")
		}
		if previous != nil && previous.CommissionRate.Equal(rate) {
			return nil
		}

		if err := repo.Upsert(ctx, &models.VendorCommissionProfile{
			VendorID:       vendorID,
			CommissionRate: rate,
			UpdatedBy:      actor.UserID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store commission rate")
		}
		if _, err := repo.TouchOrders(ctx, vendorID, time.Now()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "touch vendor orders")
		}

		var previousRate *string
		note := fmt.Sprintf("rate %s", rate.String())
		if previous != nil {
			value := previous.CommissionRate.String()
			previousRate = &value
			note = fmt.Sprintf("rate %s -> %s", value, rate.String())
		}
		if _, err := s.audit.Record(ctx, tx, audit.Entry{
			VendorID: &vendorID,
			Action:   enums.AuditActionCommissionRateSet,
			Actor:    actor,
			Note:     &note,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record audit")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVendorCommissionChanged,
			AggregateType: enums.AggregateVendor,
			AggregateID:   vendorID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role), Source: string(actor.Source)},
			Data: payloads.VendorCommissionChangedEvent{
				VendorID:     vendorID,
				Rate:         rate.String(),
				PreviousRate: previousRate,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"vendor_id": vendorID.String(), "rate": rate.String()})
		s.logg.Info(logCtx, "vendor commission rate set")
	}
	return &Rate{VendorID: vendorID, Rate: rate}, nil
}
