package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// MaxRows caps a single admin report download.
const MaxRows = 5000

const defaultExportBatch = 500

type rateSource interface {
	RateBook(ctx context.Context, tx *gorm.DB, vendorIDs []uuid.UUID) (vendors.RateBook, error)
}

// Service builds settlement report rows.
type Service struct {
	orders orders.Repository
	rates  rateSource
	logg   *logger.Logger
}

// NewService wires the report builder.
func NewService(repo orders.Repository, rates rateSource, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate source required")
	}
	return &Service{orders: repo, rates: rates, logg: logg}, nil
}

// OrderRows returns the admin report for orders matching filters, newest first.
func (s *Service) OrderRows(ctx context.Context, actor auth.Actor, filters orders.ListFilters) ([]Row, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if filters.DateFrom != nil && filters.DateTo != nil && filters.DateTo.Before(*filters.DateFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date_to must not be before date_from").
			WithDetails(map[string]any{"date_from": filters.DateFrom, "date_to": filters.DateTo})
	}

	list, err := s.orders.ListForExport(ctx, filters, MaxRows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load report orders")
	}
	return s.rows(ctx, list)
}

// Cursor positions the export scan at the last exported change.
type Cursor = orders.ChangeCursor

// UpdatedSince returns rows for orders changed after the cursor, oldest
// change first, and the cursor of the last row. With no rows the given
// cursor comes back unchanged.
func (s *Service) UpdatedSince(ctx context.Context, after Cursor, limit int) ([]Row, Cursor, error) {
	if limit <= 0 {
		limit = defaultExportBatch
	}
	list, err := s.orders.ListUpdatedSince(ctx, after, limit)
	if err != nil {
		return nil, after, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load changed orders")
	}
	rows, err := s.rows(ctx, list)
	if err != nil {
		return nil, after, err
	}
	if len(list) == 0 {
		return rows, after, nil
	}
	last := list[len(list)-1]
	return rows, Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}, nil
}

func (s *Service) rows(ctx context.Context, list []models.Order) ([]Row, error) {
	if len(list) == 0 {
		return []Row{}, nil
	}
	book, err := s.rates.RateBook(ctx, nil, settlement.VendorIDs(list))
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission rates")
	}
	rows, err := BuildRows(list, book)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build report rows")
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithField(ctx, "rows", len(rows)), "report rows built")
	}
	return rows, nil
}
