package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/admin"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/reports"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type defaultRateSource interface {
	DefaultCommission() decimal.Decimal
}

type commissionRequest struct {
	Rate *decimal.Decimal `json:"rate" validate:"required"`
}

type orderRowsReader interface {
	OrderRows(ctx context.Context, actor auth.Actor, filters orders.ListFilters) ([]reports.Row, error)
}

// DefaultCommission serves the platform default rate vendors are quoted.
func DefaultCommission(src defaultRateSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission source unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"rate": src.DefaultCommission()})
	}
}

func AdminSettlementSummary(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		summary, err := svc.Summary(r.Context(), middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"summary":    summary,
			"reconciles": summary.Reconciles(),
		})
	}
}

func AdminVendorBalances(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		balances, err := svc.VendorBalances(r.Context(), middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balances)
	}
}

// AdminSetVendorCommission overrides one vendor's rate.
func AdminSetVendorCommission(svc admin.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable"))
			return
		}
		vendorID, err := validators.ParsePathUUID(r, "vendorId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload commissionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rate, err := svc.SetVendorCommission(r.Context(), middleware.ActorFromContext(r.Context()), vendorID, *payload.Rate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rate)
	}
}

// AdminReportOrders returns report rows as JSON.
func AdminReportOrders(svc orderRowsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, ok := loadReportRows(w, r, svc, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, map[string]any{"rows": rows, "count": len(rows)})
	}
}

// AdminReportOrdersCSV returns the same rows as a CSV attachment.
func AdminReportOrdersCSV(svc orderRowsReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, ok := loadReportRows(w, r, svc, logg)
		if !ok {
			return
		}
		filename := fmt.Sprintf("settlement-orders-%s.csv", time.Now().UTC().Format("20060102-150405"))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		w.WriteHeader(http.StatusOK)
		if err := reports.WriteCSV(w, rows); err != nil && logg != nil {
			logg.Error(r.Context(), "failed to write csv report", err)
		}
	}
}

func loadReportRows(w http.ResponseWriter, r *http.Request, svc orderRowsReader, logg *logger.Logger) ([]reports.Row, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reports service unavailable"))
		return nil, false
	}
	filters, err := parseListFilters(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	rows, err := svc.OrderRows(r.Context(), middleware.ActorFromContext(r.Context()), filters)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return rows, true
}
