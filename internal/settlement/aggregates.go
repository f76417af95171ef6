package settlement

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
)

// Summary aggregates every valid sale (payment captured, order not cancelled).
type Summary struct {
	TotalProcessed      int64     `json:"total_processed"`
	InEscrow            int64     `json:"in_escrow"`
	PlatformRevenue     int64     `json:"platform_revenue"`
	PayoutReady         int64     `json:"payout_ready"`
	DeliveredCommission int64     `json:"delivered_commission"`
	OrderCount          int       `json:"order_count"`
	ComputedAt          time.Time `json:"computed_at"`
}

// Reconciles checks InEscrow + PayoutReady + DeliveredCommission == TotalProcessed.
func (s Summary) Reconciles() bool {
	return s.InEscrow+s.PayoutReady+s.DeliveredCommission == s.TotalProcessed
}

// Snapshot converts the summary for the metrics exporter.
func (s Summary) Snapshot() metrics.SettlementSnapshot {
	return metrics.SettlementSnapshot{
		TotalProcessed:  s.TotalProcessed,
		InEscrow:        s.InEscrow,
		PayoutReady:     s.PayoutReady,
		PlatformRevenue: s.PlatformRevenue,
		Reconciled:      s.Reconciles(),
	}
}

// VendorBalance is the Summary restricted to one vendor's slices.
type VendorBalance struct {
	VendorID            uuid.UUID       `json:"vendor_id"`
	Rate                decimal.Decimal `json:"rate"`
	IsDefaultRate       bool            `json:"is_default_rate"`
	TotalProcessed      int64           `json:"total_processed"`
	InEscrow            int64           `json:"in_escrow"`
	PlatformRevenue     int64           `json:"platform_revenue"`
	PayoutReady         int64           `json:"payout_ready"`
	DeliveredCommission int64           `json:"delivered_commission"`
	OrderCount          int             `json:"order_count"`
}

func (b *VendorBalance) add(slice VendorSlice, delivered bool) {
	b.TotalProcessed += slice.Gross
	b.PlatformRevenue += slice.Commission
	if delivered {
		b.PayoutReady += slice.Net
		b.DeliveredCommission += slice.Commission
	} else {
		b.InEscrow += slice.Gross
	}
	b.OrderCount++
}

// Summary recomputes the escrow aggregates from committed orders inside one
// read snapshot. Nothing is cached between calls.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	var out Summary
	err := e.store.WithSnapshot(ctx, func(tx *gorm.DB) error {
		return e.forEachValidSale(ctx, tx, func(order models.Order, split OrderBreakdown) {
			out.OrderCount++
			out.TotalProcessed += split.Gross
			out.PlatformRevenue += split.Commission
			if order.Status == enums.OrderStatusDelivered {
				out.PayoutReady += split.Net
				out.DeliveredCommission += split.Commission
			} else {
				out.InEscrow += split.Gross
			}
		})
	})
	if err != nil {
		return nil, err
	}
	out.ComputedAt = time.Now().UTC()
	return &out, nil
}

// VendorBalances computes the same aggregates grouped by vendor, ordered by
// vendor id.
func (e *Engine) VendorBalances(ctx context.Context) ([]VendorBalance, error) {
	balances := map[uuid.UUID]*VendorBalance{}
	err := e.store.WithSnapshot(ctx, func(tx *gorm.DB) error {
		return e.forEachValidSale(ctx, tx, func(order models.Order, split OrderBreakdown) {
			delivered := order.Status == enums.OrderStatusDelivered
			for _, slice := range split.Vendors {
				balance, ok := balances[slice.VendorID]
				if !ok {
					balance = &VendorBalance{VendorID: slice.VendorID, Rate: slice.Rate, IsDefaultRate: slice.IsDefaultRate}
					balances[slice.VendorID] = balance
				}
				balance.add(slice, delivered)
			}
		})
	})
	if err != nil {
		return nil, err
	}

	out := make([]VendorBalance, 0, len(balances))
	for _, balance := range balances {
		out = append(out, *balance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VendorID.String() < out[j].VendorID.String() })
	return out, nil
}

func (e *Engine) forEachValidSale(ctx context.Context, tx *gorm.DB, fn func(order models.Order, split OrderBreakdown)) error {
	sales, err := e.orders.WithTx(tx).ListValidSales(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load valid sales")
	}
	book, err := e.rates.RateBook(ctx, tx, VendorIDs(sales))
	if err != nil {
		return err
	}
	for _, order := range sales {
		split, err := BreakdownOrder(order, book)
		if err != nil {
			return err
		}
		fn(order, split)
	}
	return nil
}

// Breakdown computes the current commission split of any order, valid sale or not.
func (e *Engine) Breakdown(ctx context.Context, order models.Order) (OrderBreakdown, error) {
	book, err := e.rates.RateBook(ctx, nil, VendorIDs([]models.Order{order}))
	if err != nil {
		return OrderBreakdown{}, err
	}
	return BreakdownOrder(order, book)
}
