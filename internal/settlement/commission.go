package settlement

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
)

var hundred = decimal.NewFromInt(100)

// Breakdown splits a gross amount between platform commission and vendor net.
// Commission + Net == Gross always holds.
type Breakdown struct {
	Gross      int64           `json:"gross"`
	Rate       decimal.Decimal `json:"rate"`
	Commission int64           `json:"commission"`
	Net        int64           `json:"net"`
}

// Split computes round_half_up(gross * rate / 100) as the commission.
func Split(gross int64, rate decimal.Decimal) (Breakdown, error) {
	if err := vendors.ValidateRate(rate); err != nil {
		return Breakdown{}, err
	}
	// Round rounds half away from zero, which is half up for the
	// non-negative amounts handled here.
	commission := decimal.NewFromInt(gross).Mul(rate).Div(hundred).Round(0).IntPart()
	return Breakdown{
		Gross:      gross,
		Rate:       rate,
		Commission: commission,
		Net:        gross - commission,
	}, nil
}

// VendorSlice is the part of an order sold by one vendor.
type VendorSlice struct {
	VendorID      uuid.UUID `json:"vendor_id"`
	IsDefaultRate bool      `json:"is_default_rate"`
	Breakdown
}

// OrderBreakdown is the commission split of a whole order.
type OrderBreakdown struct {
	Gross      int64         `json:"gross"`
	Commission int64         `json:"commission"`
	Net        int64         `json:"net"`
	Vendors    []VendorSlice `json:"vendors"`
}

// BreakdownOrder splits an order per vendor, each slice rounded once and the
// order commission being the sum of slice commissions.
func BreakdownOrder(order models.Order, book vendors.RateBook) (OrderBreakdown, error) {
	grossByVendor := map[uuid.UUID]int64{}
	var vendorOrder []uuid.UUID
	for _, item := range order.Items {
		if _, seen := grossByVendor[item.VendorID]; !seen {
			vendorOrder = append(vendorOrder, item.VendorID)
		}
		grossByVendor[item.VendorID] += item.LineTotal
	}
	if len(vendorOrder) == 0 {
		grossByVendor[uuid.Nil] = order.Total
		vendorOrder = append(vendorOrder, uuid.Nil)
	}
	sort.Slice(vendorOrder, func(i, j int) bool { return vendorOrder[i].String() < vendorOrder[j].String() })

	out := OrderBreakdown{Vendors: make([]VendorSlice, 0, len(vendorOrder))}
	for _, vendorID := range vendorOrder {
		rate, override := book.RateFor(vendorID)
		split, err := Split(grossByVendor[vendorID], rate)
		if err != nil {
			return OrderBreakdown{}, err
		}
		out.Vendors = append(out.Vendors, VendorSlice{VendorID: vendorID, IsDefaultRate: !override, Breakdown: split})
		out.Gross += split.Gross
		out.Commission += split.Commission
		out.Net += split.Net
	}
	return out, nil
}

// VendorIDs lists the distinct vendors across orders.
func VendorIDs(orders []models.Order) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for _, order := range orders {
		for _, item := range order.Items {
			if _, ok := seen[item.VendorID]; ok {
				continue
			}
			seen[item.VendorID] = struct{}{}
			ids = append(ids, item.VendorID)
		}
	}
	return ids
}
