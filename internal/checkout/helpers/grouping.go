package helpers

import (
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/catalog"
	"github.com/angelmondragon/marketplace-settlement/pkg/checkout"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// ProductIDs lists the distinct products referenced by lines, in cart order.
func ProductIDs(lines []LineItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

// BuildItems snapshots each line from the catalog and returns the items with
// their subtotal. Unknown or vendorless products and stale quoted prices are
// validation errors.
func BuildItems(orderID uuid.UUID, lines []LineItem, products map[uuid.UUID]catalog.Product) ([]models.OrderItem, int64, error) {
	var missing []uuid.UUID
	seenMissing := map[uuid.UUID]bool{}
	priceChecks := make([]checkout.PriceCheckInput, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			if !seenMissing[line.ProductID] {
				seenMissing[line.ProductID] = true
				missing = append(missing, line.ProductID)
			}
			continue
		}
		priceChecks = append(priceChecks, checkout.PriceCheckInput{
			ProductID:    product.ID,
			ProductName:  product.Name,
			CatalogPrice: product.UnitPrice,
			QuotedPrice:  line.UnitPrice,
		})
	}
	if len(missing) > 0 {
		return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "some products are unavailable").
			WithDetails(map[string]any{"unavailable_product_ids": missing})
	}
	if err := checkout.ValidatePrices(priceChecks); err != nil {
		return nil, 0, err
	}

	items := make([]models.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		product := products[line.ProductID]
		lineTotal := product.UnitPrice * int64(line.Quantity)
		items = append(items, models.OrderItem{
			ID:              uuid.New(),
			OrderID:         orderID,
			ProductID:       product.ID,
			ProductName:     product.Name,
			ProductImageURL: product.ImageURL,
			VendorID:        product.VendorID,
			UnitPrice:       product.UnitPrice,
			Quantity:        line.Quantity,
			LineTotal:       lineTotal,
		})
		subtotal += lineTotal
	}
	return items, subtotal, nil
}

// VendorIDs lists the distinct vendors of items, sorted for stable payloads.
func VendorIDs(items []models.OrderItem) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	var ids []uuid.UUID
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
