package checkout

import (
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// PriceCheckInput pairs the price a client was shown with the catalog price.
// A nil QuotedPrice means the client did not quote one.
type PriceCheckInput struct {
	ProductID    uuid.UUID
	ProductName  string
	CatalogPrice int64
	QuotedPrice  *int64
}

// PriceViolationDetail is returned to callers when a quote is stale.
type PriceViolationDetail struct {
	ProductID    uuid.UUID `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	CatalogPrice int64     `json:"catalog_price"`
	QuotedPrice  int64     `json:"quoted_price"`
}

// ValidatePrices rejects lines whose quoted unit price no longer matches the catalog.
func ValidatePrices(items []PriceCheckInput) error {
	var violations []PriceViolationDetail
	for _, item := range items {
		if item.QuotedPrice == nil || *item.QuotedPrice == item.CatalogPrice {
			continue
		}
		violations = append(violations, PriceViolationDetail{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			CatalogPrice: item.CatalogPrice,
			QuotedPrice:  *item.QuotedPrice,
		})
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("price changed for %d item(s)", len(violations))).WithDetails(map[string]any{
		"reason":     "price_changed",
		"violations": violations,
	})
}
