package helpers

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

var validate = validator.New()

// LineItem is one cart line as submitted by the buyer. Name and ImageURL are
// display hints only; the catalog snapshot wins. A nil UnitPrice means the
// client did not quote a price.
type LineItem struct {
	ProductID uuid.UUID
	Name      string
	ImageURL  string
	UnitPrice *int64
	Quantity  int
}

// Customer is the contact snapshot stored on the order.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
}

// NormalizeCustomer trims every field and lowercases the email.
func NormalizeCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:   strings.TrimSpace(c.Phone),
		Address: strings.TrimSpace(c.Address),
		City:    strings.TrimSpace(c.City),
	}
}

// ValidateCustomer checks the contact snapshot. Hosted payments need an email
// for the gateway receipt; other flows accept none.
func ValidateCustomer(c Customer, method enums.PaymentMethod) error {
	fields := map[string]string{}
	if c.Name == "" {
		fields["name"] = "is required"
	}
	if c.Phone == "" {
		fields["phone"] = "is required"
	} else if err := validate.Var(c.Phone, "max=32,printascii"); err != nil {
		fields["phone"] = "is invalid"
	}
	if c.Address == "" {
		fields["address"] = "is required"
	}
	if c.City == "" {
		fields["city"] = "is required"
	}
	switch {
	case c.Email != "":
		if err := validate.Var(c.Email, "email"); err != nil {
			fields["email"] = "must be a valid email"
		}
	case method == enums.PaymentMethodHosted:
		fields["email"] = "is required for hosted payment"
	}
	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid customer details").WithDetails(map[string]any{"customer": fields})
}

// ValidateLines rejects an empty cart and lines without a product or with a
// quantity below one.
func ValidateLines(lines []LineItem) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty").
			WithDetails(map[string]string{"items": "must contain at least one item"})
	}
	fields := map[string]string{}
	for i, line := range lines {
		if line.ProductID == uuid.Nil {
			fields[fmt.Sprintf("items[%d].product_id", i)] = "is required"
		}
		if line.Quantity < 1 {
			fields[fmt.Sprintf("items[%d].quantity", i)] = "must be at least 1"
		}
		if line.UnitPrice != nil && *line.UnitPrice < 0 {
			fields[fmt.Sprintf("items[%d].unit_price", i)] = "must not be negative"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid cart items").WithDetails(fields)
}

// NormalizeReference trims a manual payment reference.
func NormalizeReference(ref string) string {
	return strings.TrimSpace(ref)
}
