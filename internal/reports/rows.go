// Package reports turns orders into per-order settlement rows for admins and
// the analytics warehouse.
package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
)

// Row is one order in the settlement report.
type Row struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	VendorIDs     []uuid.UUID         `json:"vendor_ids"`
	Gross         int64               `json:"gross"`
	Commission    int64               `json:"commission"`
	Net           int64               `json:"net"`
	Currency      string              `json:"currency"`
	Status        enums.OrderStatus   `json:"status"`
	PaymentStatus enums.PaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
}

var csvHeader = []string{
	"order_id",
	"order_number",
	"created_at",
	"vendors",
	"gross",
	"commission",
	"net",
	"currency",
	"status",
	"payment_status",
	"payment_method",
}

// BuildRows splits each order with the rates in book. Orders must carry their items.
func BuildRows(orders []models.Order, book vendors.RateBook) ([]Row, error) {
	rows := make([]Row, 0, len(orders))
	for _, order := range orders {
		split, err := settlement.BreakdownOrder(order, book)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ID, err)
		}
		rows = append(rows, buildRow(order, split))
	}
	return rows, nil
}

func buildRow(order models.Order, split settlement.OrderBreakdown) Row {
	vendorIDs := make([]uuid.UUID, 0, len(split.Vendors))
	for _, slice := range split.Vendors {
		if slice.VendorID == uuid.Nil {
			continue
		}
		vendorIDs = append(vendorIDs, slice.VendorID)
	}
	return Row{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CreatedAt:     order.CreatedAt.UTC(),
		UpdatedAt:     order.UpdatedAt.UTC(),
		VendorIDs:     vendorIDs,
		Gross:         split.Gross,
		Commission:    split.Commission,
		Net:           split.Net,
		Currency:      order.Currency,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
	}
}

// WriteCSV renders rows with a header line. Vendors are joined with ";".
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write(row.csvRecord()); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (r Row) csvRecord() []string {
	vendorIDs := make([]string, len(r.VendorIDs))
	for i, id := range r.VendorIDs {
		vendorIDs[i] = id.String()
	}
	return []string{
		r.OrderID.String(),
		r.OrderNumber,
		r.CreatedAt.Format(time.RFC3339),
		strings.Join(vendorIDs, ";"),
		strconv.FormatInt(r.Gross, 10),
		strconv.FormatInt(r.Commission, 10),
		strconv.FormatInt(r.Net, 10),
		r.Currency,
		string(r.Status),
		string(r.PaymentStatus),
		string(r.PaymentMethod),
	}
}
