package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// RetryPolicy controls how many times warehouse inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// warehouseRow mirrors the settlement_orders BigQuery schema.
type warehouseRow struct {
	OrderID       string    `bigquery:"order_id"`
	OrderNumber   string    `bigquery:"order_number"`
	CreatedAt     time.Time `bigquery:"created_at"`
	UpdatedAt     time.Time `bigquery:"updated_at"`
	VendorIDs     []string  `bigquery:"vendor_ids"`
	Gross         int64     `bigquery:"gross"`
	Commission    int64     `bigquery:"commission"`
	Net           int64     `bigquery:"net"`
	Currency      string    `bigquery:"currency"`
	Status        string    `bigquery:"status"`
	PaymentStatus string    `bigquery:"payment_status"`
	PaymentMethod string    `bigquery:"payment_method"`
	ExportedAt    time.Time `bigquery:"exported_at"`
}

// BigQuerySink appends report rows to the warehouse table. Each row is keyed
// by order id and updated_at so a retried batch is deduplicated best effort.
type BigQuerySink struct {
	client tableInserter
	table  string
	retry  RetryPolicy
	now    func() time.Time
}

// NewBigQuerySink builds a sink writing to table through client.
func NewBigQuerySink(client tableInserter, table string, retry RetryPolicy) (*BigQuerySink, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("orders table is required")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}
	return &BigQuerySink{client: client, table: table, retry: retry, now: time.Now}, nil
}

// Write inserts rows, retrying transient failures with capped backoff.
func (s *BigQuerySink) Write(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	exportedAt := s.now().UTC()
	payload := make([]any, len(rows))
	for i, row := range rows {
		record := toWarehouseRow(row, exportedAt)
		payload[i] = &cbigquery.StructSaver{
			Struct:   &record,
			InsertID: row.OrderID.String() + ":" + strconv.FormatInt(row.UpdatedAt.UnixNano(), 10),
		}
	}
	return s.insertWithRetry(ctx, payload)
}

func toWarehouseRow(row Row, exportedAt time.Time) warehouseRow {
	vendorIDs := make([]string, len(row.VendorIDs))
	for i, id := range row.VendorIDs {
		vendorIDs[i] = id.String()
	}
	return warehouseRow{
		OrderID:       row.OrderID.String(),
		OrderNumber:   row.OrderNumber,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		VendorIDs:     vendorIDs,
		Gross:         row.Gross,
		Commission:    row.Commission,
		Net:           row.Net,
		Currency:      row.Currency,
		Status:        string(row.Status),
		PaymentStatus: string(row.PaymentStatus),
		PaymentMethod: string(row.PaymentMethod),
		ExportedAt:    exportedAt,
	}
}

func (s *BigQuerySink) insertWithRetry(ctx context.Context, rows []any) error {
	attempts := 0
	backoff := s.retry.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.client.InsertRows(ctx, s.table, rows)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= s.retry.MaxAttempts || !isRetryableBigQueryError(err) {
			return fmt.Errorf("insert %s rows: %w", s.table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, s.retry.MaximumBackoff)
	}
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	if multi, ok := err.(cbigquery.MultiError); ok {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		if multi == nil || len(*multi) == 0 {
			return false
		}
		for _, inner := range *multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !isRetryableBigQueryError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isRetryableHTTPCode(apiErr.Code)
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return isRetryableGRPCCode(st.Code())
		}
	}

	return false
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}
