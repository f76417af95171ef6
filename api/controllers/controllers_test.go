package controllers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	"github.com/angelmondragon/marketplace-settlement/internal/admin"
	checkoutsvc "github.com/angelmondragon/marketplace-settlement/internal/checkout"
	"github.com/angelmondragon/marketplace-settlement/internal/feed"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/internal/reports"
	"github.com/angelmondragon/marketplace-settlement/internal/settlement"
	"github.com/angelmondragon/marketplace-settlement/internal/vendors"
	"github.com/angelmondragon/marketplace-settlement/pkg/auth"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
)

type fakeCheckout struct {
	input    checkoutsvc.CreateOrderInput
	actor    auth.Actor
	ref      *checkoutsvc.OrderRef
	view     *checkoutsvc.OrderView
	err      error
	retryFor uuid.UUID
}

func (f *fakeCheckout) CreateOrder(_ context.Context, actor auth.Actor, input checkoutsvc.CreateOrderInput) (*checkoutsvc.OrderRef, error) {
	f.actor = actor
	f.input = input
	return f.ref, f.err
}

func (f *fakeCheckout) RetryPaymentSession(_ context.Context, actor auth.Actor, orderID uuid.UUID) (*checkoutsvc.OrderRef, error) {
	f.actor = actor
	f.retryFor = orderID
	return f.ref, f.err
}

func (f *fakeCheckout) GetOrder(_ context.Context, actor auth.Actor, _ uuid.UUID) (*checkoutsvc.OrderView, error) {
	f.actor = actor
	return f.view, f.err
}

type fakeAdmin struct {
	admin.Service
	order   *models.Order
	detail  *admin.OrderDetail
	list    *orders.OrderList
	filters orders.ListFilters
	page    pagination.Params
	note    string
	status  enums.OrderStatus
	rate    decimal.Decimal
	err     error
}

func (f *fakeAdmin) SetOrderStatus(_ context.Context, _ auth.Actor, _ uuid.UUID, status enums.OrderStatus) (*models.Order, error) {
	f.status = status
	return f.order, f.err
}

func (f *fakeAdmin) ForceRelease(_ context.Context, _ auth.Actor, _ uuid.UUID, note string) (*models.Order, error) {
	f.note = note
	return f.order, f.err
}

func (f *fakeAdmin) ListOrders(_ context.Context, _ auth.Actor, filters orders.ListFilters, page pagination.Params) (*orders.OrderList, error) {
	f.filters = filters
	f.page = page
	return f.list, f.err
}

func (f *fakeAdmin) GetOrder(_ context.Context, _ auth.Actor, _ uuid.UUID) (*admin.OrderDetail, error) {
	return f.detail, f.err
}

func (f *fakeAdmin) SetVendorCommission(_ context.Context, _ auth.Actor, vendorID uuid.UUID, rate decimal.Decimal) (*vendors.Rate, error) {
	f.rate = rate
	if f.err != nil {
		return nil, f.err
	}
	return &vendors.Rate{VendorID: vendorID, Rate: rate}, nil
}

func (f *fakeAdmin) DefaultCommission() decimal.Decimal { return decimal.NewFromInt(10) }

type fakeRows struct {
	rows    []reports.Row
	filters orders.ListFilters
}

func (f *fakeRows) OrderRows(_ context.Context, _ auth.Actor, filters orders.ListFilters) ([]reports.Row, error) {
	f.filters = filters
	return f.rows, nil
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func buyer() auth.Actor {
	id := uuid.New()
	return auth.Actor{UserID: &id, Role: enums.RoleBuyer, Source: enums.ActorSourceBuyer}
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "ORD-20260501-AAAA",
		CustomerName:  "Awa Diop",
		CustomerPhone: "+221770000000",
		Total:         150000,
		Currency:      "xof",
		Status:        enums.OrderStatusDelivered,
		PaymentStatus: enums.PaymentStatusPaid,
		PaymentMethod: enums.PaymentMethodHosted,
		Version:       3,
		Items: []models.OrderItem{{
			ID: uuid.New(), ProductID: uuid.New(), VendorID: uuid.New(),
			ProductName: "Basket", UnitPrice: 50000, Quantity: 3, LineTotal: 150000,
		}},
	}
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, dest))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestCheckoutCreatesOrderForActor(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeCheckout{ref: &checkoutsvc.OrderRef{OrderID: orderID, OrderNumber: "ORD-1", Total: 1000}}
	productID := uuid.New()
	body := `{
		"items":[{"product_id":"` + productID.String() + `","quantity":2,"unit_price":500}],
		"customer":{"name":"Awa","phone":"+221770000000","address":"12 Rue X","city":"Dakar"},
		"payment_method":"manual",
		"payment_reference":"WAVE-123"
	}`
	actor := buyer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()

	Checkout(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var ref checkoutsvc.OrderRef
	decodeData(t, rec, &ref)
	assert.Equal(t, orderID, ref.OrderID)

	assert.Equal(t, actor.UserID, svc.actor.UserID)
	require.Len(t, svc.input.Items, 1)
	assert.Equal(t, productID, svc.input.Items[0].ProductID)
	assert.Equal(t, int64(500), *svc.input.Items[0].UnitPrice)
	assert.Equal(t, enums.PaymentMethodManual, svc.input.PaymentMethod)
	assert.Equal(t, "WAVE-123", svc.input.PaymentReference)
	assert.Equal(t, "Dakar", svc.input.Customer.City)
}

func TestCheckoutRejectsEmptyCartBeforeService(t *testing.T) {
	svc := &fakeCheckout{}
	body := `{"items":[],"customer":{"name":"Awa","phone":"1","address":"a","city":"b"},"payment_method":"hosted"}`
	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))
	assert.Empty(t, svc.input.Items)
}

func TestCheckoutSurfacesPaymentChannelError(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeCheckout{err: pkgerrors.New(pkgerrors.CodePaymentChannel, "payment session failed").
		WithDetails(map[string]any{"order_id": orderID.String()})}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1}],"customer":{"name":"Awa","email":"a@b.co","phone":"1","address":"a","city":"b"},"payment_method":"hosted"}`
	rec := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodePaymentChannel), payload.Error.Code)
	assert.Equal(t, orderID.String(), payload.Error.Details["order_id"])
}

func TestRetryPaymentSessionParsesOrderID(t *testing.T) {
	orderID := uuid.New()
	svc := &fakeCheckout{ref: &checkoutsvc.OrderRef{OrderID: orderID}}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", orderID.String())
	rec := httptest.NewRecorder()
	RetryPaymentSession(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orderID, svc.retryFor)

	bad := withParam(httptest.NewRequest(http.MethodPost, "/", nil), "orderId", "not-a-uuid")
	rec = httptest.NewRecorder()
	RetryPaymentSession(svc, nil).ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuyerOrderIncludesBreakdown(t *testing.T) {
	order := sampleOrder()
	svc := &fakeCheckout{view: &checkoutsvc.OrderView{
		Order:     order,
		Breakdown: settlement.OrderBreakdown{Gross: 150000, Commission: 15000, Net: 135000},
	}}
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", order.ID.String())
	rec := httptest.NewRecorder()
	BuyerOrder(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got orderResponse
	decodeData(t, rec, &got)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, "+221770000000", got.Customer.Phone)
	require.NotNil(t, got.Breakdown)
	assert.Equal(t, int64(15000), got.Breakdown.Commission)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 3, got.Items[0].Quantity)
}

func TestBuyerOrderNotFound(t *testing.T) {
	svc := &fakeCheckout{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	BuyerOrder(svc, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminOrdersParsesFilters(t *testing.T) {
	vendorID := uuid.New()
	svc := &fakeAdmin{list: &orders.OrderList{NextCursor: "next"}}
	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders?status=shipped&payment_status=paid&vendor_id="+vendorID.String()+"&from=2026-05-01&to=2026-05-31&q=ORD-2026&limit=10&cursor=abc", nil)
	rec := httptest.NewRecorder()
	AdminOrders(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filters.Status)
	assert.Equal(t, enums.OrderStatusShipped, *svc.filters.Status)
	assert.Equal(t, enums.PaymentStatusPaid, *svc.filters.PaymentStatus)
	assert.Equal(t, vendorID, *svc.filters.VendorID)
	assert.Equal(t, "ORD-2026", svc.filters.Query)
	assert.Equal(t, time.Date(2026, 5, 31, 23, 59, 59, 999999999, time.UTC), *svc.filters.DateTo)
	assert.Equal(t, 10, svc.page.Limit)
	assert.Equal(t, "abc", svc.page.Cursor)
}

func TestAdminOrdersRejectsUnknownStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	AdminOrders(&fakeAdmin{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/orders?status=lost", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOrderDetailIncludesAudit(t *testing.T) {
	order := sampleOrder()
	svc := &fakeAdmin{detail: &admin.OrderDetail{
		Order: order,
		Audit: []models.OrderAuditEvent{{ID: uuid.New(), Action: enums.AuditActionForceRelease, Source: enums.ActorSourceAdmin}},
	}}
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", order.ID.String())
	rec := httptest.NewRecorder()
	AdminOrderDetail(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		ID    uuid.UUID       `json:"id"`
		Audit []auditResponse `json:"audit"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, order.ID, got.ID)
	require.Len(t, got.Audit, 1)
	assert.Equal(t, enums.AuditActionForceRelease, got.Audit[0].Action)
}

func TestAdminForceReleaseTrimsNote(t *testing.T) {
	svc := &fakeAdmin{order: sampleOrder()}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"  courier confirmed  "}`)), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	AdminForceRelease(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "courier confirmed", svc.note)
}

func TestAdminSetOrderStatusReportsConflict(t *testing.T) {
	conflict := pkgerrors.New(pkgerrors.CodeStateConflict, "transition not allowed").
		WithDetails(map[string]any{"from": "delivered", "to": "shipped", "reason": "transition_not_allowed"})
	svc := &fakeAdmin{err: conflict}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"shipped"}`)), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	AdminSetOrderStatus(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, enums.OrderStatusShipped, svc.status)
	var payload struct {
		Error struct {
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "transition_not_allowed", payload.Error.Details["reason"])
}

func TestAdminSetOrderStatusRejectsUnknownValue(t *testing.T) {
	svc := &fakeAdmin{}
	req := withParam(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"teleported"}`)), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	AdminSetOrderStatus(svc, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.status)
}

func TestAdminSetVendorCommission(t *testing.T) {
	svc := &fakeAdmin{}
	vendorID := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"rate":"7.5"}`)), "vendorId", vendorID.String())
	rec := httptest.NewRecorder()
	AdminSetVendorCommission(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, svc.rate.Equal(decimal.RequireFromString("7.5")))

	missing := withParam(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`)), "vendorId", vendorID.String())
	rec = httptest.NewRecorder()
	AdminSetVendorCommission(svc, nil).ServeHTTP(rec, missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDefaultCommission(t *testing.T) {
	rec := httptest.NewRecorder()
	DefaultCommission(&fakeAdmin{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/commission/default", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Rate decimal.Decimal `json:"rate"`
	}
	decodeData(t, rec, &got)
	assert.True(t, got.Rate.Equal(decimal.NewFromInt(10)))
}

func TestAdminReportOrdersCSV(t *testing.T) {
	vendorID := uuid.New()
	created := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	svc := &fakeRows{rows: []reports.Row{{
		OrderID: uuid.New(), OrderNumber: "ORD-1", CreatedAt: created, UpdatedAt: created,
		VendorIDs: []uuid.UUID{vendorID}, Gross: 100000, Commission: 10000, Net: 90000,
		Currency: "xof", Status: enums.OrderStatusDelivered, PaymentStatus: enums.PaymentStatusPaid,
		PaymentMethod: enums.PaymentMethodHosted,
	}}}
	rec := httptest.NewRecorder()
	AdminReportOrdersCSV(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/reports/orders.csv?status=delivered", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "order_id", records[0][0])
	assert.Equal(t, "ORD-1", records[1][1])
	assert.Equal(t, enums.OrderStatusDelivered, *svc.filters.Status)
}

func TestAdminReportOrdersJSON(t *testing.T) {
	svc := &fakeRows{rows: []reports.Row{{OrderID: uuid.New()}, {OrderID: uuid.New()}}}
	rec := httptest.NewRecorder()
	AdminReportOrders(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/reports/orders", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Count int `json:"count"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, 2, got.Count)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthReady("test", map[string]Pinger{"db": pinger{}, "redis": pinger{}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady("test", map[string]Pinger{"redis": pinger{err: errors.New("connection refused")}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, rec))
}

func TestOrderEventsRequiresReadableOrder(t *testing.T) {
	hub := feed.NewHub(nil)
	svc := &fakeCheckout{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", uuid.NewString())
	rec := httptest.NewRecorder()
	OrderEvents(svc, hub, time.Second, nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestAdminOrderEventsDetachesOnDisconnect(t *testing.T) {
	hub := feed.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	AdminOrderEvents(hub, time.Second, nil).ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": connected")
	assert.Equal(t, 0, hub.Subscribers())
}
