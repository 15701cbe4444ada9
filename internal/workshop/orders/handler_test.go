package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
)

type stubComposeService struct {
	calls int
	last  Request
	res   *Result
	err   error
}

func (s *stubComposeService) Compose(ctx context.Context, req Request) (*Result, error) {
	s.calls++
	s.last = req
	return s.res, s.err
}

func newTestRouter(svc ComposeService) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", NewHandler(nil, svc).MountRoutes)
	return r
}

func postWorkOrder(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/work-orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateWorkOrderHandlerAdHoc(t *testing.T) {
	svc := &stubComposeService{res: &Result{
		Variant: VariantWithoutQuotation,
		Order: workshop.WorkOrder{
			ID: 12, VehicleID: 10, Description: "Brake service",
			Status:      workshop.WorkOrderStatusNotStarted,
			OrderDate:   time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
			Subtotal:    decimal.NewFromInt(4700),
			TaxAmount:   decimal.NewFromInt(893),
			TaxRate:     decimal.NewFromInt(19),
			TotalAmount: decimal.NewFromInt(5593),
		},
		Details: []workshop.WorkProductDetail{{ID: 100, WorkOrderID: 12, ProductID: 1, Quantity: 1, SalePrice: decimal.NewFromInt(2200)}},
	}}
	body := `{"vehicle_id":10,"description":"Brake service","lines":[{"product_id":1,"quantity":1,"labor_price":100,"discount":"0"}]}`

	rec := postWorkOrder(t, newTestRouter(svc), body, map[string]string{"Idempotency-Key": " abc "})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Equal(t, 1, svc.calls)
	require.Equal(t, "abc", svc.last.IdempotencyKey)
	src, ok := svc.last.Source.(WithoutQuotation)
	require.True(t, ok)
	require.Len(t, src.Lines, 1)
	require.True(t, src.Lines[0].LaborPrice.Equal(decimal.NewFromInt(100)))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, float64(12), payload["id"])
	assert.Equal(t, "5593", payload["total_amount"])
	assert.Equal(t, "not_started", payload["status"])
	assert.Len(t, payload["details"], 1)
}

func TestCreateWorkOrderHandlerQuotation(t *testing.T) {
	svc := &stubComposeService{res: &Result{Variant: VariantWithQuotation}}
	rec := postWorkOrder(t, newTestRouter(svc), `{"vehicle_id":10,"quotation_id":7}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, WithQuotation{QuotationID: 7}, svc.last.Source)
}

func TestCreateWorkOrderHandlerRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"invalid json":     `{"vehicle_id":`,
		"missing vehicle":  `{"description":"x","lines":[{"product_id":1,"quantity":1}]}`,
		"zero quantity":    `{"vehicle_id":10,"description":"x","lines":[{"product_id":1,"quantity":0}]}`,
		"both sources":     `{"vehicle_id":10,"quotation_id":7,"lines":[{"product_id":1,"quantity":1}]}`,
		"negative quote":   `{"vehicle_id":10,"quotation_id":-1}`,
		"long description": fmt.Sprintf(`{"vehicle_id":10,"description":%q,"lines":[{"product_id":1,"quantity":1}]}`, strings.Repeat("a", 501)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubComposeService{}
			rec := postWorkOrder(t, newTestRouter(svc), body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Zero(t, svc.calls)
		})
	}
}

func TestCreateWorkOrderHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		title  string
	}{
		{"validation", invalid("description", "description is required"), http.StatusBadRequest, "Validation Failed"},
		{"insufficient", &stock.InsufficientStockError{ProductID: 2, Requested: 5, Available: 3}, http.StatusConflict, "Insufficient Stock"},
		{"conflict", &stock.StockUpdateError{ProductID: 2, Requested: 1, Err: stock.ErrStockConflict}, http.StatusConflict, "Stock Conflict"},
		{"duplicate", &DuplicateError{Key: "k", WorkOrderID: "3"}, http.StatusConflict, "Duplicate Submission"},
		{"network", fmt.Errorf("orders: create work order: %w", &workshop.NetworkError{Op: "create work order", Status: 503, Message: "maintenance window"}), http.StatusBadGateway, "Gateway Error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "Internal Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubComposeService{err: tc.err}
			rec := postWorkOrder(t, newTestRouter(svc), `{"vehicle_id":10,"quotation_id":7}`, nil)
			require.Equal(t, tc.status, rec.Code)
			var problem map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tc.title, problem["title"])
		})
	}
}

func TestCreateWorkOrderHandlerNetworkMessage(t *testing.T) {
	svc := &stubComposeService{err: &workshop.NetworkError{Op: "create work order", Status: 503, Message: "maintenance window"}}
	rec := postWorkOrder(t, newTestRouter(svc), `{"vehicle_id":10,"quotation_id":7}`, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Contains(t, rec.Body.String(), "maintenance window")
}

func TestCreateWorkOrderHandlerPartialCreation(t *testing.T) {
	svc := &stubComposeService{err: &PartialCreationError{
		WorkOrderID: 12,
		Outstanding: Compensation{WorkOrderID: 12, DetailIDs: []int64{101}},
		Cause:       errors.New("decrement failed"),
		Enqueued:    true,
	}}
	rec := postWorkOrder(t, newTestRouter(svc), `{"vehicle_id":10,"quotation_id":7}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Partial Creation", payload["title"])
	assert.Equal(t, float64(12), payload["work_order_id"])
	assert.Equal(t, []any{float64(101)}, payload["outstanding_detail_ids"])
	assert.Equal(t, true, payload["reconciliation_enqueued"])
}
