package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workshop/internal/observability"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
	"github.com/odyssey-erp/odyssey-workshop/jobs"
	_ "github.com/odyssey-erp/odyssey-workshop/testing"
)

type stubComposer struct{}

func (stubComposer) Compose(_ context.Context, req orders.Request) (*orders.Result, error) {
	return &orders.Result{
		Variant: req.Source.Variant(),
		Order: workshop.WorkOrder{
			ID:          11,
			VehicleID:   req.VehicleID,
			Description: req.Description,
			Status:      workshop.WorkOrderStatusNotStarted,
			TotalAmount: decimal.NewFromInt(119),
			Subtotal:    decimal.NewFromInt(100),
			TaxAmount:   decimal.NewFromInt(19),
			TaxRate:     decimal.NewFromInt(19),
		},
	}, nil
}

func newTestRouter(metrics *observability.Metrics) http.Handler {
	return NewRouter(RouterParams{
		Config:        &Config{RateLimitPerMinute: 100},
		OrdersHandler: orders.NewHandler(nil, stubComposer{}),
		JobHandler:    jobs.NewHandler(nil, nil),
		Metrics:       metrics,
	})
}

func TestRouterHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterMountsWorkOrders(t *testing.T) {
	metrics := observability.NewMetrics()
	router := newTestRouter(metrics)

	body := `{"vehicle_id": 3, "description": "Oil change", "lines": [{"product_id": 1, "quantity": 1}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/work-orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `workshop_http_requests_total{code="201",route="/api/work-orders"} 1`)
}

func TestRouterMountsJobsHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"queue":"default"`)
}
