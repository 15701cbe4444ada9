package orders

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
)

const maxBodyBytes = 1 << 20

// ComposeService is the part of Composer the handler needs.
type ComposeService interface {
	Compose(ctx context.Context, req Request) (*Result, error)
}

// Handler exposes work order creation over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   ComposeService
	validator *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service ComposeService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/work-orders", h.createWorkOrder)
}

type createWorkOrderRequest struct {
	VehicleID   int64         `json:"vehicle_id" validate:"required,gt=0"`
	Description string        `json:"description" validate:"max=500"`
	QuotationID *int64        `json:"quotation_id" validate:"omitempty,gt=0"`
	Lines       []lineRequest `json:"lines" validate:"dive"`
	OrderDate   *time.Time    `json:"order_date"`
}

type lineRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   int             `json:"quantity" validate:"required,gt=0"`
	LaborPrice decimal.Decimal `json:"labor_price"`
	Discount   decimal.Decimal `json:"discount"`
}

type detailResponse struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	Quantity       int             `json:"quantity"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	LaborPrice     decimal.Decimal `json:"labor_price"`
	Discount       decimal.Decimal `json:"discount"`
	TaxID          int64           `json:"tax_id"`
	AppliedTaxRate decimal.Decimal `json:"applied_tax_rate"`
}

type workOrderResponse struct {
	ID          int64                    `json:"id"`
	Variant     Variant                  `json:"variant"`
	VehicleID   int64                    `json:"vehicle_id"`
	QuotationID *int64                   `json:"quotation_id,omitempty"`
	Description string                   `json:"description"`
	Status      workshop.WorkOrderStatus `json:"status"`
	OrderDate   time.Time                `json:"order_date"`
	Subtotal    decimal.Decimal          `json:"subtotal"`
	TaxAmount   decimal.Decimal          `json:"tax_amount"`
	TaxRate     decimal.Decimal          `json:"tax_rate"`
	TotalAmount decimal.Decimal          `json:"total_amount"`
	Details     []detailResponse         `json:"details"`
}

type partialProblem struct {
	httpx.ProblemDetail
	WorkOrderID            int64                    `json:"work_order_id"`
	OutstandingDetails     []int64                  `json:"outstanding_detail_ids,omitempty"`
	OutstandingMovements   []workshop.StockMovement `json:"outstanding_movements,omitempty"`
	UnconfirmedWrite       bool                     `json:"unconfirmed_write"`
	ReconciliationEnqueued bool                     `json:"reconciliation_enqueued"`
}

func (h *Handler) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var body createWorkOrderRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validator.Struct(body); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", fe.Namespace()+" failed "+fe.Tag())
			return
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	req, err := body.toRequest()
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	res, err := h.service.Compose(r.Context(), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newWorkOrderResponse(res))
}

func (b createWorkOrderRequest) toRequest() (Request, error) {
	req := Request{VehicleID: b.VehicleID, Description: b.Description}
	if b.OrderDate != nil {
		req.OrderDate = b.OrderDate.UTC()
	}
	switch {
	case b.QuotationID != nil && b.Lines != nil:
		return Request{}, invalid("quotation_id", "quotation_id and lines are mutually exclusive")
	case b.QuotationID != nil:
		req.Source = WithQuotation{QuotationID: *b.QuotationID}
	case b.Lines != nil:
		lines := make([]LineRequest, 0, len(b.Lines))
		for _, l := range b.Lines {
			lines = append(lines, LineRequest{
				ProductID:  l.ProductID,
				Quantity:   l.Quantity,
				LaborPrice: l.LaborPrice,
				Discount:   l.Discount,
			})
		}
		req.Source = WithoutQuotation{Lines: lines}
	}
	return req, nil
}

func newWorkOrderResponse(res *Result) workOrderResponse {
	out := workOrderResponse{
		ID:          res.Order.ID,
		Variant:     res.Variant,
		VehicleID:   res.Order.VehicleID,
		QuotationID: res.Order.QuotationID,
		Description: res.Order.Description,
		Status:      res.Order.Status,
		OrderDate:   res.Order.OrderDate,
		Subtotal:    res.Order.Subtotal,
		TaxAmount:   res.Order.TaxAmount,
		TaxRate:     res.Order.TaxRate,
		TotalAmount: res.Order.TotalAmount,
		Details:     make([]detailResponse, 0, len(res.Details)),
	}
	for _, d := range res.Details {
		out.Details = append(out.Details, detailResponse{
			ID:             d.ID,
			ProductID:      d.ProductID,
			Quantity:       d.Quantity,
			SalePrice:      d.SalePrice,
			LaborPrice:     d.LaborPrice,
			Discount:       d.Discount,
			TaxID:          d.TaxID,
			AppliedTaxRate: d.AppliedTaxRate,
		})
	}
	return out
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *ValidationError
		insufficient *stock.InsufficientStockError
		network      *workshop.NetworkError
		partial      *PartialCreationError
	)
	switch {
	case errors.As(err, &partial):
		h.logger.Error("work order needs reconciliation",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Int64("work_order_id", partial.WorkOrderID),
			slog.Any("error", err))
		httpx.JSON(w, http.StatusInternalServerError, partialProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Partial Creation",
				Status: http.StatusInternalServerError,
				Detail: "the work order was created but could not be completed or rolled back; manual reconciliation may be required",
			},
			WorkOrderID:            partial.WorkOrderID,
			OutstandingDetails:     partial.Outstanding.DetailIDs,
			OutstandingMovements:   partial.Outstanding.Movements,
			UnconfirmedWrite:       partial.Uncertain,
			ReconciliationEnqueued: partial.Enqueued,
		})
	case errors.As(err, &validation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validation.Error())
	case errors.Is(err, ErrDuplicateSubmission):
		httpx.Problem(w, http.StatusConflict, "Duplicate Submission", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, stock.ErrStockConflict):
		httpx.Problem(w, http.StatusConflict, "Stock Conflict", "stock changed while the work order was being created, please retry")
	case errors.As(err, &network):
		h.logger.Warn("persistence gateway failure",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Gateway Error", network.UserMessage())
	default:
		h.logger.Error("create work order",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
