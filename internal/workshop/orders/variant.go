package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

// Variant names how the line items of a work order are sourced.
type Variant string

const (
	// VariantWithQuotation copies lines from an approved quotation.
	VariantWithQuotation Variant = "with_quotation"
	// VariantWithoutQuotation prices ad hoc lines against the live catalog.
	VariantWithoutQuotation Variant = "without_quotation"
)

// Source is either WithQuotation or WithoutQuotation.
type Source interface {
	Variant() Variant
}

// WithQuotation sources lines from an approved quotation.
type WithQuotation struct {
	QuotationID int64
}

// Variant implements Source.
func (WithQuotation) Variant() Variant { return VariantWithQuotation }

// WithoutQuotation sources ad hoc lines.
type WithoutQuotation struct {
	Lines []LineRequest
}

// Variant implements Source.
func (WithoutQuotation) Variant() Variant { return VariantWithoutQuotation }

// LineRequest is one ad hoc line as submitted by the operator.
type LineRequest struct {
	ProductID  int64
	Quantity   int
	LaborPrice decimal.Decimal
	Discount   decimal.Decimal
}

// Request asks the composer for a new work order.
type Request struct {
	VehicleID      int64
	Description    string
	Source         Source
	IdempotencyKey string
	OrderDate      time.Time
}

// Result is a created work order with its persisted details and the stock
// movements it caused.
type Result struct {
	Variant   Variant
	Order     workshop.WorkOrder
	Details   []workshop.WorkProductDetail
	Movements []workshop.StockMovement
}
