// Package workshop holds the records shared by the work-order fulfillment workflow.
package workshop

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuotationStatus enumerates quotation lifecycle states.
type QuotationStatus string

const (
	// QuotationStatusPending is the initial state of a quotation.
	QuotationStatusPending QuotationStatus = "pending"
	// QuotationStatusApproved marks a quotation accepted by the client.
	QuotationStatusApproved QuotationStatus = "approved"
	// QuotationStatusRejected marks a quotation declined by the client.
	QuotationStatusRejected QuotationStatus = "rejected"
)

// Valid reports whether the status is known.
func (s QuotationStatus) Valid() bool {
	switch s {
	case QuotationStatusPending, QuotationStatusApproved, QuotationStatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s QuotationStatus) IsTerminal() bool {
	return s == QuotationStatusApproved || s == QuotationStatusRejected
}

// WorkOrderStatus enumerates work order lifecycle states.
type WorkOrderStatus string

const (
	// WorkOrderStatusNotStarted is the state every work order is created with.
	WorkOrderStatusNotStarted WorkOrderStatus = "not_started"
	// WorkOrderStatusInProgress means a mechanic picked up the order.
	WorkOrderStatusInProgress WorkOrderStatus = "in_progress"
	// WorkOrderStatusFinished is terminal.
	WorkOrderStatusFinished WorkOrderStatus = "finished"
)

// CanTransitionTo reports whether next directly follows s. The machine is
// linear: not_started -> in_progress -> finished.
func (s WorkOrderStatus) CanTransitionTo(next WorkOrderStatus) bool {
	switch s {
	case WorkOrderStatusNotStarted:
		return next == WorkOrderStatusInProgress
	case WorkOrderStatusInProgress:
		return next == WorkOrderStatusFinished
	}
	return false
}

// Vehicle is reference data owned by the client registry.
type Vehicle struct {
	ID       int64  `json:"id"`
	Plate    string `json:"plate"`
	Brand    string `json:"brand"`
	Model    string `json:"model"`
	ClientID int64  `json:"client_id"`
}

// Product is catalog reference data.
type Product struct {
	ID           int64
	Name         string
	SalePrice    decimal.Decimal
	ProfitMargin decimal.Decimal
	SupplierID   int64
	CategoryID   int64
}

// StockRecord tracks on-hand quantity for one product.
type StockRecord struct {
	ID        int64
	ProductID int64
	Quantity  int
	UpdatedAt time.Time
}

// TaxRate is the organisation-wide tax configuration at a point in time.
type TaxRate struct {
	ID      int64
	Percent decimal.Decimal
}

// LineItem is a workflow-local product/labor line. SalePrice, TaxID and
// AppliedTaxRate are frozen once the line is priced or copied from a
// quotation.
type LineItem struct {
	ProductID      int64
	Quantity       int
	LaborPrice     decimal.Decimal
	Discount       decimal.Decimal
	SalePrice      decimal.Decimal
	TaxID          int64
	AppliedTaxRate decimal.Decimal
}

// Quotation is a pre-priced offer for a vehicle.
type Quotation struct {
	ID         int64
	VehicleID  int64
	Status     QuotationStatus
	TotalPrice decimal.Decimal
	Subtotal   *decimal.Decimal
	TaxAmount  *decimal.Decimal
	TaxRate    *decimal.Decimal
	EntryDate  time.Time
	Details    []WorkProductDetail
}

// WorkOrder is the persisted header of a job performed on a vehicle.
type WorkOrder struct {
	ID          int64
	VehicleID   int64
	QuotationID *int64
	Description string
	Status      WorkOrderStatus
	TotalAmount decimal.Decimal
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TaxRate     decimal.Decimal
	OrderDate   time.Time
}

// WorkProductDetail is one persisted line of a work order or quotation.
// SalePrice is the unit price computed at creation time, not the live price.
type WorkProductDetail struct {
	ID             int64
	WorkOrderID    int64
	QuotationID    *int64
	ProductID      int64
	Quantity       int
	SalePrice      decimal.Decimal
	LaborPrice     decimal.Decimal
	Discount       decimal.Decimal
	TaxID          int64
	AppliedTaxRate decimal.Decimal
}

// StockMovement records a quantity taken from a product's stock.
type StockMovement struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
