package rest

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

const dateLayout = "2006-01-02"

// number renders a decimal as a bare JSON number without going through float64.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

type productDTO struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	SalePrice    decimal.Decimal `json:"sale_price"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	SupplierID   int64           `json:"supplier_id"`
	CategoryID   int64           `json:"category_id"`
}

func (p productDTO) domain() workshop.Product {
	return workshop.Product{
		ID:           p.ID,
		Name:         p.Name,
		SalePrice:    p.SalePrice,
		ProfitMargin: p.ProfitMargin,
		SupplierID:   p.SupplierID,
		CategoryID:   p.CategoryID,
	}
}

type stockDTO struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s stockDTO) domain() workshop.StockRecord {
	return workshop.StockRecord{ID: s.ID, ProductID: s.ProductID, Quantity: s.Quantity, UpdatedAt: s.UpdatedAt}
}

type stockUpdateDTO struct {
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type taxDTO struct {
	TaxID   int64           `json:"tax_id"`
	TaxRate decimal.Decimal `json:"tax_rate"`
}

type quotationDTO struct {
	ID         int64            `json:"id"`
	VehicleID  int64            `json:"vehicle_id"`
	Status     string           `json:"status"`
	TotalPrice decimal.Decimal  `json:"total_price"`
	Subtotal   *decimal.Decimal `json:"subtotal"`
	TaxAmount  *decimal.Decimal `json:"tax_amount"`
	TaxRate    *decimal.Decimal `json:"tax_rate"`
	EntryDate  string           `json:"entry_date"`
}

func (q quotationDTO) domain() workshop.Quotation {
	out := workshop.Quotation{
		ID:         q.ID,
		VehicleID:  q.VehicleID,
		Status:     workshop.QuotationStatus(q.Status),
		TotalPrice: q.TotalPrice,
		Subtotal:   q.Subtotal,
		TaxAmount:  q.TaxAmount,
		TaxRate:    q.TaxRate,
	}
	out.EntryDate = parseDate(q.EntryDate)
	return out
}

type detailDTO struct {
	ID             int64           `json:"id"`
	WorkOrderID    *int64          `json:"work_order_id"`
	QuotationID    *int64          `json:"quotation_id"`
	ProductID      int64           `json:"product_id"`
	Quantity       int             `json:"quantity"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	LaborPrice     decimal.Decimal `json:"labor_price"`
	Discount       decimal.Decimal `json:"discount"`
	TaxID          int64           `json:"tax_id"`
	AppliedTaxRate decimal.Decimal `json:"applied_tax_rate"`
}

func (d detailDTO) domain() workshop.WorkProductDetail {
	out := workshop.WorkProductDetail{
		ID:             d.ID,
		QuotationID:    d.QuotationID,
		ProductID:      d.ProductID,
		Quantity:       d.Quantity,
		SalePrice:      d.SalePrice,
		LaborPrice:     d.LaborPrice,
		Discount:       d.Discount,
		TaxID:          d.TaxID,
		AppliedTaxRate: d.AppliedTaxRate,
	}
	if d.WorkOrderID != nil {
		out.WorkOrderID = *d.WorkOrderID
	}
	return out
}

type createWorkOrderDTO struct {
	VehicleID   int64       `json:"vehicle_id"`
	QuotationID *int64      `json:"quotation_id,omitempty"`
	Description string      `json:"description"`
	Status      string      `json:"status"`
	TotalAmount json.Number `json:"total_amount"`
	Subtotal    json.Number `json:"subtotal"`
	TaxAmount   json.Number `json:"tax_amount"`
	TaxRate     json.Number `json:"tax_rate"`
	OrderDate   string      `json:"order_date"`
}

func newCreateWorkOrderDTO(o workshop.WorkOrder) createWorkOrderDTO {
	return createWorkOrderDTO{
		VehicleID:   o.VehicleID,
		QuotationID: o.QuotationID,
		Description: o.Description,
		Status:      string(o.Status),
		TotalAmount: number(o.TotalAmount),
		Subtotal:    number(o.Subtotal),
		TaxAmount:   number(o.TaxAmount),
		TaxRate:     number(o.TaxRate),
		OrderDate:   o.OrderDate.Format(dateLayout),
	}
}

type createDetailDTO struct {
	WorkOrderID    int64       `json:"work_order_id"`
	ProductID      int64       `json:"product_id"`
	Quantity       int         `json:"quantity"`
	SalePrice      json.Number `json:"sale_price"`
	LaborPrice     json.Number `json:"labor_price"`
	Discount       json.Number `json:"discount"`
	TaxID          int64       `json:"tax_id"`
	AppliedTaxRate json.Number `json:"applied_tax_rate"`
}

func newCreateDetailDTO(d workshop.WorkProductDetail) createDetailDTO {
	return createDetailDTO{
		WorkOrderID:    d.WorkOrderID,
		ProductID:      d.ProductID,
		Quantity:       d.Quantity,
		SalePrice:      number(d.SalePrice),
		LaborPrice:     number(d.LaborPrice),
		Discount:       number(d.Discount),
		TaxID:          d.TaxID,
		AppliedTaxRate: number(d.AppliedTaxRate),
	}
}

type createdDTO struct {
	ID int64 `json:"id"`
}

// parseDate accepts a plain date or an RFC 3339 timestamp.
func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
