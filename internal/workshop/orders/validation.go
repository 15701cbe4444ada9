package orders

import (
	"fmt"
	"strings"
)

// validateRequest rejects malformed requests before any gateway call.
func validateRequest(req Request) error {
	if req.VehicleID <= 0 {
		return invalid("vehicle_id", "vehicle is required")
	}
	switch src := req.Source.(type) {
	case nil:
		return invalid("source", "either quotation_id or lines is required")
	case WithQuotation:
		if src.QuotationID <= 0 {
			return invalid("quotation_id", "must be a positive id")
		}
	case WithoutQuotation:
		if strings.TrimSpace(req.Description) == "" {
			return invalid("description", "description is required")
		}
		if len(src.Lines) == 0 {
			return invalid("lines", "at least one line item is required")
		}
		for i, line := range src.Lines {
			if err := validateLine(i, line); err != nil {
				return err
			}
		}
	default:
		return invalid("source", fmt.Sprintf("unsupported source %T", src))
	}
	return nil
}

func validateLine(i int, line LineRequest) error {
	field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }
	switch {
	case line.ProductID <= 0:
		return invalid(field("product_id"), "product is required")
	case line.Quantity <= 0:
		return invalid(field("quantity"), "must be greater than zero")
	case line.LaborPrice.IsNegative():
		return invalid(field("labor_price"), "must not be negative")
	case line.Discount.IsNegative():
		return invalid(field("discount"), "must not be negative")
	}
	return nil
}
