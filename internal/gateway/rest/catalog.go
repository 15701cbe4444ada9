package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/taxrate"
)

// GetVehicle reads a vehicle, going through the vehicle cache when one is
// configured. Cache failures fall back to the service.
func (c *Client) GetVehicle(ctx context.Context, id int64) (workshop.Vehicle, error) {
	key, err := c.vehicles.BuildKey(ctx, strconv.FormatInt(id, 10))
	if err != nil {
		c.logger.Warn("vehicle cache unavailable", slog.Any("error", err))
		return c.fetchVehicle(ctx, id)
	}
	var (
		vehicle workshop.Vehicle
		loadErr error
	)
	err = c.vehicles.FetchJSON(ctx, key, &vehicle, func(ctx context.Context) (any, error) {
		v, err := c.fetchVehicle(ctx, id)
		loadErr = err
		return v, err
	})
	if loadErr != nil {
		return workshop.Vehicle{}, loadErr
	}
	if err != nil {
		c.logger.Warn("vehicle cache unavailable", slog.Int64("vehicle_id", id), slog.Any("error", err))
		return c.fetchVehicle(ctx, id)
	}
	return vehicle, nil
}

func (c *Client) fetchVehicle(ctx context.Context, id int64) (workshop.Vehicle, error) {
	var vehicle workshop.Vehicle
	resp, err := c.request(ctx).
		SetResult(&vehicle).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get("/vehicles/{id}")
	if err := check(fmt.Sprintf("get vehicle %d", id), resp, err); err != nil {
		return workshop.Vehicle{}, err
	}
	return vehicle, nil
}

// GetProducts reads the given products. Ids the service does not know are
// left out of the result.
func (c *Client) GetProducts(ctx context.Context, ids []int64) (map[int64]workshop.Product, error) {
	out := make(map[int64]workshop.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []productDTO
	resp, err := c.request(ctx).
		SetResult(&rows).
		SetQueryParamsFromValues(idValues("id", ids)).
		Get("/products")
	if err := check("list products", resp, err); err != nil {
		return nil, err
	}
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for _, row := range rows {
		if _, ok := wanted[row.ID]; ok {
			out[row.ID] = row.domain()
		}
	}
	return out, nil
}

// GetQuotation reads a quotation and its details. Detail rows that belong to
// anything other than this quotation are dropped.
func (c *Client) GetQuotation(ctx context.Context, id int64) (workshop.Quotation, error) {
	var dto quotationDTO
	resp, err := c.request(ctx).
		SetResult(&dto).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Get("/quotations/{id}")
	if err := check(fmt.Sprintf("get quotation %d", id), resp, err); err != nil {
		return workshop.Quotation{}, err
	}

	var rows []detailDTO
	resp, err = c.request(ctx).
		SetResult(&rows).
		SetQueryParam("quotation_id", strconv.FormatInt(id, 10)).
		Get("/workProductDetails")
	if err := check(fmt.Sprintf("list details of quotation %d", id), resp, err); err != nil {
		return workshop.Quotation{}, err
	}

	quotation := dto.domain()
	quotation.Details = make([]workshop.WorkProductDetail, 0, len(rows))
	for _, row := range rows {
		if row.QuotationID == nil || *row.QuotationID != id {
			c.logger.Warn("ignoring detail of another quotation",
				slog.Int64("quotation_id", id),
				slog.Int64("detail_id", row.ID))
			continue
		}
		quotation.Details = append(quotation.Details, row.domain())
	}
	return quotation, nil
}

// ActiveTax reads the tax configuration active right now.
func (c *Client) ActiveTax(ctx context.Context) (workshop.TaxRate, error) {
	var dto taxDTO
	resp, err := c.request(ctx).SetResult(&dto).Get("/tax/active")
	if err := check("get active tax", resp, err); err != nil {
		return workshop.TaxRate{}, err
	}
	if dto.TaxID == 0 {
		return workshop.TaxRate{}, taxrate.ErrNoActiveRate
	}
	return workshop.TaxRate{ID: dto.TaxID, Percent: dto.TaxRate}, nil
}

func idValues(name string, ids []int64) url.Values {
	values := url.Values{}
	for _, id := range ids {
		values.Add(name, strconv.FormatInt(id, 10))
	}
	return values
}
