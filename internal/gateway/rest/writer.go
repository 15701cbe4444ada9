package rest

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

// CreateWorkOrder posts the header and returns it with its new id.
func (c *Client) CreateWorkOrder(ctx context.Context, order workshop.WorkOrder) (workshop.WorkOrder, error) {
	var created createdDTO
	resp, err := c.request(ctx).
		SetBody(newCreateWorkOrderDTO(order)).
		SetResult(&created).
		Post("/workOrders")
	if err := checkWrite("create work order", resp, err); err != nil {
		return workshop.WorkOrder{}, err
	}
	if created.ID == 0 {
		return workshop.WorkOrder{}, &workshop.NetworkError{Op: "create work order", Status: resp.StatusCode(), Message: "response did not include the new work order id"}
	}
	order.ID = created.ID
	return order, nil
}

// CreateWorkProductDetail posts one detail line.
func (c *Client) CreateWorkProductDetail(ctx context.Context, detail workshop.WorkProductDetail) (workshop.WorkProductDetail, error) {
	var created createdDTO
	resp, err := c.request(ctx).
		SetBody(newCreateDetailDTO(detail)).
		SetResult(&created).
		Post("/workProductDetails")
	if err := checkWrite("create work product detail", resp, err); err != nil {
		return workshop.WorkProductDetail{}, err
	}
	if created.ID == 0 {
		return workshop.WorkProductDetail{}, &workshop.NetworkError{Op: "create work product detail", Status: resp.StatusCode(), Message: "response did not include the new detail id"}
	}
	detail.ID = created.ID
	return detail, nil
}

// DeleteWorkProductDetail removes a detail. A missing detail counts as deleted.
func (c *Client) DeleteWorkProductDetail(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("delete work product detail %d", id), "/workProductDetails/{id}", id)
}

// DeleteWorkOrder removes a work order header. A missing order counts as deleted.
func (c *Client) DeleteWorkOrder(ctx context.Context, id int64) error {
	return c.delete(ctx, fmt.Sprintf("delete work order %d", id), "/workOrders/{id}", id)
}

func (c *Client) delete(ctx context.Context, op, path string, id int64) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Delete(path)
	if err := check(op, resp, err); err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	return nil
}
