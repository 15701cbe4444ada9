package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
)

// Compensation lists what must be undone for a failed work order. It is also
// the payload of the reconciliation task.
type Compensation struct {
	SagaID      string                   `json:"saga_id"`
	WorkOrderID int64                    `json:"work_order_id"`
	DetailIDs   []int64                  `json:"detail_ids"`
	Movements   []workshop.StockMovement `json:"movements"`
}

// Empty reports whether nothing is left to undo.
func (c Compensation) Empty() bool {
	return c.WorkOrderID == 0 && len(c.DetailIDs) == 0 && len(c.Movements) == 0
}

// Compensator undoes the steps recorded in a Compensation: stock first, then
// details in reverse creation order, then the work order header.
type Compensator struct {
	writer Writer
	stock  *stock.Service
	logger *slog.Logger
}

// NewCompensator builds Compensator.
func NewCompensator(writer Writer, stockSvc *stock.Service, logger *slog.Logger) *Compensator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensator{writer: writer, stock: stockSvc, logger: logger}
}

// Run undoes comp and returns whatever is still outstanding. The work order
// header is only deleted once all of its details are gone.
func (c *Compensator) Run(ctx context.Context, comp Compensation) (Compensation, error) {
	remaining := Compensation{SagaID: comp.SagaID}
	var errs []error

	if len(comp.Movements) > 0 {
		failed, err := c.stock.Restore(ctx, comp.Movements)
		if err != nil {
			errs = append(errs, err)
		}
		remaining.Movements = failed
	}

	for i := len(comp.DetailIDs) - 1; i >= 0; i-- {
		id := comp.DetailIDs[i]
		if err := c.writer.DeleteWorkProductDetail(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete work product detail %d: %w", id, err))
			remaining.DetailIDs = append([]int64{id}, remaining.DetailIDs...)
		}
	}

	if comp.WorkOrderID != 0 {
		if len(remaining.DetailIDs) > 0 {
			remaining.WorkOrderID = comp.WorkOrderID
		} else if err := c.writer.DeleteWorkOrder(ctx, comp.WorkOrderID); err != nil {
			errs = append(errs, fmt.Errorf("delete work order %d: %w", comp.WorkOrderID, err))
			remaining.WorkOrderID = comp.WorkOrderID
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("compensation incomplete",
			slog.String("saga_id", comp.SagaID),
			slog.Int64("work_order_id", comp.WorkOrderID),
			slog.Int("pending_details", len(remaining.DetailIDs)),
			slog.Int("pending_movements", len(remaining.Movements)),
			slog.Any("error", err))
		return remaining, err
	}
	return remaining, nil
}
