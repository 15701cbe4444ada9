package orders

import (
	"context"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/taxrate"
)

// Catalog reads the reference data a work order is built from.
type Catalog interface {
	GetVehicle(ctx context.Context, id int64) (workshop.Vehicle, error)
	// GetProducts returns the requested products keyed by id. Unknown ids are
	// absent from the map.
	GetProducts(ctx context.Context, ids []int64) (map[int64]workshop.Product, error)
	// GetQuotation returns the quotation with its details.
	GetQuotation(ctx context.Context, id int64) (workshop.Quotation, error)
}

// Writer persists work orders and their details. Deletes are idempotent: a
// missing record is not an error.
type Writer interface {
	CreateWorkOrder(ctx context.Context, order workshop.WorkOrder) (workshop.WorkOrder, error)
	CreateWorkProductDetail(ctx context.Context, detail workshop.WorkProductDetail) (workshop.WorkProductDetail, error)
	DeleteWorkProductDetail(ctx context.Context, id int64) error
	DeleteWorkOrder(ctx context.Context, id int64) error
}

// Gateway is the persistence gateway seen by the composer.
type Gateway interface {
	Catalog
	Writer
	stock.Store
	taxrate.Source
}

// Transactor runs fn against a transactional view of the gateway. Any error
// returned by fn rolls back everything fn did.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, gw Gateway) error) error
}

// IdempotencyGuard deduplicates submissions.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Complete(ctx context.Context, key, module, result string) error
	Result(ctx context.Context, key, module string) (string, error)
	Delete(ctx context.Context, key, module string) error
}

// Reconciler schedules compensations that could not finish inline.
type Reconciler interface {
	EnqueueReconcile(ctx context.Context, comp Compensation) error
}

// EventPublisher announces created work orders. It runs after the order is
// persisted; a failure is logged and never undoes the order.
type EventPublisher interface {
	PublishWorkOrderCreated(ctx context.Context, res *Result) error
}

// Recorder receives workflow outcomes for metrics.
type Recorder interface {
	WorkOrderOutcome(variant, outcome string)
	StockConflict()
	CompensationOutcome(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) WorkOrderOutcome(string, string) {}
func (noopRecorder) StockConflict() {}
func (noopRecorder) CompensationOutcome(string) {}
