// Package orders composes work orders from a quotation or from ad hoc lines,
// persisting the header, its details and the matching stock decrements as
// one unit of work.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/pricing"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/taxrate"
)

const idempotencyModule = "work_orders"

// Outcome labels reported to the Recorder.
const (
	OutcomeCreated           = "created"
	OutcomeRejected          = "rejected"
	OutcomeDuplicate         = "duplicate"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeStockConflict     = "stock_conflict"
	OutcomeNetworkError      = "network_error"
	OutcomePartial           = "partial"
	OutcomeFailed            = "failed"
)

// Compensation outcome labels.
const (
	CompensationCompleted = "completed"
	CompensationFailed    = "failed"
)

// Config wires the composer. Gateway is required; everything else is optional.
// With a Transactor the persistence steps run in a single transaction,
// otherwise they run as a saga with compensations.
type Config struct {
	Gateway     Gateway
	Transactor  Transactor
	Stock       *stock.Service
	Tax         taxrate.Provider
	Idempotency IdempotencyGuard
	Reconciler  Reconciler
	Events      EventPublisher
	Metrics     Recorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Composer creates work orders.
type Composer struct {
	gateway     Gateway
	tx          Transactor
	stock       *stock.Service
	tax         taxrate.Provider
	idempotency IdempotencyGuard
	reconciler  Reconciler
	events      EventPublisher
	metrics     Recorder
	logger      *slog.Logger
	now         func() time.Time
	compensator *Compensator
}

// NewComposer builds Composer.
func NewComposer(cfg Config) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stockSvc := cfg.Stock
	if stockSvc == nil {
		stockSvc = stock.NewService(cfg.Gateway, nil, logger)
	}
	tax := cfg.Tax
	if tax == nil {
		tax = taxrate.NewGatewayProvider(cfg.Gateway)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopRecorder{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Composer{
		gateway:     cfg.Gateway,
		tx:          cfg.Transactor,
		stock:       stockSvc,
		tax:         tax,
		idempotency: cfg.Idempotency,
		reconciler:  cfg.Reconciler,
		events:      cfg.Events,
		metrics:     metrics,
		logger:      logger,
		now:         now,
		compensator: NewCompensator(cfg.Gateway, stockSvc, logger),
	}
}

// plan is a fully priced work order that has not been persisted yet.
type plan struct {
	variant Variant
	order   workshop.WorkOrder
	lines   []workshop.LineItem
}

// Compose validates req, prices its lines, verifies stock and persists the
// work order with its details before decrementing stock.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	variant := variantOf(req.Source)
	if err := validateRequest(req); err != nil {
		c.metrics.WorkOrderOutcome(string(variant), OutcomeRejected)
		return nil, err
	}

	guarded := req.IdempotencyKey != "" && c.idempotency != nil
	if guarded {
		if err := c.idempotency.CheckAndInsert(ctx, req.IdempotencyKey, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				existing, _ := c.idempotency.Result(ctx, req.IdempotencyKey, idempotencyModule)
				c.metrics.WorkOrderOutcome(string(variant), OutcomeDuplicate)
				return nil, &DuplicateError{Key: req.IdempotencyKey, WorkOrderID: existing}
			}
			return nil, fmt.Errorf("orders: idempotency check: %w", err)
		}
	}

	res, err := c.compose(ctx, req)
	outcome := Classify(err)
	if outcome == OutcomeStockConflict {
		c.metrics.StockConflict()
	}
	c.metrics.WorkOrderOutcome(string(variant), outcome)

	if guarded {
		c.settleIdempotency(ctx, req.IdempotencyKey, res, err)
	}
	if err == nil && c.events != nil {
		if perr := c.events.PublishWorkOrderCreated(ctx, res); perr != nil {
			c.logger.Warn("publish work order event failed",
				slog.Int64("work_order_id", res.Order.ID),
				slog.Any("error", perr))
		}
	}
	return res, err
}

func (c *Composer) compose(ctx context.Context, req Request) (*Result, error) {
	p, err := c.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("work order planned",
		slog.String("variant", string(p.variant)),
		slog.Int64("vehicle_id", p.order.VehicleID),
		slog.Int("lines", len(p.lines)),
		slog.String("total", p.order.TotalAmount.String()))

	if c.tx != nil {
		return c.runTransactional(ctx, p)
	}
	return c.runSaga(ctx, p)
}

// settleIdempotency records the created order, or frees the key when nothing
// was left behind. A partially created order keeps the key so a retry cannot
// create a second one.
func (c *Composer) settleIdempotency(ctx context.Context, key string, res *Result, err error) {
	ctx = context.WithoutCancel(ctx)
	var partial *PartialCreationError
	switch {
	case err == nil:
		if cerr := c.idempotency.Complete(ctx, key, idempotencyModule, strconv.FormatInt(res.Order.ID, 10)); cerr != nil {
			c.logger.Warn("idempotency complete failed", slog.String("key", key), slog.Any("error", cerr))
		}
	case errors.As(err, &partial):
		var id string
		if partial.WorkOrderID != 0 {
			id = strconv.FormatInt(partial.WorkOrderID, 10)
		}
		if cerr := c.idempotency.Complete(ctx, key, idempotencyModule, id); cerr != nil {
			c.logger.Warn("idempotency complete failed", slog.String("key", key), slog.Any("error", cerr))
		}
	default:
		if derr := c.idempotency.Delete(ctx, key, idempotencyModule); derr != nil {
			c.logger.Warn("idempotency release failed", slog.String("key", key), slog.Any("error", derr))
		}
	}
}

func (c *Composer) plan(ctx context.Context, req Request) (plan, error) {
	var (
		vehicle   workshop.Vehicle
		quotation workshop.Quotation
		products  map[int64]workshop.Product
		rate      workshop.TaxRate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.gateway.GetVehicle(gctx, req.VehicleID)
		if err != nil {
			return lookupError("vehicle_id", "vehicle", err)
		}
		vehicle = v
		return nil
	})
	switch src := req.Source.(type) {
	case WithQuotation:
		g.Go(func() error {
			q, err := c.gateway.GetQuotation(gctx, src.QuotationID)
			if err != nil {
				return lookupError("quotation_id", "quotation", err)
			}
			quotation = q
			return nil
		})
	case WithoutQuotation:
		g.Go(func() error {
			found, err := c.gateway.GetProducts(gctx, lineProductIDs(src.Lines))
			if err != nil {
				return fmt.Errorf("orders: load products: %w", err)
			}
			products = found
			return nil
		})
		g.Go(func() error {
			r, err := c.tax.ActiveTaxRate(gctx)
			if err != nil {
				return fmt.Errorf("orders: active tax rate: %w", err)
			}
			rate = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return plan{}, err
	}

	var (
		p   plan
		err error
	)
	switch src := req.Source.(type) {
	case WithQuotation:
		p, err = planFromQuotation(req, quotation, vehicle)
	case WithoutQuotation:
		p, err = planFromLines(req, src, products, rate)
	}
	if err != nil {
		return plan{}, err
	}
	p.order.VehicleID = req.VehicleID
	p.order.Status = workshop.WorkOrderStatusNotStarted
	p.order.OrderDate = req.OrderDate
	if p.order.OrderDate.IsZero() {
		p.order.OrderDate = c.now().UTC()
	}
	if !p.order.TotalAmount.Equal(p.order.Subtotal.Add(p.order.TaxAmount)) {
		return plan{}, fmt.Errorf("%w: total %s, subtotal %s, tax %s", ErrUnbalancedTotals,
			p.order.TotalAmount, p.order.Subtotal, p.order.TaxAmount)
	}
	return p, nil
}

func planFromQuotation(req Request, q workshop.Quotation, vehicle workshop.Vehicle) (plan, error) {
	if !q.Status.Valid() {
		return plan{}, invalid("quotation.status", fmt.Sprintf("quotation %d has unknown status %q", q.ID, q.Status))
	}
	if q.Status != workshop.QuotationStatusApproved {
		state := "is still awaiting approval"
		if q.Status.IsTerminal() {
			state = "was " + string(q.Status)
		}
		return plan{}, invalid("quotation_id", fmt.Sprintf("quotation %d %s, only approved quotations can be fulfilled", q.ID, state))
	}
	if q.VehicleID != req.VehicleID {
		return plan{}, invalid("quotation_id", fmt.Sprintf("quotation %d belongs to another vehicle", q.ID))
	}
	if len(q.Details) == 0 {
		return plan{}, invalid("quotation_id", fmt.Sprintf("quotation %d has no line items", q.ID))
	}

	lines := make([]workshop.LineItem, 0, len(q.Details))
	for i, d := range q.Details {
		if d.Quantity <= 0 {
			return plan{}, invalid(fmt.Sprintf("quotation.details[%d].quantity", i), "must be greater than zero")
		}
		lines = append(lines, workshop.LineItem{
			ProductID:      d.ProductID,
			Quantity:       d.Quantity,
			LaborPrice:     d.LaborPrice,
			Discount:       d.Discount,
			SalePrice:      d.SalePrice,
			TaxID:          d.TaxID,
			AppliedTaxRate: d.AppliedTaxRate,
		})
	}

	subtotal := pricing.Subtotal(lines)
	if q.Subtotal != nil {
		subtotal = *q.Subtotal
	}
	taxAmount := q.TotalPrice.Sub(subtotal)
	if q.TaxAmount != nil {
		taxAmount = *q.TaxAmount
	}
	taxRate := lines[0].AppliedTaxRate
	if q.TaxRate != nil {
		taxRate = *q.TaxRate
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = quotationDescription(q.ID, vehicle)
	}
	quotationID := q.ID
	return plan{
		variant: VariantWithQuotation,
		lines:   lines,
		order: workshop.WorkOrder{
			QuotationID: &quotationID,
			Description: description,
			TotalAmount: q.TotalPrice,
			Subtotal:    subtotal,
			TaxAmount:   taxAmount,
			TaxRate:     taxRate,
		},
	}, nil
}

func planFromLines(req Request, src WithoutQuotation, products map[int64]workshop.Product, rate workshop.TaxRate) (plan, error) {
	lines := make([]workshop.LineItem, 0, len(src.Lines))
	for i, l := range src.Lines {
		product, ok := products[l.ProductID]
		if !ok {
			return plan{}, invalid(fmt.Sprintf("lines[%d].product_id", i), fmt.Sprintf("product %d not found", l.ProductID))
		}
		line := pricing.Price(product, workshop.LineItem{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			LaborPrice:     l.LaborPrice,
			Discount:       l.Discount,
			TaxID:          rate.ID,
			AppliedTaxRate: rate.Percent,
		})
		if err := pricing.ValidateLine(line); err != nil {
			return plan{}, invalid(fmt.Sprintf("lines[%d].discount", i), err.Error())
		}
		lines = append(lines, line)
	}
	quote := pricing.Quote(lines, rate.Percent)
	return plan{
		variant: VariantWithoutQuotation,
		lines:   lines,
		order: workshop.WorkOrder{
			Description: strings.TrimSpace(req.Description),
			TotalAmount: quote.Total,
			Subtotal:    quote.Subtotal,
			TaxAmount:   quote.TaxAmount,
			TaxRate:     quote.TaxRate,
		},
	}, nil
}

// runTransactional performs verify, persist and decrement inside one
// transaction.
func (c *Composer) runTransactional(ctx context.Context, p plan) (*Result, error) {
	var res *Result
	err := c.tx.WithTx(ctx, func(ctx context.Context, gw Gateway) error {
		stockSvc := c.stock.WithStore(gw)
		if err := stockSvc.Verify(ctx, p.lines); err != nil {
			return err
		}
		order, err := gw.CreateWorkOrder(ctx, p.order)
		if err != nil {
			return fmt.Errorf("orders: create work order: %w", err)
		}
		details := make([]workshop.WorkProductDetail, 0, len(p.lines))
		for _, line := range p.lines {
			detail, err := gw.CreateWorkProductDetail(ctx, detailFor(order.ID, line))
			if err != nil {
				return fmt.Errorf("orders: create work product detail for product %d: %w", line.ProductID, err)
			}
			details = append(details, detail)
		}
		movements, err := stockSvc.Decrement(ctx, p.lines)
		if err != nil {
			return err
		}
		res = &Result{Variant: p.variant, Order: order, Details: details, Movements: movements}
		return nil
	})
	if err != nil {
		c.logger.Info("work order transaction rolled back", slog.String("variant", string(p.variant)), slog.Any("error", err))
		return nil, err
	}
	c.logger.Info("work order created", slog.Int64("work_order_id", res.Order.ID), slog.String("variant", string(p.variant)))
	return res, nil
}

// runSaga performs the persistence steps one call at a time, holding the
// product locks, and undoes completed steps when a later one fails.
func (c *Composer) runSaga(ctx context.Context, p plan) (*Result, error) {
	lease, err := c.stock.Lock(ctx, p.lines)
	if err != nil {
		return nil, fmt.Errorf("orders: lock stock: %w", err)
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			c.logger.Warn("release stock locks", slog.Any("error", rerr))
		}
	}()

	if err := c.stock.Verify(ctx, p.lines); err != nil {
		return nil, err
	}
	c.logger.Debug("stock verified", slog.Int("lines", len(p.lines)))

	comp := Compensation{SagaID: uuid.NewString()}
	order, err := c.gateway.CreateWorkOrder(ctx, p.order)
	if errors.Is(err, workshop.ErrUncertainWrite) {
		return nil, c.rollback(ctx, comp, fmt.Errorf("orders: create work order: %w", err))
	}
	if err != nil {
		return nil, fmt.Errorf("orders: create work order: %w", err)
	}
	comp.WorkOrderID = order.ID
	c.logger.Debug("work order persisted", slog.Int64("work_order_id", order.ID), slog.String("saga_id", comp.SagaID))

	details := make([]workshop.WorkProductDetail, 0, len(p.lines))
	for _, line := range p.lines {
		detail, err := c.gateway.CreateWorkProductDetail(ctx, detailFor(order.ID, line))
		if err != nil {
			return nil, c.rollback(ctx, comp, fmt.Errorf("orders: create work product detail for product %d: %w", line.ProductID, err))
		}
		comp.DetailIDs = append(comp.DetailIDs, detail.ID)
		details = append(details, detail)
	}

	movements, err := c.stock.Decrement(ctx, p.lines)
	comp.Movements = movements
	if err != nil {
		return nil, c.rollback(ctx, comp, err)
	}

	c.logger.Info("work order created", slog.Int64("work_order_id", order.ID), slog.String("variant", string(p.variant)))
	return &Result{Variant: p.variant, Order: order, Details: details, Movements: movements}, nil
}

// rollback runs the compensations for comp. It returns cause when everything
// was undone and a *PartialCreationError otherwise. A cause whose write may
// have been applied is always partial: what it left behind is not in comp.
func (c *Composer) rollback(ctx context.Context, comp Compensation, cause error) error {
	ctx = context.WithoutCancel(ctx)
	uncertain := errors.Is(cause, workshop.ErrUncertainWrite)
	remaining, err := c.compensator.Run(ctx, comp)
	if err == nil {
		c.metrics.CompensationOutcome(CompensationCompleted)
		if !uncertain {
			c.logger.Info("work order rolled back",
				slog.Int64("work_order_id", comp.WorkOrderID),
				slog.String("saga_id", comp.SagaID),
				slog.Any("cause", cause))
			return cause
		}
	} else {
		c.metrics.CompensationOutcome(CompensationFailed)
	}

	partial := &PartialCreationError{
		WorkOrderID:     comp.WorkOrderID,
		Outstanding:     remaining,
		Cause:           cause,
		CompensationErr: err,
		Uncertain:       uncertain,
	}
	if c.reconciler != nil && !remaining.Empty() {
		if qerr := c.reconciler.EnqueueReconcile(ctx, remaining); qerr != nil {
			c.logger.Error("enqueue reconciliation failed",
				slog.Int64("work_order_id", comp.WorkOrderID),
				slog.Any("error", qerr))
		} else {
			partial.Enqueued = true
		}
	}
	c.logger.Error("work order partially created",
		slog.Int64("work_order_id", comp.WorkOrderID),
		slog.String("saga_id", comp.SagaID),
		slog.Any("outstanding_details", remaining.DetailIDs),
		slog.Any("outstanding_movements", remaining.Movements),
		slog.Bool("unconfirmed_write", uncertain),
		slog.Bool("reconciliation_enqueued", partial.Enqueued),
		slog.Any("error", partial))
	return partial
}

// Classify maps a Compose error onto an outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return OutcomeCreated
	case errors.Is(err, ErrPartialCreation):
		return OutcomePartial
	case errors.Is(err, ErrValidation):
		return OutcomeRejected
	case errors.Is(err, ErrDuplicateSubmission):
		return OutcomeDuplicate
	case errors.Is(err, stock.ErrInsufficientStock):
		return OutcomeInsufficientStock
	case errors.Is(err, stock.ErrStockConflict):
		return OutcomeStockConflict
	case errors.Is(err, workshop.ErrNetwork):
		return OutcomeNetworkError
	default:
		return OutcomeFailed
	}
}

func detailFor(orderID int64, line workshop.LineItem) workshop.WorkProductDetail {
	return workshop.WorkProductDetail{
		WorkOrderID:    orderID,
		ProductID:      line.ProductID,
		Quantity:       line.Quantity,
		SalePrice:      line.SalePrice,
		LaborPrice:     line.LaborPrice,
		Discount:       line.Discount,
		TaxID:          line.TaxID,
		AppliedTaxRate: line.AppliedTaxRate,
	}
}

func lookupError(field, what string, err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return invalid(field, what+" not found")
	}
	return fmt.Errorf("orders: load %s: %w", what, err)
}

func lineProductIDs(lines []LineRequest) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

func variantOf(src Source) Variant {
	if src == nil {
		return ""
	}
	return src.Variant()
}

// quotationDescription names the quotation and, when known, the vehicle.
func quotationDescription(quotationID int64, vehicle workshop.Vehicle) string {
	base := fmt.Sprintf("Work order from quotation #%d", quotationID)
	name := strings.TrimSpace(vehicle.Brand + " " + vehicle.Model)
	if name != "" {
		name = cases.Title(language.Und).String(strings.ToLower(name))
	}
	plate := strings.ToUpper(strings.TrimSpace(vehicle.Plate))
	switch {
	case name != "" && plate != "":
		return fmt.Sprintf("%s for %s (%s)", base, name, plate)
	case name != "":
		return base + " for " + name
	case plate != "":
		return base + " for " + plate
	}
	return base
}
