// Package stock verifies requested quantities against inventory and applies
// the matching decrements.
package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

var (
	// ErrInsufficientStock matches any *InsufficientStockError.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrStockConflict means stock dropped below the requested quantity after
	// verification passed. Decrements never clamp to zero.
	ErrStockConflict = errors.New("stock: available quantity changed since verification")
	// ErrInvalidQuantity indicates a non-positive requested quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be greater than zero")
)

// InsufficientStockError names the product that cannot be served.
type InsufficientStockError struct {
	ProductID int64
	Requested int
	Available int
	Missing   bool
}

func (e *InsufficientStockError) Error() string {
	if e.Missing {
		return fmt.Sprintf("stock: no stock record for product %d (requested %d)", e.ProductID, e.Requested)
	}
	return fmt.Sprintf("stock: product %d has %d available, %d requested", e.ProductID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockUpdateError reports a failed decrement for one product.
type StockUpdateError struct {
	ProductID int64
	Requested int
	Err       error
}

func (e *StockUpdateError) Error() string {
	return fmt.Sprintf("stock: decrement product %d by %d: %v", e.ProductID, e.Requested, e.Err)
}

func (e *StockUpdateError) Unwrap() error {
	return e.Err
}

// Store abstracts inventory persistence.
type Store interface {
	// Snapshot reads the current records for the given products. Products
	// without a record are absent from the map.
	Snapshot(ctx context.Context, productIDs []int64) (map[int64]workshop.StockRecord, error)
	// DecrementIfAvailable subtracts qty only when at least qty is on hand and
	// reports whether it did.
	DecrementIfAvailable(ctx context.Context, productID int64, qty int) (bool, error)
	// Increment adds qty back, used by compensations.
	Increment(ctx context.Context, productID int64, qty int) error
}

// Locker serialises stock work on a product set.
type Locker interface {
	Acquire(ctx context.Context, productIDs []int64) (*shared.Lease, error)
}

// Service coordinates stock verification and decrements.
type Service struct {
	store  Store
	locker Locker
	logger *slog.Logger
}

// NewService builds Service. locker may be nil when the store's conditional
// decrement is already atomic.
func NewService(store Store, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, locker: locker, logger: logger}
}

// WithStore returns a copy bound to another store, e.g. a transactional one.
func (s *Service) WithStore(store Store) *Service {
	clone := *s
	clone.store = store
	return &clone
}

// Requested sums quantities per product, keeping first-seen order.
func Requested(lines []workshop.LineItem) ([]int64, map[int64]int) {
	order := make([]int64, 0, len(lines))
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		if _, ok := totals[line.ProductID]; !ok {
			order = append(order, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}
	return order, totals
}

// VerifyAvailability checks every line against the snapshot and fails on the
// first product that cannot be served. Lines for the same product are summed.
func VerifyAvailability(lines []workshop.LineItem, snapshot map[int64]workshop.StockRecord) error {
	order, totals := Requested(lines)
	for _, productID := range order {
		requested := totals[productID]
		if requested <= 0 {
			return fmt.Errorf("product %d: %w", productID, ErrInvalidQuantity)
		}
		record, ok := snapshot[productID]
		if !ok {
			return &InsufficientStockError{ProductID: productID, Requested: requested, Missing: true}
		}
		if record.Quantity < requested {
			return &InsufficientStockError{ProductID: productID, Requested: requested, Available: record.Quantity}
		}
	}
	return nil
}

// Lock takes the product locks for the lines. The returned lease must be
// released once the decrements are done.
func (s *Service) Lock(ctx context.Context, lines []workshop.LineItem) (*shared.Lease, error) {
	if s.locker == nil {
		return &shared.Lease{}, nil
	}
	ids, _ := Requested(lines)
	return s.locker.Acquire(ctx, ids)
}

// Verify reads a fresh snapshot and verifies the lines against it.
func (s *Service) Verify(ctx context.Context, lines []workshop.LineItem) error {
	ids, _ := Requested(lines)
	snapshot, err := s.store.Snapshot(ctx, ids)
	if err != nil {
		return fmt.Errorf("stock: read snapshot: %w", err)
	}
	return VerifyAvailability(lines, snapshot)
}

// Decrement applies each line in order. On failure it returns the movements
// already applied so the caller can restore them.
func (s *Service) Decrement(ctx context.Context, lines []workshop.LineItem) ([]workshop.StockMovement, error) {
	applied := make([]workshop.StockMovement, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return applied, &StockUpdateError{ProductID: line.ProductID, Requested: line.Quantity, Err: ErrInvalidQuantity}
		}
		ok, err := s.store.DecrementIfAvailable(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return applied, &StockUpdateError{ProductID: line.ProductID, Requested: line.Quantity, Err: err}
		}
		if !ok {
			s.logger.Warn("stock conflict on decrement",
				slog.Int64("product_id", line.ProductID),
				slog.Int("requested", line.Quantity))
			return applied, &StockUpdateError{ProductID: line.ProductID, Requested: line.Quantity, Err: ErrStockConflict}
		}
		applied = append(applied, workshop.StockMovement{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return applied, nil
}

// Restore re-increments movements in reverse order. It keeps going after a
// failure and returns the movements it could not restore.
func (s *Service) Restore(ctx context.Context, movements []workshop.StockMovement) ([]workshop.StockMovement, error) {
	var (
		failed []workshop.StockMovement
		errs   []error
	)
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if err := s.store.Increment(ctx, m.ProductID, m.Quantity); err != nil {
			failed = append(failed, m)
			errs = append(errs, fmt.Errorf("restore product %d: %w", m.ProductID, err))
		}
	}
	return failed, errors.Join(errs...)
}
