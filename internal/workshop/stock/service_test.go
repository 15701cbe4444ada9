package stock

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

type memoryStore struct {
	mu          sync.Mutex
	quantities  map[int64]int
	failOn      int64
	failRestore int64
	decrements  int
	snapshotErr error
}

func newMemoryStore(q map[int64]int) *memoryStore {
	return &memoryStore{quantities: q}
}

func (m *memoryStore) Snapshot(ctx context.Context, ids []int64) (map[int64]workshop.StockRecord, error) {
	if m.snapshotErr != nil {
		return nil, m.snapshotErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]workshop.StockRecord)
	for _, id := range ids {
		if q, ok := m.quantities[id]; ok {
			out[id] = workshop.StockRecord{ProductID: id, Quantity: q}
		}
	}
	return out, nil
}

func (m *memoryStore) DecrementIfAvailable(ctx context.Context, id int64, qty int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.failOn {
		return false, errors.New("gateway down")
	}
	m.decrements++
	if m.quantities[id] < qty {
		return false, nil
	}
	m.quantities[id] -= qty
	return true, nil
}

func (m *memoryStore) Increment(ctx context.Context, id int64, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.failRestore {
		return errors.New("gateway down")
	}
	m.quantities[id] += qty
	return nil
}

func lines(pairs ...int) []workshop.LineItem {
	var out []workshop.LineItem
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, workshop.LineItem{ProductID: int64(pairs[i]), Quantity: pairs[i+1]})
	}
	return out
}

func TestVerifyAvailabilityRejectsWholeBatch(t *testing.T) {
	store := newMemoryStore(map[int64]int{1: 10, 2: 3, 3: 8})
	svc := NewService(store, nil, nil)

	err := svc.Verify(context.Background(), lines(1, 2, 2, 5, 3, 1))
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(2), insufficient.ProductID)
	require.Equal(t, 3, insufficient.Available)
	require.Equal(t, 5, insufficient.Requested)
	require.Equal(t, map[int64]int{1: 10, 2: 3, 3: 8}, store.quantities)
	require.Zero(t, store.decrements)
}

func TestVerifyAvailabilityMissingRecord(t *testing.T) {
	err := VerifyAvailability(lines(4, 1), map[int64]workshop.StockRecord{})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Missing)
	require.Zero(t, insufficient.Available)
}

func TestVerifyAvailabilitySumsSameProduct(t *testing.T) {
	snapshot := map[int64]workshop.StockRecord{1: {ProductID: 1, Quantity: 4}}
	require.NoError(t, VerifyAvailability(lines(1, 2, 1, 2), snapshot))
	require.ErrorIs(t, VerifyAvailability(lines(1, 2, 1, 3), snapshot), ErrInsufficientStock)
}

func TestVerifyPropagatesSnapshotError(t *testing.T) {
	store := newMemoryStore(nil)
	store.snapshotErr = errors.New("timeout")
	err := NewService(store, nil, nil).Verify(context.Background(), lines(1, 1))
	require.ErrorContains(t, err, "timeout")
}

func TestDecrementAppliesInOrder(t *testing.T) {
	store := newMemoryStore(map[int64]int{1: 5, 2: 5})
	svc := NewService(store, nil, nil)

	applied, err := svc.Decrement(context.Background(), lines(1, 2, 2, 1, 1, 1))
	require.NoError(t, err)
	require.Equal(t, []workshop.StockMovement{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}}, applied)
	require.Equal(t, 2, store.quantities[1])
	require.Equal(t, 4, store.quantities[2])
}

// Reaching the decrement with less stock than requested must fail loudly
// instead of clamping the record to zero.
func TestDecrementBeyondAvailableFailsWithoutClamping(t *testing.T) {
	store := newMemoryStore(map[int64]int{1: 3})
	svc := NewService(store, nil, nil)

	applied, err := svc.Decrement(context.Background(), lines(1, 5))
	require.ErrorIs(t, err, ErrStockConflict)
	var updateErr *StockUpdateError
	require.ErrorAs(t, err, &updateErr)
	require.Equal(t, int64(1), updateErr.ProductID)
	require.Empty(t, applied)
	require.Equal(t, 3, store.quantities[1])
}

func TestDecrementReturnsAppliedOnStoreFailure(t *testing.T) {
	store := newMemoryStore(map[int64]int{1: 5, 2: 5})
	store.failOn = 2
	svc := NewService(store, nil, nil)

	applied, err := svc.Decrement(context.Background(), lines(1, 2, 2, 1))
	require.Error(t, err)
	require.Equal(t, []workshop.StockMovement{{ProductID: 1, Quantity: 2}}, applied)

	failed, err := svc.Restore(context.Background(), applied)
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Equal(t, 5, store.quantities[1])
}

func TestRestoreReportsUnrestoredMovements(t *testing.T) {
	store := newMemoryStore(map[int64]int{1: 0, 2: 0})
	store.failRestore = 1
	svc := NewService(store, nil, nil)

	failed, err := svc.Restore(context.Background(), []workshop.StockMovement{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 3}})
	require.Error(t, err)
	require.Equal(t, []workshop.StockMovement{{ProductID: 1, Quantity: 2}}, failed)
	require.Equal(t, 3, store.quantities[2])
}

func TestDecrementRejectsNonPositiveQuantity(t *testing.T) {
	svc := NewService(newMemoryStore(map[int64]int{1: 5}), nil, nil)
	_, err := svc.Decrement(context.Background(), lines(1, 0))
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestLockWithoutLockerIsNoop(t *testing.T) {
	svc := NewService(newMemoryStore(nil), nil, nil)
	lease, err := svc.Lock(context.Background(), lines(1, 1))
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}
