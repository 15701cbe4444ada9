package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a product lock could not be obtained in time.
var ErrLockTimeout = errors.New("shared: lock wait timed out")

// ProductLockKey builds redis keys for stock critical sections.
func ProductLockKey(productID int64) string {
	return fmt.Sprintf("stock:product:%d:lock", productID)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ProductLocker serialises stock mutations on the same product across
// processes. Locks carry a TTL so a crashed holder cannot block forever.
type ProductLocker struct {
	client  *redis.Client
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
}

// NewProductLocker constructs a locker. ttl bounds how long a lock survives
// its holder, wait bounds how long Acquire blocks.
func NewProductLocker(client *redis.Client, ttl, wait time.Duration) *ProductLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &ProductLocker{client: client, ttl: ttl, wait: wait, backoff: 25 * time.Millisecond}
}

// Lease is a set of held product locks.
type Lease struct {
	locker *ProductLocker
	token  string
	keys   []string
}

// Acquire locks every product in ascending id order, so two callers locking
// overlapping sets cannot deadlock. Duplicated ids are locked once.
func (l *ProductLocker) Acquire(ctx context.Context, productIDs []int64) (*Lease, error) {
	if l == nil || l.client == nil {
		return &Lease{}, nil
	}
	ids := uniqueSorted(productIDs)
	lease := &Lease{locker: l, token: uuid.NewString()}
	deadline := time.Now().Add(l.wait)
	for _, id := range ids {
		key := ProductLockKey(id)
		if err := l.acquireOne(ctx, key, lease.token, deadline); err != nil {
			_ = lease.Release(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("lock product %d: %w", id, err)
		}
		lease.keys = append(lease.keys, key)
	}
	return lease, nil
}

func (l *ProductLocker) acquireOne(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// Release drops every lock still owned by this lease.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil || s.locker == nil {
		return nil
	}
	var errs []error
	for i := len(s.keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, s.locker.client, []string{s.keys[i]}, s.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			errs = append(errs, err)
		}
	}
	s.keys = nil
	return errors.Join(errs...)
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
