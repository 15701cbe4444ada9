package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-workshop/internal/gateway/postgres"
	"github.com/odyssey-erp/odyssey-workshop/internal/gateway/rest"
	"github.com/odyssey-erp/odyssey-workshop/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-workshop/internal/platform/db"
	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
)

const vehicleCacheNamespace = "workshop:vehicles"

// Backend is the persistence gateway selected by GATEWAY_MODE. Transactor is
// set only when the backend can run a work order in one transaction; Locker
// only when stock writes need product locks.
type Backend struct {
	Gateway    orders.Gateway
	Transactor orders.Transactor
	Locker     stock.Locker
	closeFn    func()
}

// OpenBackend connects the configured gateway.
func OpenBackend(ctx context.Context, cfg *Config, redisClient *redis.Client, logger *slog.Logger) (*Backend, error) {
	switch cfg.GatewayMode {
	case GatewayREST:
		vehicles := cache.NewJSONCache(redisClient, vehicleCacheNamespace, cfg.VehicleCacheTTL)
		client := rest.New(rest.Config{
			BaseURL:       cfg.GatewayURL,
			Timeout:       cfg.GatewayTimeout,
			SessionCookie: cfg.GatewaySessionCookie,
		}, vehicles, logger)
		return &Backend{
			Gateway: client,
			Locker:  shared.NewProductLocker(redisClient, cfg.StockLockTTL, cfg.StockLockWait),
			closeFn: func() {},
		}, nil
	case GatewayPostgres:
		pool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
		if err != nil {
			return nil, err
		}
		repo := postgres.NewRepository(pool)
		if cfg.PGAutoMigrate {
			if err := repo.Migrate(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("schema migrated")
		}
		return &Backend{Gateway: repo, Transactor: repo, closeFn: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.GatewayMode)
	}
}

// Close releases the backend connections.
func (b *Backend) Close() {
	if b != nil && b.closeFn != nil {
		b.closeFn()
	}
}
