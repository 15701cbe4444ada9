package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

const maxIncrementAttempts = 3

// Snapshot reads the stock records of the given products.
func (c *Client) Snapshot(ctx context.Context, productIDs []int64) (map[int64]workshop.StockRecord, error) {
	out := make(map[int64]workshop.StockRecord, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []stockDTO
	resp, err := c.request(ctx).
		SetResult(&rows).
		SetQueryParamsFromValues(idValues("product_id", productIDs)).
		Get("/stockProducts")
	if err := check("list stock", resp, err); err != nil {
		return nil, err
	}
	// One record per product is expected; on duplicates the lowest id wins.
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	for _, row := range rows {
		if existing, ok := out[row.ProductID]; ok {
			c.logger.Warn("duplicate stock record",
				slog.Int64("product_id", row.ProductID),
				slog.Int64("kept_id", existing.ID),
				slog.Int64("ignored_id", row.ID))
			continue
		}
		out[row.ProductID] = row.domain()
	}
	return out, nil
}

func (c *Client) stockRecord(ctx context.Context, productID int64) (workshop.StockRecord, error) {
	records, err := c.Snapshot(ctx, []int64{productID})
	if err != nil {
		return workshop.StockRecord{}, err
	}
	record, ok := records[productID]
	if !ok {
		return workshop.StockRecord{}, fmt.Errorf("stock record for product %d: %w", productID, shared.ErrNotFound)
	}
	return record, nil
}

// putStock writes a new quantity. The write is conditional on the record not
// having changed since it was read.
func (c *Client) putStock(ctx context.Context, record workshop.StockRecord, quantity int) error {
	req := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(record.ID, 10)).
		SetBody(stockUpdateDTO{Quantity: quantity, UpdatedAt: c.now().UTC()})
	if !record.UpdatedAt.IsZero() {
		req.SetHeader("If-Unmodified-Since", record.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	resp, err := req.Put("/stockProducts/{id}")
	return checkWrite(fmt.Sprintf("update stock of product %d", record.ProductID), resp, err)
}

// settle works out whether a stock write that got no response was applied.
// It re-reads the record: seeing want means the write landed. Seeing the old
// quantity, it re-stamps the record with that quantity so the lost write
// fails its precondition if it ever arrives. Callers hold the product lock.
// The returned error is still uncertain when neither check is conclusive.
func (c *Client) settle(ctx context.Context, before workshop.StockRecord, want int, werr error) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	log := c.logger.With(slog.Int64("product_id", before.ProductID), slog.Int("want", want))
	for attempt := 0; attempt < 2; attempt++ {
		current, err := c.stockRecord(ctx, before.ProductID)
		if err != nil {
			log.Warn("re-read after unconfirmed stock write failed", slog.Any("error", err))
			return false, werr
		}
		switch {
		case current.Quantity == want:
			log.Info("unconfirmed stock write was applied")
			return true, nil
		case current.Quantity != before.Quantity || before.UpdatedAt.IsZero():
			log.Warn("unconfirmed stock write left an unexpected quantity", slog.Int("quantity", current.Quantity))
			return false, werr
		}
		ferr := c.putStock(ctx, before, before.Quantity)
		if ferr == nil {
			log.Info("unconfirmed stock write was not applied")
			return false, confirmed(werr)
		}
		if !errors.Is(ferr, errStaleRecord) {
			return false, werr
		}
	}
	return false, werr
}

// confirmed clears the uncertain mark once the write is known not to have
// been applied.
func confirmed(err error) error {
	var netErr *workshop.NetworkError
	if errors.As(err, &netErr) {
		netErr.Uncertain = false
	}
	return err
}

// DecrementIfAvailable reads the product's record and writes the reduced
// quantity only when enough is on hand. It reports false when stock is short,
// the record is missing or the record changed in between. Callers hold the
// product lock.
func (c *Client) DecrementIfAvailable(ctx context.Context, productID int64, qty int) (bool, error) {
	record, err := c.stockRecord(ctx, productID)
	if errors.Is(err, shared.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if record.Quantity < qty {
		return false, nil
	}
	want := record.Quantity - qty
	err = c.putStock(ctx, record, want)
	if errors.Is(err, workshop.ErrUncertainWrite) {
		return c.settle(ctx, record, want, err)
	}
	if errors.Is(err, errStaleRecord) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Increment adds qty back to the product's stock, retrying when the record
// changes underneath.
func (c *Client) Increment(ctx context.Context, productID int64, qty int) error {
	var err error
	for attempt := 0; attempt < maxIncrementAttempts; attempt++ {
		var record workshop.StockRecord
		record, err = c.stockRecord(ctx, productID)
		if err != nil {
			return err
		}
		want := record.Quantity + qty
		err = c.putStock(ctx, record, want)
		if errors.Is(err, workshop.ErrUncertainWrite) {
			_, err = c.settle(ctx, record, want, err)
			return err
		}
		if !errors.Is(err, errStaleRecord) {
			return err
		}
	}
	return err
}
