// Package taxrate supplies the active tax percentage captured into work orders.
package taxrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
)

var (
	// ErrInvalidRate is returned when the configured percent is outside [0, 100].
	ErrInvalidRate = errors.New("taxrate: percent must be between 0 and 100")
	// ErrNoActiveRate is returned when the configuration has no active entry.
	ErrNoActiveRate = errors.New("taxrate: no active tax configured")
)

var maxPercent = decimal.NewFromInt(100)

// Provider returns the tax configuration active right now. Implementations
// hold no state; callers snapshot the value into the record they create.
type Provider interface {
	ActiveTaxRate(ctx context.Context) (workshop.TaxRate, error)
}

// Source reads the raw tax configuration from the persistence gateway.
type Source interface {
	ActiveTax(ctx context.Context) (workshop.TaxRate, error)
}

// GatewayProvider validates rates read from a Source.
type GatewayProvider struct {
	source Source
}

// NewGatewayProvider builds a provider backed by the gateway.
func NewGatewayProvider(source Source) *GatewayProvider {
	return &GatewayProvider{source: source}
}

// ActiveTaxRate implements Provider.
func (p *GatewayProvider) ActiveTaxRate(ctx context.Context) (workshop.TaxRate, error) {
	if p == nil || p.source == nil {
		return workshop.TaxRate{}, errors.New("taxrate: source not configured")
	}
	rate, err := p.source.ActiveTax(ctx)
	if err != nil {
		return workshop.TaxRate{}, fmt.Errorf("taxrate: read active: %w", err)
	}
	if err := Validate(rate); err != nil {
		return workshop.TaxRate{}, err
	}
	return rate, nil
}

// Validate checks that the percent is usable.
func Validate(rate workshop.TaxRate) error {
	if rate.Percent.IsNegative() || rate.Percent.GreaterThan(maxPercent) {
		return fmt.Errorf("%w: got %s", ErrInvalidRate, rate.Percent)
	}
	return nil
}

// Collapsing merges concurrent in-flight reads into one upstream call. It
// keeps nothing between calls, so sequential workflows always see a fresh rate.
type Collapsing struct {
	next  Provider
	group singleflight.Group
}

// NewCollapsing wraps next.
func NewCollapsing(next Provider) *Collapsing {
	return &Collapsing{next: next}
}

// ActiveTaxRate implements Provider. The shared read is detached from the
// caller that started it, so one caller giving up does not fail the others.
func (c *Collapsing) ActiveTaxRate(ctx context.Context) (workshop.TaxRate, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("active", func() (interface{}, error) {
		return c.next.ActiveTaxRate(shared)
	})
	select {
	case <-ctx.Done():
		return workshop.TaxRate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return workshop.TaxRate{}, res.Err
		}
		return res.Val.(workshop.TaxRate), nil
	}
}

// Static always returns the same rate. Useful for tests and fixed deployments.
type Static workshop.TaxRate

// ActiveTaxRate implements Provider.
func (s Static) ActiveTaxRate(context.Context) (workshop.TaxRate, error) {
	rate := workshop.TaxRate(s)
	if err := Validate(rate); err != nil {
		return workshop.TaxRate{}, err
	}
	return rate, nil
}
