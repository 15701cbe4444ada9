// Package rest talks to the workshop persistence service over its JSON REST
// API.
package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/odyssey-erp/odyssey-workshop/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
)

var _ orders.Gateway = (*Client)(nil)

// errStaleRecord is returned when the server rejects a write because the
// record changed after it was read.
var errStaleRecord = errors.New("rest: record modified concurrently")

// Config configures the REST gateway.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	SessionCookie string
}

// Client is a resty-backed persistence gateway.
type Client struct {
	http     *resty.Client
	vehicles *cache.JSONCache
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Client. vehicles may be nil to disable vehicle caching.
func New(cfg Config, vehicles *cache.JSONCache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if cfg.SessionCookie != "" {
		restyClient.SetHeader("Cookie", cfg.SessionCookie)
	}

	return &Client{
		http:     restyClient,
		vehicles: vehicles,
		logger:   logger,
		now:      time.Now,
	}
}

// errorBody is the error payload returned by the persistence service.
type errorBody struct {
	Message string `json:"message"`
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&errorBody{})
}

// check turns a transport failure or an error status into a domain error.
// 404 maps to shared.ErrNotFound, everything else to *workshop.NetworkError.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &workshop.NetworkError{Op: op, Err: err}
	}
	status := resp.StatusCode()
	if status < http.StatusBadRequest {
		return nil
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
	}
	if status == http.StatusPreconditionFailed {
		return fmt.Errorf("%s: %w", op, errStaleRecord)
	}
	netErr := &workshop.NetworkError{Op: op, Status: status}
	if body, ok := resp.Error().(*errorBody); ok && body != nil {
		netErr.Message = body.Message
	}
	return netErr
}

// checkWrite is check for mutating calls. When no response arrived, or a
// proxy gave up waiting with 504, the service may still have applied the
// write, so the error is marked uncertain.
func checkWrite(op string, resp *resty.Response, err error) error {
	cerr := check(op, resp, err)
	var netErr *workshop.NetworkError
	if errors.As(cerr, &netErr) && (netErr.Status == 0 || netErr.Status == http.StatusGatewayTimeout) {
		netErr.Uncertain = true
	}
	return cerr
}
