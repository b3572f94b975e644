package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	apperrors "gridmm/pkg/errors"
	"gridmm/pkg/logging"
)

// RetryingClient wraps a Client with a rate limiter on writes and a
// bounded exponential-backoff retry on reads (spec §5 "On timeout the
// attempt is logged and the operation is either retried with
// exponential backoff (read-side) or escalated to recovery
// (write-side)").
type RetryingClient struct {
	inner Client
	limit *rate.Limiter

	readPipeline failsafe.Executor[any]
	logger       logging.Logger
}

// NewRetryingClient wraps inner with a burstRate/sec limiter on writes
// and an exponential backoff on reads of up to 3 retries (4 attempts).
func NewRetryingClient(inner Client, burstRate float64, burst int, logger logging.Logger) *RetryingClient {
	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, apperrors.ErrExchangeTimeout) || errors.Is(err, apperrors.ErrExchangeUnavailable)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	return &RetryingClient{
		inner:        inner,
		limit:        rate.NewLimiter(rate.Limit(burstRate), burst),
		readPipeline: failsafe.With[any](retryPolicy),
		logger:       logger.WithField("component", "exchange_client"),
	}
}

func (c *RetryingClient) ReadAccountTotals(ctx context.Context, assetID string) (AccountTotals, error) {
	result, err := failsafe.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return c.inner.ReadAccountTotals(ctx, assetID)
	}, c.readPipeline)
	if err != nil {
		return AccountTotals{}, err
	}
	return result.(AccountTotals), nil
}

func (c *RetryingClient) ReadOpenOrders(ctx context.Context) ([]OpenOrder, error) {
	result, err := failsafe.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return c.inner.ReadOpenOrders(ctx)
	}, c.readPipeline)
	if err != nil {
		return nil, err
	}
	return result.([]OpenOrder), nil
}

// CreateOrder, UpdateOrder, and CancelOrder are not retried
// automatically: a failed write escalates to recovery (spec §4.4
// "Broadcast and reversal"), since blindly retrying a broadcast risks
// a duplicate order.
func (c *RetryingClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (string, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return "", err
	}
	return c.inner.CreateOrder(ctx, req)
}

func (c *RetryingClient) UpdateOrder(ctx context.Context, req UpdateOrderRequest) error {
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}
	return c.inner.UpdateOrder(ctx, req)
}

func (c *RetryingClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.limit.Wait(ctx); err != nil {
		return err
	}
	return c.inner.CancelOrder(ctx, orderID)
}

func (c *RetryingClient) Fills(ctx context.Context) (<-chan Fill, error) {
	return c.inner.Fills(ctx)
}

// Close passes through to the wrapped client when it supports cleanup
// (the simulated client's fill feed listener); live exchange clients
// typically have nothing to close here.
func (c *RetryingClient) Close() error {
	if closer, ok := c.inner.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
