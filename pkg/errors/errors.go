// Package apperrors defines the categorized error sentinels the engine
// surfaces to its callers. Categories follow the failure taxonomy: invalid
// construction input is fatal, transient external failures are retried,
// drift/invariant violations trigger recovery, and stale plans are simply
// discarded.
package apperrors

import "errors"

// Construction / validation errors (fatal at startup).
var (
	ErrInvalidIncrement  = errors.New("increment_percent must be in (0, 100)")
	ErrInvalidPriceRange = errors.New("min_price must be less than max_price")
	ErrStartPriceOutOfRange = errors.New("start_price must lie within [min_price, max_price]")
	ErrNonFinitePrice    = errors.New("price is not finite")
	ErrInvalidPrecision  = errors.New("precision must be non-negative")
)

// Transient external errors (retried with backoff).
var (
	ErrExchangeTimeout      = errors.New("exchange operation timed out")
	ErrExchangeUnavailable  = errors.New("exchange temporarily unavailable")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
)

// Drift / invariant errors (trigger recovery).
var (
	ErrFundLedgerDrift  = errors.New("fund ledger drift exceeds tolerance")
	ErrCacheFundsExceed = errors.New("cache funds exceed free balance")
	ErrPhantomDetected  = errors.New("phantom on-book slot detected")
)

// Planning errors (plan discarded, no partial commit).
var (
	ErrStalePlan       = errors.New("working grid base_version is stale")
	ErrEmptyDelta      = errors.New("plan produces no delta against master")
	ErrSlotStillOnBook = errors.New("create targets a slot still holding a live order")
	ErrFundShortfall   = errors.New("plan requires more funds than chain_total allows")
)

// Recovery errors.
var (
	ErrRecoveryInFlight  = errors.New("a recovery attempt is already in flight")
	ErrRecoveryAttemptsExhausted = errors.New("recovery attempt cap reached for this cycle")
)

// Order/exchange collaborator errors.
var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderRejected  = errors.New("order rejected by exchange")
	ErrInsufficientFunds = errors.New("insufficient funds for order")
)
