// Package valuation computes point-in-time collateral market values and
// loan-to-value ratios from exchange-rate snapshots.
package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/internal/repository"
)

// LTV ratios are normalized to this scale for cross-currency comparison.
const LtvScale = 18

// Result holds a computed collateral valuation.
type Result struct {
	// CollateralValue is the market value of the collateral in the quote
	// currency. Zero when no exchange-rate snapshot exists.
	CollateralValue decimal.Decimal
	// LtvRatio is requested principal / collateral value, 0 when the
	// collateral value is not positive. A zero ratio together with a zero
	// collateral value is a match-quality failure for callers, not a cheap
	// loan.
	LtvRatio decimal.Decimal
	// RateSourceTime is the timestamp of the snapshot used, nil when no
	// snapshot was found.
	RateSourceTime *time.Time
}

// Calculator converts collateral deposits into quote-currency valuations.
type Calculator struct {
	store  repository.Store
	logger *zap.Logger
}

// NewCalculator creates a valuation calculator.
func NewCalculator(store repository.Store, logger *zap.Logger) *Calculator {
	return &Calculator{store: store, logger: logger}
}

// ValueCollateral values collateralAmount (smallest units of
// collateralCurrency) in quoteCurrency using the latest bid at or before
// asOf, and derives the LTV for requestedPrincipal. A missing snapshot is
// recoverable: the result carries a zero valuation and the caller decides.
func (c *Calculator) ValueCollateral(ctx context.Context, collateralCurrency, quoteCurrency string, collateralAmount, requestedPrincipal decimal.Decimal, asOf time.Time) (*Result, error) {
	collateralDecimals, err := c.store.GetCurrencyDecimals(ctx, collateralCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collateral currency decimals: %w", err)
	}
	quoteDecimals, err := c.store.GetCurrencyDecimals(ctx, quoteCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve quote currency decimals: %w", err)
	}

	snap, err := c.store.GetLatestExchangeRate(ctx, collateralCurrency, quoteCurrency, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange rate: %w", err)
	}
	if snap == nil {
		c.logger.Warn("no exchange rate snapshot for pair, returning zero valuation",
			zap.String("base", collateralCurrency),
			zap.String("quote", quoteCurrency),
			zap.Time("as_of", asOf))
		return &Result{CollateralValue: decimal.Zero, LtvRatio: decimal.Zero}, nil
	}

	amount := collateralAmount.Shift(int32(-collateralDecimals))
	bid := snap.BidPrice.Shift(int32(-quoteDecimals))
	value := amount.Mul(bid)

	src := snap.SourceTime
	return &Result{
		CollateralValue: value,
		LtvRatio:        ComputeLtv(requestedPrincipal, value),
		RateSourceTime:  &src,
	}, nil
}

// ComputeLtv returns principal divided by collateral value at LtvScale
// precision, or zero when the value is not positive.
func ComputeLtv(principal, collateralValue decimal.Decimal) decimal.Decimal {
	if collateralValue.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return principal.DivRound(collateralValue, LtvScale)
}
