// Package repository implements the persistence contract consumed by the
// matching and origination pipeline.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendfabric/loanmatch/pkg/models"
)

// Sentinel errors surfaced by match recording. Both are per-application
// conditions: a run that hits one moves on to the next application.
var (
	ErrApplicationAlreadyMatched = errors.New("application already matched")
	ErrOfferUnavailable          = errors.New("offer lacks availability")
	ErrNotFound                  = errors.New("record not found")
)

// RecordMatchParams carries everything needed for the atomic match write.
type RecordMatchParams struct {
	ApplicationID       uuid.UUID
	OfferID             uuid.UUID
	RequestedAmount     decimal.Decimal
	LtvRatio            decimal.Decimal
	CollateralValuation decimal.Decimal
	MatchedAt           time.Time
}

// Store is the read/write contract between the engine and persistence.
type Store interface {
	// ListMatchableApplications returns a page of published, not-yet-matched
	// applications and whether further pages remain.
	ListMatchableApplications(ctx context.Context, page, limit int) ([]*models.LoanApplication, bool, error)

	// GetApplication fetches one application regardless of status.
	GetApplication(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error)

	// ListAvailableOffers returns published offers in the given principal
	// currency with availability remaining and not expired.
	ListAvailableOffers(ctx context.Context, principalCurrency string, limit int) ([]*models.LoanOffer, error)

	// GetOffer fetches one offer regardless of status.
	GetOffer(ctx context.Context, id uuid.UUID) (*models.LoanOffer, error)

	// GetLatestExchangeRate returns the most recent snapshot for the pair at
	// or before the given instant, or (nil, nil) when none exists.
	GetLatestExchangeRate(ctx context.Context, base, quote string, at time.Time) (*models.ExchangeRateSnapshot, error)

	// GetCurrencyDecimals returns the smallest-unit scale for a currency.
	GetCurrencyDecimals(ctx context.Context, currency string) (int, error)

	// GetLenderProfile returns the lender classification record.
	GetLenderProfile(ctx context.Context, lenderID uuid.UUID) (*models.LenderProfile, error)

	// RecordMatch atomically creates the pair, decrements offer availability
	// and transitions the application to matched. Fails with
	// ErrApplicationAlreadyMatched or ErrOfferUnavailable on a lost race.
	RecordMatch(ctx context.Context, params RecordMatchParams) (*models.MatchedLoanPair, error)

	// OriginateLoan persists the originated loan record.
	OriginateLoan(ctx context.Context, loan *models.Loan) error

	// DisburseLoan transitions an originated loan to disbursed.
	DisburseLoan(ctx context.Context, loanID uuid.UUID, at time.Time) error

	// GetPlatformFeeConfig returns the fee configuration currently in effect.
	GetPlatformFeeConfig(ctx context.Context) (*models.PlatformFeeConfig, error)

	// ExpireApplications transitions published applications past their
	// expiry to expired, returning the number swept.
	ExpireApplications(ctx context.Context, now time.Time) (int64, error)
}
