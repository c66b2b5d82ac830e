// Package matching pairs published loan applications with published loan
// offers and drives the match pipeline.
package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendfabric/loanmatch/pkg/models"
)

// IncompatibilityReason identifies the first hard rule an (application,
// offer) pair failed.
type IncompatibilityReason string

const (
	ReasonNone                     IncompatibilityReason = ""
	ReasonAmountOutOfRange         IncompatibilityReason = "requested amount outside offer range"
	ReasonInsufficientAvailability IncompatibilityReason = "requested amount exceeds offer availability"
	ReasonTermNotOffered           IncompatibilityReason = "term not in offer term options"
	ReasonInvalidRate              IncompatibilityReason = "offer interest rate not positive"
	ReasonRateAboveCeiling         IncompatibilityReason = "offer rate above borrower ceiling"
	ReasonOfferExpired             IncompatibilityReason = "offer expired"
)

// Evaluator decides hard compatibility of one application against one
// offer. Pure function of its inputs plus the supplied clock instant; rules
// run in a fixed order and short-circuit so diagnostics are deterministic.
type Evaluator struct{}

// Evaluate returns pass/fail plus the first-failing reason.
func (Evaluator) Evaluate(app *models.LoanApplication, offer *models.LoanOffer, now time.Time) (bool, IncompatibilityReason) {
	amount := app.RequestedAmount

	if amount.LessThan(offer.MinLoanAmount) || amount.GreaterThan(offer.MaxLoanAmount) {
		return false, ReasonAmountOutOfRange
	}
	if amount.GreaterThan(offer.AvailableAmount) {
		return false, ReasonInsufficientAvailability
	}
	if len(offer.TermOptions) == 0 || !offer.HasTerm(app.TermInMonths) {
		return false, ReasonTermNotOffered
	}
	if offer.InterestRate.LessThanOrEqual(decimal.Zero) {
		return false, ReasonInvalidRate
	}
	if app.MaxAcceptableRate != nil && offer.InterestRate.GreaterThan(*app.MaxAcceptableRate) {
		return false, ReasonRateAboveCeiling
	}
	if offer.ExpiresAt != nil && offer.ExpiresAt.Before(now) {
		return false, ReasonOfferExpired
	}
	return true, ReasonNone
}
