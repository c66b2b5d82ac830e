package matching

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendfabric/loanmatch/pkg/models"
)

// RateEpsilon is the tolerance used for fixed-rate equality: rates carry
// rounding artifacts, so exact comparison is wrong.
var RateEpsilon = decimal.NewFromFloat(0.001)

// LenderCriteria are optional lender-supplied soft filters applied before
// the per-pair compatibility pass. All-nil fields mean no filtering.
type LenderCriteria struct {
	AllowedTerms []int            `json:"allowed_terms,omitempty"`
	FixedRate    *decimal.Decimal `json:"fixed_rate,omitempty"`
	MinPrincipal *decimal.Decimal `json:"min_principal,omitempty"`
	MaxPrincipal *decimal.Decimal `json:"max_principal,omitempty"`
}

// Empty reports whether no lender filter is set.
func (c *LenderCriteria) Empty() bool {
	return c == nil || (len(c.AllowedTerms) == 0 && c.FixedRate == nil && c.MinPrincipal == nil && c.MaxPrincipal == nil)
}

// BorrowerCriteria are optional borrower-supplied soft filters.
type BorrowerCriteria struct {
	TermInMonths               *int             `json:"term_in_months,omitempty"`
	PrincipalAmount            *decimal.Decimal `json:"principal_amount,omitempty"`
	MaxRate                    *decimal.Decimal `json:"max_rate,omitempty"`
	PreferInstitutionalLenders bool             `json:"prefer_institutional_lenders,omitempty"`
}

// Empty reports whether no borrower filter is set. The institutional
// preference alone does not make the criteria non-empty for strategy
// selection: it only affects ranking.
func (c *BorrowerCriteria) Empty() bool {
	return c == nil || (c.TermInMonths == nil && c.PrincipalAmount == nil && c.MaxRate == nil)
}

// rateEquals compares two rates within RateEpsilon.
func rateEquals(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(RateEpsilon)
}

// matchesLenderCriteria applies the lender's soft filters to one offer.
func matchesLenderCriteria(offer *models.LoanOffer, c *LenderCriteria) bool {
	if c.Empty() {
		return true
	}
	if len(c.AllowedTerms) > 0 {
		any := false
		for _, t := range c.AllowedTerms {
			if offer.HasTerm(t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if c.FixedRate != nil && !rateEquals(offer.InterestRate, *c.FixedRate) {
		return false
	}
	if c.MinPrincipal != nil && offer.MaxLoanAmount.LessThan(*c.MinPrincipal) {
		return false
	}
	if c.MaxPrincipal != nil && offer.MinLoanAmount.GreaterThan(*c.MaxPrincipal) {
		return false
	}
	return true
}

// matchesBorrowerCriteria applies the borrower's soft filters to one offer.
func matchesBorrowerCriteria(offer *models.LoanOffer, c *BorrowerCriteria) bool {
	if c.Empty() {
		return true
	}
	if c.TermInMonths != nil && !offer.HasTerm(*c.TermInMonths) {
		return false
	}
	if c.PrincipalAmount != nil {
		if c.PrincipalAmount.LessThan(offer.MinLoanAmount) || c.PrincipalAmount.GreaterThan(offer.MaxLoanAmount) {
			return false
		}
	}
	if c.MaxRate != nil && offer.InterestRate.GreaterThan(*c.MaxRate) {
		return false
	}
	return true
}

// Strategy selects the offer lookup behavior for a run. The criteria-driven
// strategy pre-filters the candidate set before the expensive per-pair
// evaluation; the legacy strategy evaluates every candidate.
type Strategy int

const (
	StrategyLegacy Strategy = iota
	StrategyCriteria
)

// SelectStrategy picks the lookup strategy from the presence of criteria.
func SelectStrategy(lc *LenderCriteria, bc *BorrowerCriteria) Strategy {
	if lc.Empty() && bc.Empty() {
		return StrategyLegacy
	}
	return StrategyCriteria
}

// OfferFinder produces the compatible-offer list for one application. Both
// strategies implement the same contract.
type OfferFinder interface {
	FindCompatibleOffers(app *models.LoanApplication, offers []*models.LoanOffer, now time.Time) []*models.LoanOffer
}

// NewOfferFinder builds the finder matching the selected strategy.
func NewOfferFinder(lc *LenderCriteria, bc *BorrowerCriteria) OfferFinder {
	switch SelectStrategy(lc, bc) {
	case StrategyCriteria:
		return &criteriaFinder{lender: lc, borrower: bc}
	default:
		return &legacyFinder{}
	}
}

type legacyFinder struct {
	eval Evaluator
}

func (f *legacyFinder) FindCompatibleOffers(app *models.LoanApplication, offers []*models.LoanOffer, now time.Time) []*models.LoanOffer {
	compatible := make([]*models.LoanOffer, 0, len(offers))
	for _, offer := range offers {
		if ok, _ := f.eval.Evaluate(app, offer, now); ok {
			compatible = append(compatible, offer)
		}
	}
	return compatible
}

type criteriaFinder struct {
	eval     Evaluator
	lender   *LenderCriteria
	borrower *BorrowerCriteria
}

func (f *criteriaFinder) FindCompatibleOffers(app *models.LoanApplication, offers []*models.LoanOffer, now time.Time) []*models.LoanOffer {
	compatible := make([]*models.LoanOffer, 0, len(offers))
	for _, offer := range offers {
		if !matchesLenderCriteria(offer, f.lender) {
			continue
		}
		if !matchesBorrowerCriteria(offer, f.borrower) {
			continue
		}
		if ok, _ := f.eval.Evaluate(app, offer, now); ok {
			compatible = append(compatible, offer)
		}
	}
	return compatible
}
