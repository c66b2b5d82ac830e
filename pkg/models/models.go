package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Loan application lifecycle statuses
const (
	ApplicationStatusDraft     = "draft"
	ApplicationStatusPublished = "published"
	ApplicationStatusMatched   = "matched"
	ApplicationStatusCancelled = "cancelled"
	ApplicationStatusExpired   = "expired"
)

// Loan offer lifecycle statuses
const (
	OfferStatusDraft     = "draft"
	OfferStatusPublished = "published"
	OfferStatusExhausted = "exhausted"
	OfferStatusCancelled = "cancelled"
	OfferStatusExpired   = "expired"
)

// Loan lifecycle statuses
const (
	LoanStatusOriginated = "originated"
	LoanStatusDisbursed  = "disbursed"
	LoanStatusRepaid     = "repaid"
	LoanStatusLiquidated = "liquidated"
)

// Lender classifications used for ranking
const (
	LenderTypeIndividual  = "individual"
	LenderTypeInstitution = "institution"
)

// Liquidation mode preferences on an application
const (
	LiquidationModeSellCollateral = "sell_collateral"
	LiquidationModeTopUp          = "top_up"
)

// LoanApplication is a borrower's published request for principal against
// posted collateral. Mutated only by lifecycle transitions (publish, match,
// cancel, expire).
type LoanApplication struct {
	ID                 uuid.UUID `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	BorrowerID         uuid.UUID `json:"borrower_id" gorm:"type:uuid;index" validate:"required,uuid"`
	CollateralCurrency string    `json:"collateral_currency" validate:"required"`
	// CollateralAmount is denominated in the collateral currency's smallest
	// units (integer-valued decimal).
	CollateralAmount  decimal.Decimal  `json:"collateral_amount" gorm:"type:numeric(38,0)" validate:"required"`
	PrincipalCurrency string           `json:"principal_currency" validate:"required"`
	RequestedAmount   decimal.Decimal  `json:"requested_amount" gorm:"type:numeric(38,18)" validate:"required"`
	MaxAcceptableRate *decimal.Decimal `json:"max_acceptable_rate,omitempty" gorm:"type:numeric(10,6)"`
	TermInMonths      int              `json:"term_in_months" validate:"required,gt=0"`
	MinLtvRatio       decimal.Decimal  `json:"min_ltv_ratio" gorm:"type:numeric(10,6)"`
	LiquidationMode   string           `json:"liquidation_mode" validate:"omitempty,oneof=sell_collateral top_up"`
	Status            string           `json:"status" gorm:"index" validate:"required,oneof=draft published matched cancelled expired"`
	AppliedAt         time.Time        `json:"applied_at"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// LoanOffer is a lender's published pool of principal. AvailableAmount is
// monotonically non-increasing and mutated exclusively by match recording.
type LoanOffer struct {
	ID                 uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	LenderID           uuid.UUID       `json:"lender_id" gorm:"type:uuid;index" validate:"required,uuid"`
	PrincipalCurrency  string          `json:"principal_currency" gorm:"index" validate:"required"`
	OfferedAmount      decimal.Decimal `json:"offered_amount" gorm:"type:numeric(38,18)" validate:"required"`
	AvailableAmount    decimal.Decimal `json:"available_amount" gorm:"type:numeric(38,18)" validate:"required"`
	MinLoanAmount      decimal.Decimal `json:"min_loan_amount" gorm:"type:numeric(38,18)" validate:"required"`
	MaxLoanAmount      decimal.Decimal `json:"max_loan_amount" gorm:"type:numeric(38,18)" validate:"required"`
	InterestRate       decimal.Decimal `json:"interest_rate" gorm:"type:numeric(10,6)" validate:"required"`
	TermOptions        TermOptions     `json:"term_options" gorm:"type:text" validate:"required"`
	Status             string          `json:"status" gorm:"index" validate:"required,oneof=draft published exhausted cancelled expired"`
	ExpiresAt          *time.Time      `json:"expires_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// HasTerm reports whether the offer accepts the given loan duration.
func (o *LoanOffer) HasTerm(months int) bool {
	for _, t := range o.TermOptions {
		if t == months {
			return true
		}
	}
	return false
}

// MatchedLoanPair links one application to one offer. Immutable once
// created; at most one pair may exist per application.
type MatchedLoanPair struct {
	ID                  uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	LoanApplicationID   uuid.UUID       `json:"loan_application_id" gorm:"type:uuid;uniqueIndex" validate:"required,uuid"`
	LoanOfferID         uuid.UUID       `json:"loan_offer_id" gorm:"type:uuid;index" validate:"required,uuid"`
	LtvRatio            decimal.Decimal `json:"ltv_ratio" gorm:"type:numeric(10,6)"`
	CollateralValuation decimal.Decimal `json:"collateral_valuation" gorm:"type:numeric(38,18)"`
	MatchedAt           time.Time       `json:"matched_at"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ExchangeRateSnapshot is a point-in-time bid/ask quote for a currency pair,
// priced in the quote currency's smallest units. Read-only input to
// valuation.
type ExchangeRateSnapshot struct {
	ID            uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	BaseCurrency  string          `json:"base_currency" gorm:"index:idx_rate_pair" validate:"required"`
	QuoteCurrency string          `json:"quote_currency" gorm:"index:idx_rate_pair" validate:"required"`
	BidPrice      decimal.Decimal `json:"bid_price" gorm:"type:numeric(38,0)" validate:"required"`
	AskPrice      decimal.Decimal `json:"ask_price" gorm:"type:numeric(38,0)" validate:"required"`
	SourceTime    time.Time       `json:"source_time" gorm:"index"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Currency describes a supported currency and its smallest-unit scale.
type Currency struct {
	Code      string    `json:"code" gorm:"primaryKey" validate:"required"`
	Name      string    `json:"name"`
	Decimals  int       `json:"decimals" validate:"min=0,max=18"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LenderProfile classifies a lender for preference ranking.
type LenderProfile struct {
	LenderID      uuid.UUID `json:"lender_id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	DisplayName   string    `json:"display_name"`
	LenderType    string    `json:"lender_type" validate:"required,oneof=individual institution"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Institutional reports whether the lender is classified as an institution.
func (p *LenderProfile) Institutional() bool {
	return p != nil && p.LenderType == LenderTypeInstitution
}

// Loan is the originated economic record derived from a matched pair. Never
// created without a preceding MatchedLoanPair.
type Loan struct {
	ID                     uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	MatchedLoanPairID      uuid.UUID       `json:"matched_loan_pair_id" gorm:"type:uuid;uniqueIndex" validate:"required,uuid"`
	BorrowerID             uuid.UUID       `json:"borrower_id" gorm:"type:uuid;index" validate:"required,uuid"`
	LenderID               uuid.UUID       `json:"lender_id" gorm:"type:uuid;index" validate:"required,uuid"`
	PrincipalCurrency      string          `json:"principal_currency" validate:"required"`
	PrincipalAmount        decimal.Decimal `json:"principal_amount" gorm:"type:numeric(38,18)" validate:"required"`
	InterestRate           decimal.Decimal `json:"interest_rate" gorm:"type:numeric(10,6)" validate:"required"`
	InterestAmount         decimal.Decimal `json:"interest_amount" gorm:"type:numeric(38,18)"`
	ProvisionAmount        decimal.Decimal `json:"provision_amount" gorm:"type:numeric(38,18)"`
	RedeliveryFeeAmount    decimal.Decimal `json:"redelivery_fee_amount" gorm:"type:numeric(38,18)"`
	LiquidationFeeAmount   decimal.Decimal `json:"liquidation_fee_amount" gorm:"type:numeric(38,18)"`
	TotalRepaymentAmount   decimal.Decimal `json:"total_repayment_amount" gorm:"type:numeric(38,18)"`
	MinCollateralValuation decimal.Decimal `json:"min_collateral_valuation" gorm:"type:numeric(38,18)"`
	TermInMonths           int             `json:"term_in_months" validate:"required,gt=0"`
	Status                 string          `json:"status" gorm:"index" validate:"required,oneof=originated disbursed repaid liquidated"`
	OriginatedAt           time.Time       `json:"originated_at"`
	MaturesAt              time.Time       `json:"matures_at"`
	DisbursedAt            *time.Time      `json:"disbursed_at,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// PlatformFeeConfig holds platform-level fee rates applied when computing
// loan economics.
type PlatformFeeConfig struct {
	ID                     uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	ProvisionRate          decimal.Decimal `json:"provision_rate" gorm:"type:numeric(10,6)"`
	RedeliveryFeeRate      decimal.Decimal `json:"redelivery_fee_rate" gorm:"type:numeric(10,6)"`
	LiquidationPremiumRate decimal.Decimal `json:"liquidation_premium_rate" gorm:"type:numeric(10,6)"`
	LiquidationFeeRate     decimal.Decimal `json:"liquidation_fee_rate" gorm:"type:numeric(10,6)"`
	EffectiveFrom          time.Time       `json:"effective_from" gorm:"index"`
	CreatedAt              time.Time       `json:"created_at"`
}
