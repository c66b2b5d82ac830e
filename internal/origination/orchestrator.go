// Package origination turns a matched application/offer pair into a loan
// record and drives fund disbursement.
package origination

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/internal/repository"
	"github.com/lendfabric/loanmatch/pkg/metrics"
	"github.com/lendfabric/loanmatch/pkg/models"
)

var twelve = decimal.NewFromInt(12)

// Economics holds the computed financial terms of a loan.
type Economics struct {
	InterestAmount         decimal.Decimal
	ProvisionAmount        decimal.Decimal
	RedeliveryFeeAmount    decimal.Decimal
	LiquidationFeeAmount   decimal.Decimal
	TotalRepaymentAmount   decimal.Decimal
	MinCollateralValuation decimal.Decimal
	MaturesAt              time.Time
}

// ComputeEconomics derives loan economics from the matched terms and the
// platform fee configuration. Interest uses a term/12 year fraction.
func ComputeEconomics(fees *models.PlatformFeeConfig, principal, rate decimal.Decimal, termInMonths int, originatedAt time.Time) Economics {
	termFraction := decimal.NewFromInt(int64(termInMonths)).Div(twelve)
	interest := principal.Mul(rate).Mul(termFraction)
	provision := principal.Mul(fees.ProvisionRate)
	redelivery := principal.Mul(fees.RedeliveryFeeRate)
	liquidationFee := principal.Mul(fees.LiquidationFeeRate)
	total := principal.Add(interest).Add(redelivery)

	// The margin-call floor. A collateral valuation below this triggers the
	// external liquidation monitor.
	minValuation := total.Mul(decimal.NewFromInt(1).Add(fees.LiquidationPremiumRate))

	return Economics{
		InterestAmount:         interest,
		ProvisionAmount:        provision,
		RedeliveryFeeAmount:    redelivery,
		LiquidationFeeAmount:   liquidationFee,
		TotalRepaymentAmount:   total,
		MinCollateralValuation: minValuation,
		MaturesAt:              originatedAt.AddDate(0, termInMonths, 0),
	}
}

// Orchestrator originates and disburses loans for recorded matches.
type Orchestrator struct {
	store  repository.Store
	logger *zap.Logger
}

// NewOrchestrator creates an origination orchestrator.
func NewOrchestrator(store repository.Store, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, logger: logger}
}

// ProcessMatch computes economics, originates the loan and attempts
// disbursement. The pairing stands even when origination fails, and a
// disbursement failure leaves the loan in the originated state for
// out-of-band retry. Matching throughput is deliberately preferred over
// strict pipeline atomicity here, so the method returns the loan (nil when
// origination failed) and never an error.
func (o *Orchestrator) ProcessMatch(ctx context.Context, app *models.LoanApplication, offer *models.LoanOffer, pair *models.MatchedLoanPair, originatedAt time.Time) *models.Loan {
	fees, err := o.store.GetPlatformFeeConfig(ctx)
	if err != nil {
		o.logger.Error("origination skipped, platform fee config unavailable",
			zap.String("pair_id", pair.ID.String()),
			zap.Error(err))
		return nil
	}

	eco := ComputeEconomics(fees, app.RequestedAmount, offer.InterestRate, app.TermInMonths, originatedAt)

	loan := &models.Loan{
		ID:                     uuid.New(),
		MatchedLoanPairID:      pair.ID,
		BorrowerID:             app.BorrowerID,
		LenderID:               offer.LenderID,
		PrincipalCurrency:      app.PrincipalCurrency,
		PrincipalAmount:        app.RequestedAmount,
		InterestRate:           offer.InterestRate,
		InterestAmount:         eco.InterestAmount,
		ProvisionAmount:        eco.ProvisionAmount,
		RedeliveryFeeAmount:    eco.RedeliveryFeeAmount,
		LiquidationFeeAmount:   eco.LiquidationFeeAmount,
		TotalRepaymentAmount:   eco.TotalRepaymentAmount,
		MinCollateralValuation: eco.MinCollateralValuation,
		TermInMonths:           app.TermInMonths,
		Status:                 models.LoanStatusOriginated,
		OriginatedAt:           originatedAt,
		MaturesAt:              eco.MaturesAt,
		CreatedAt:              time.Now().UTC(),
		UpdatedAt:              time.Now().UTC(),
	}

	if err := o.store.OriginateLoan(ctx, loan); err != nil {
		// The match stands. Origination is retried by reconciliation outside
		// the engine.
		o.logger.Error("loan origination failed after successful match",
			zap.String("pair_id", pair.ID.String()),
			zap.String("application_id", app.ID.String()),
			zap.Error(err))
		return nil
	}
	metrics.LoansOriginated.Inc()

	if err := o.store.DisburseLoan(ctx, loan.ID, originatedAt); err != nil {
		// Non-fatal: the loan stays originated and disbursement is retried
		// out-of-band.
		o.logger.Warn("loan disbursement failed, loan remains originated",
			zap.String("loan_id", loan.ID.String()),
			zap.Error(err))
		return loan
	}

	now := originatedAt
	loan.Status = models.LoanStatusDisbursed
	loan.DisbursedAt = &now

	o.logger.Info("loan originated and disbursed",
		zap.String("loan_id", loan.ID.String()),
		zap.String("principal", loan.PrincipalAmount.String()),
		zap.String("total_repayment", loan.TotalRepaymentAmount.String()),
		zap.Time("matures_at", loan.MaturesAt))
	return loan
}
