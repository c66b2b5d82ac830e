package matching

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/internal/repository"
	"github.com/lendfabric/loanmatch/internal/valuation"
	"github.com/lendfabric/loanmatch/pkg/models"
)

// Recorder persists one (application, offer) pairing through the store's
// atomic RecordMatch operation. Idempotency lives in the store: a repeated
// or racing attempt surfaces repository.ErrApplicationAlreadyMatched or
// repository.ErrOfferUnavailable, which callers treat as per-application
// failures.
type Recorder struct {
	store  repository.Store
	logger *zap.Logger
}

// NewRecorder creates a match recorder.
func NewRecorder(store repository.Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record writes the pairing with the computed valuation.
func (r *Recorder) Record(ctx context.Context, app *models.LoanApplication, offer *models.LoanOffer, val *valuation.Result, matchedAt time.Time) (*models.MatchedLoanPair, error) {
	pair, err := r.store.RecordMatch(ctx, repository.RecordMatchParams{
		ApplicationID:       app.ID,
		OfferID:             offer.ID,
		RequestedAmount:     app.RequestedAmount,
		LtvRatio:            val.LtvRatio,
		CollateralValuation: val.CollateralValue,
		MatchedAt:           matchedAt,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("loan application matched",
		zap.String("application_id", app.ID.String()),
		zap.String("offer_id", offer.ID.String()),
		zap.String("principal", app.RequestedAmount.String()),
		zap.String("rate", offer.InterestRate.String()),
		zap.String("ltv", val.LtvRatio.String()))
	return pair, nil
}
