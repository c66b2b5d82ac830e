package matching

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/lendfabric/loanmatch/internal/repository"
	"github.com/lendfabric/loanmatch/pkg/models"
)

// Ranker orders compatible offers best-first: institutional lenders before
// individuals, then ascending interest rate, ties kept in input order.
//
// Institutional ranking is applied unconditionally, not only when the
// borrower asks for it. That mirrors the platform's observed behavior and
// is preserved as-is; see DESIGN.md.
type Ranker struct {
	store  repository.Store
	logger *zap.Logger
}

// NewRanker creates a preference ranker backed by the lender profile store.
func NewRanker(store repository.Store, logger *zap.Logger) *Ranker {
	return &Ranker{store: store, logger: logger}
}

// Rank returns the offers ordered best-first. Lender classification is
// looked up concurrently, one goroutine per offer; a failed lookup defaults
// the lender to individual and never fails the ranking.
func (r *Ranker) Rank(ctx context.Context, offers []*models.LoanOffer) []*models.LoanOffer {
	if len(offers) <= 1 {
		return offers
	}

	institutional := make([]bool, len(offers))
	var wg sync.WaitGroup
	for i, offer := range offers {
		wg.Add(1)
		go func(i int, offer *models.LoanOffer) {
			defer wg.Done()
			profile, err := r.store.GetLenderProfile(ctx, offer.LenderID)
			if err != nil {
				r.logger.Debug("lender profile lookup failed, defaulting to individual",
					zap.String("lender_id", offer.LenderID.String()),
					zap.Error(err))
				return
			}
			institutional[i] = profile.Institutional()
		}(i, offer)
	}
	wg.Wait()

	type ranked struct {
		offer         *models.LoanOffer
		institutional bool
	}
	items := make([]ranked, len(offers))
	for i, offer := range offers {
		items[i] = ranked{offer: offer, institutional: institutional[i]}
	}

	sort.SliceStable(items, func(a, b int) bool {
		if items[a].institutional != items[b].institutional {
			return items[a].institutional
		}
		return items[a].offer.InterestRate.LessThan(items[b].offer.InterestRate)
	})

	out := make([]*models.LoanOffer, len(items))
	for i, it := range items {
		out[i] = it.offer
	}
	return out
}
